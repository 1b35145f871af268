package core

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/mapping"
)

func TestSplitPayload(t *testing.T) {
	row := mapping.Row{
		"gtin":        "0123",
		"mpn":         " PN-1 ",
		"brand":       "  acme   tools ",
		"category":    "Tools > Hand",
		"name":        "Claw &amp; Hammer",
		"images":      "https://img/1.jpg, https://img/2.jpg",
		"weight":      "1,5",
		"price":       "12.30",
		"stock":       int64(4),
		"color":       "red",
		"material":    "",
		"description": "Steel",
	}

	p, o, meta := splitPayload(row, 3)

	if p.GTIN != "0123" || p.Partnumber != "PN-1" {
		t.Errorf("identity = %q/%q", p.GTIN, p.Partnumber)
	}
	if p.Name != "Claw & Hammer" {
		t.Errorf("name = %q", p.Name)
	}
	if p.ImageURL != "https://img/1.jpg" || len(p.ImageURLs) != 2 {
		t.Errorf("images = %q %v", p.ImageURL, p.ImageURLs)
	}
	if p.Weight != "1.5" {
		t.Errorf("weight = %q, want 1.5", p.Weight)
	}
	if o.SKU != "PN-1" || o.Price != "12.30" || o.Stock != 4 {
		t.Errorf("offer = %+v", o)
	}
	want := []metaAttr{{Name: "color", Value: "red"}}
	if !reflect.DeepEqual(meta, want) {
		t.Errorf("meta = %+v, want %+v", meta, want)
	}
}

func TestSplitPayload_SKUFallback(t *testing.T) {
	tests := []struct {
		name string
		row  mapping.Row
		want string
	}{
		{"explicit sku", mapping.Row{"sku": "S1", "gtin": "1"}, "S1"},
		{"partnumber", mapping.Row{"partnumber": "P1", "gtin": "1"}, "P1"},
		{"gtin", mapping.Row{"gtin": "1"}, "1"},
		{"row index", mapping.Row{"name": "x"}, "row-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, o, _ := splitPayload(tt.row, 7)
			if o.SKU != tt.want {
				t.Errorf("sku = %q, want %q", o.SKU, tt.want)
			}
		})
	}
}

func TestSplitPayload_BadOfferValues(t *testing.T) {
	_, o, _ := splitPayload(mapping.Row{"gtin": "1", "price": "n/a", "stock": "-3"}, 0)
	if o.Price != "" || o.Stock != 0 {
		t.Errorf("offer = %+v, want empty price and zero stock", o)
	}
}

func TestResolveProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("creates by gtin with supplier margin", func(t *testing.T) {
		store := newFakeStore()
		rp, err := resolveProduct(ctx, store, productPayload{GTIN: "1", Name: "A"}, "0.30")
		if err != nil {
			t.Fatalf("resolveProduct() error = %v", err)
		}
		if !rp.Created || rp.Product.Margin != "0.30" || rp.Product.Name.String != "A" {
			t.Errorf("product = %+v created=%v", rp.Product, rp.Created)
		}
	})

	t.Run("creates by brand and partnumber", func(t *testing.T) {
		store := newFakeStore()
		rp, err := resolveProduct(ctx, store, productPayload{Brand: "Acme", Partnumber: "X-1"}, "0")
		if err != nil {
			t.Fatalf("resolveProduct() error = %v", err)
		}
		brandID := store.st.brands["Acme"]
		if len(store.lockedKeys) != 1 || store.lockedKeys[0] != "bp:"+strconv.FormatInt(brandID, 10)+":X-1" {
			t.Errorf("locked = %v", store.lockedKeys)
		}

		again, err := resolveProduct(ctx, store, productPayload{Brand: "Acme", Partnumber: "X-1", Name: "Later"}, "0")
		if err != nil {
			t.Fatalf("resolveProduct() error = %v", err)
		}
		if again.Created || again.Product.ID != rp.Product.ID {
			t.Errorf("second resolve created a new product")
		}
		if again.Product.Name.String != "Later" {
			t.Errorf("empty name not filled: %+v", again.Product.Name)
		}
	})

	t.Run("fills but never overwrites", func(t *testing.T) {
		store := newFakeStore()
		existing := store.addProduct("1", "0", "")
		existing.Name = ToPgText("Original")
		store.st.products[existing.ID] = existing

		rp, err := resolveProduct(ctx, store, productPayload{GTIN: "1", Name: "New", Description: "Desc"}, "0")
		if err != nil {
			t.Fatalf("resolveProduct() error = %v", err)
		}
		if rp.Product.Name.String != "Original" || rp.Product.Description.String != "Desc" {
			t.Errorf("product = %+v", rp.Product)
		}
		if len(store.lockedKeys) != 0 {
			t.Error("lock taken for an existing product")
		}
	})

	t.Run("no identity", func(t *testing.T) {
		store := newFakeStore()
		_, err := resolveProduct(ctx, store, productPayload{Partnumber: "X"}, "0")
		if !errors.Is(err, errNoProductKey) {
			t.Errorf("error = %v, want errNoProductKey", err)
		}
	})

	t.Run("insert conflict re-reads", func(t *testing.T) {
		store := &racingStore{fakeStore: newFakeStore()}
		rp, err := resolveProduct(ctx, store, productPayload{GTIN: "9"}, "0")
		if err != nil {
			t.Fatalf("resolveProduct() error = %v", err)
		}
		if rp.Created || rp.Product.ID != store.winner.ID {
			t.Errorf("resolved %d created=%v, want the concurrent winner %d", rp.Product.ID, rp.Created, store.winner.ID)
		}
	})
}

// racingStore creates the product from a "concurrent writer" right before
// InsertProduct runs, so the insert hits ON CONFLICT DO NOTHING.
type racingStore struct {
	*fakeStore
	winner database.Product
}

func (r *racingStore) InsertProduct(ctx context.Context, arg database.InsertProductParams) (database.Product, error) {
	r.winner = r.addProduct(arg.Gtin.String, "0", "")
	return database.Product{}, pgx.ErrNoRows
}

func TestMergeMeta(t *testing.T) {
	store := newFakeStore()
	p := store.addProduct("1", "0", "")
	ctx := context.Background()

	n, err := mergeMeta(ctx, store, p.ID, []metaAttr{{"color", "red"}, {"size", "L"}})
	if err != nil || n != 2 {
		t.Fatalf("mergeMeta() = %d, %v; want 2", n, err)
	}
	n, err = mergeMeta(ctx, store, p.ID, []metaAttr{{"color", "blue"}, {"finish", "matte"}})
	if err != nil || n != 1 {
		t.Fatalf("mergeMeta() = %d, %v; want 1", n, err)
	}
	for _, m := range store.st.meta[p.ID] {
		if m.Name == "color" && m.Value != "red" {
			t.Errorf("color overwritten with %q", m.Value)
		}
	}
}

func TestIsLinked(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"shop-1", true},
		{"", false},
	}
	for _, tt := range tests {
		p := database.Product{EcommerceID: ToPgText(tt.id)}
		if got := isLinked(p); got != tt.want {
			t.Errorf("isLinked(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
	blank := database.Product{EcommerceID: pgtype.Text{String: "   ", Valid: true}}
	if isLinked(blank) {
		t.Error("whitespace id should not count as linked")
	}
}
