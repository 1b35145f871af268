package core

// convert.go bridges mapped feed values and the pgtype values the query
// layer expects. All To* helpers return Valid=false for empty input so the
// database stores NULL.

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogsync/internal/mapping"
)

// ToPgText trims s and returns NULL when nothing is left.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgInt8 returns NULL for ids <= 0.
func ToPgInt8(id int64) pgtype.Int8 {
	if id <= 0 {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}

// ToPgDecimal renders d as NUMERIC text, keeping its scale.
func ToPgDecimal(d decimal.Decimal) pgtype.Text {
	return pgtype.Text{String: mapping.FormatDecimal(d), Valid: true}
}

// ToPgUUID wraps a uuid.UUID.
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgUUIDToString returns "" for NULL.
func PgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// TextOrNil returns a pointer for JSON output, nil for NULL.
func TextOrNil(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// Int8OrNil returns a pointer for JSON output, nil for NULL.
func Int8OrNil(n pgtype.Int8) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// parseDecimalText parses a NUMERIC text column; NULL or garbage is absent.
func parseDecimalText(t pgtype.Text) (decimal.Decimal, bool) {
	if !t.Valid {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(t.String))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// sameDecimalText compares two NUMERIC texts by value, so "10.5" equals
// "10.50". Two NULLs are equal.
func sameDecimalText(a, b pgtype.Text) bool {
	da, okA := parseDecimalText(a)
	db, okB := parseDecimalText(b)
	if okA != okB {
		return false
	}
	return !okA || da.Equal(db)
}
