package mapping

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	wsRe        = regexp.MustCompile(`\s+`)
	nonNumRe    = regexp.MustCompile(`[^0-9.\-]`)
	decimalRe   = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)$`)
	imageSepRe  = regexp.MustCompile(`[,|\s]+`)
	currencySym = []string{"€", "euro", "eur", "usd", "$"}
)

// AsString renders a loosely typed feed value as text. Nil becomes "".
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return string(x)
	case decimal.Decimal:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// CleanText unescapes HTML entities, replaces non-breaking spaces, trims and
// collapses internal whitespace. It returns "" and false when nothing is left.
func CleanText(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	s := html.UnescapeString(AsString(v))
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	s = wsRe.ReplaceAllString(s, " ")
	return s, s != ""
}

// IsEmpty reports whether a mapped value counts as missing: nil, a blank
// string, or an empty list or object.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// normalizeDecimalString strips currency markers and reconciles the decimal
// separator. When both ',' and '.' appear, the rightmost one is the decimal
// separator and the other is a thousands separator.
func normalizeDecimalString(txt string) string {
	s := strings.TrimSpace(strings.ToLower(txt))
	for _, sym := range currencySym {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.NewReplacer(" ", "", "\t", "").Replace(s)

	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	default:
		s = strings.ReplaceAll(s, ",", ".")
	}

	s = nonNumRe.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "--", "-")
}

// ToDecimal parses any feed value as a decimal number using the price
// normalization rules ("1.234,50 €" -> 1234.50).
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	}
	s, ok := CleanText(v)
	if !ok {
		return decimal.Zero, false
	}
	s = normalizeDecimalString(s)
	if !decimalRe.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ToDecimalString returns the clean decimal text of v, keeping the scale
// written in the feed ("10,50" -> "10.50").
func ToDecimalString(v any) (string, bool) {
	d, ok := ToDecimal(v)
	if !ok {
		return "", false
	}
	return FormatDecimal(d), true
}

// FormatDecimal prints d in plain notation with its own scale.
func FormatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// ToInt parses v as an integer. Values with a fractional part are rejected.
func ToInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case bool:
		return 0, false
	}
	d, ok := ToDecimal(v)
	if !ok || !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	return d.IntPart(), true
}

// NormalizeName trims and collapses whitespace in a brand or category name
// and truncates it to max runes.
func NormalizeName(v any, max int) string {
	s, ok := CleanText(v)
	if !ok {
		return ""
	}
	if r := []rune(s); max > 0 && len(r) > max {
		s = strings.TrimSpace(string(r[:max]))
	}
	return s
}

func coerceList(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if e != nil {
				out = append(out, AsString(e))
			}
		}
		return out
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				return coerceList(arr)
			}
		}
		var out []string
		for _, p := range imageSepRe.Split(s, -1) {
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return []string{AsString(x)}
	}
}

// NormalizeImages folds image_urls, images and image_url into a
// de-duplicated image_urls list and sets image_url to its first entry.
func NormalizeImages(row Row) Row {
	out := make(Row, len(row)+2)
	for k, v := range row {
		out[k] = v
	}

	var raw any
	for _, key := range []string{"image_urls", "images", "image_url"} {
		if v := row[key]; !IsEmpty(v) {
			raw = v
			break
		}
	}

	seen := make(map[string]bool)
	var urls []string
	for _, u := range coerceList(raw) {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	if len(urls) == 0 {
		out["image_urls"] = nil
		out["image_url"] = nil
		return out
	}
	out["image_urls"] = urls
	out["image_url"] = urls[0]
	return out
}
