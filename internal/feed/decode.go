package feed

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/catalogsync/internal/mapping"
)

// Format names understood by Decode.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var envelopeKeys = []string{"data", "items", "results", "products", "rows", "list"}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// charsetFromContentType extracts the charset parameter, lower-cased.
func charsetFromContentType(ct string) string {
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		for _, part := range strings.Split(ct, ";") {
			part = strings.ToLower(strings.TrimSpace(part))
			if cs, ok := strings.CutPrefix(part, "charset="); ok {
				return strings.Trim(cs, `"' `)
			}
		}
		return ""
	}
	return strings.ToLower(params["charset"])
}

// DecodeText converts a feed body to UTF-8. A byte-order mark wins, then the
// declared charset; undeclared bodies that are not valid UTF-8 are read as
// Windows-1252.
func DecodeText(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}

	if bytes.HasPrefix(body, bomUTF8) || bytes.HasPrefix(body, bomUTF16LE) || bytes.HasPrefix(body, bomUTF16BE) {
		dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
		if out, _, err := transform.Bytes(dec, body); err == nil {
			return string(out)
		}
	}

	if cs := charsetFromContentType(contentType); cs != "" && cs != "utf-8" && cs != "utf8" {
		if enc, err := htmlindex.Get(cs); err == nil {
			if out, _, err := transform.Bytes(enc.NewDecoder(), body); err == nil {
				return string(out)
			}
		}
	}

	if utf8.Valid(body) {
		return string(body)
	}
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "")
	}
	return string(out)
}

// delimiterRune interprets a configured delimiter; "" means comma.
func delimiterRune(d string) (rune, error) {
	switch strings.ToLower(d) {
	case "":
		return ',', nil
	case `\t`, "tab", "\t":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(d)
	if r == utf8.RuneError || size != len(d) {
		return 0, fmt.Errorf("invalid csv delimiter %q", d)
	}
	return r, nil
}

// DecodeCSV parses CSV text whose first record is the header. Header names
// are trimmed and blank ones become col_<n>. Short records are padded with
// "" and surplus cells are joined under "_extra". maxRows <= 0 means all.
// On a parse error the rows read so far are returned with the error.
func DecodeCSV(text, delimiter string, maxRows int) ([]mapping.Row, error) {
	comma, err := delimiterRune(delimiter)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = comma
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	keys := make([]string, len(header))
	for i, h := range header {
		k := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if k == "" {
			k = "col_" + strconv.Itoa(i+1)
		}
		keys[i] = k
	}

	var rows []mapping.Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("csv row %d: %w", len(rows)+1, err)
		}

		row := make(mapping.Row, len(keys)+1)
		for i, k := range keys {
			if i < len(rec) {
				row[k] = rec[i]
			} else {
				row[k] = ""
			}
		}
		if len(rec) > len(keys) {
			row["_extra"] = strings.Join(rec[len(keys):], ",")
		}
		rows = append(rows, row)
		if maxRows > 0 && len(rows) >= maxRows {
			break
		}
	}
	return rows, nil
}

// DecodeJSON extracts object rows from a JSON array, an envelope object
// (data, items, results, products, rows or list), a single object, or
// NDJSON. Non-object elements are skipped and numbers keep their literal text.
func DecodeJSON(text string) []mapping.Row {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err == nil {
		if _, err := dec.Token(); errors.Is(err, io.EOF) {
			switch x := v.(type) {
			case []any:
				return objectRows(x)
			case map[string]any:
				for _, key := range envelopeKeys {
					if list, ok := x[key].([]any); ok {
						return objectRows(list)
					}
				}
				return []mapping.Row{mapping.Row(x)}
			}
		}
	}

	var rows []mapping.Row
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ld := json.NewDecoder(strings.NewReader(line))
		ld.UseNumber()
		var obj map[string]any
		if err := ld.Decode(&obj); err != nil || obj == nil {
			continue
		}
		rows = append(rows, mapping.Row(obj))
	}
	return rows
}

func objectRows(list []any) []mapping.Row {
	rows := make([]mapping.Row, 0, len(list))
	for _, el := range list {
		if obj, ok := el.(map[string]any); ok {
			rows = append(rows, mapping.Row(obj))
		}
	}
	return rows
}

// Decode turns a fetched body into rows according to format.
func Decode(body []byte, contentType, format, delimiter string) ([]mapping.Row, error) {
	text := DecodeText(body, contentType)
	switch strings.ToLower(format) {
	case FormatJSON:
		return DecodeJSON(text), nil
	case FormatCSV, "":
		return DecodeCSV(text, delimiter, 0)
	default:
		return nil, fmt.Errorf("unsupported feed format %q", format)
	}
}

// InferFormat picks json or csv from an explicit hint, the content type,
// or the first non-space byte of the body.
func InferFormat(hint, contentType string, sample []byte) string {
	if hint != "" {
		return strings.ToLower(hint)
	}
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") {
		return FormatJSON
	}
	if strings.Contains(ct, "text/csv") {
		return FormatCSV
	}
	trimmed := bytes.TrimLeft(sample, " \t\r\n")
	trimmed = bytes.TrimPrefix(trimmed, bomUTF8)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatCSV
}
