// Package feed downloads supplier feeds over HTTP(S) or FTP(S) and decodes
// them into loosely typed rows.
//
// Transport failures never surface as Go errors from Fetch: network errors
// and timeouts are reported as status 599 with the error text, so callers can
// record them on a feed run like any other non-2xx response.
package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// StatusNetworkError is the synthetic status for transport-level failures.
const StatusNetworkError = 599

// Request describes where and how to fetch a feed.
type Request struct {
	Kind         string            `json:"kind"`
	Format       string            `json:"format"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	AuthKind     string            `json:"auth_kind,omitempty"`
	Auth         map[string]any    `json:"auth,omitempty"`
	Extra        map[string]any    `json:"extra,omitempty"`
	CSVDelimiter string            `json:"csv_delimiter,omitempty"`

	// Timeout overrides the fetcher default when positive.
	Timeout time.Duration `json:"-"`
}

// Response is the outcome of a fetch.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	// Err holds the transport error or the start of an error response body.
	Err string
	// Name is the resolved resource: the FTP file or ZIP entry actually read.
	Name string
}

// OK reports whether the fetch returned a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ErrorText returns a short description of a failed fetch.
func (r *Response) ErrorText() string {
	if r.Err != "" {
		return r.Err
	}
	return "HTTP " + strconv.Itoa(r.Status)
}

// IsFTP reports whether the request targets an FTP or FTPS server.
func (r *Request) IsFTP() bool {
	switch strings.ToLower(r.Kind) {
	case "ftp", "ftps":
		return true
	}
	u := strings.ToLower(r.URL)
	return strings.HasPrefix(u, "ftp://") || strings.HasPrefix(u, "ftps://")
}

// extra looks a key up in Extra, then in Extra["extra_fields"].
func (r *Request) extra(key string) (any, bool) {
	if r.Extra == nil {
		return nil, false
	}
	if v, ok := r.Extra[key]; ok {
		return v, true
	}
	if nested, ok := r.Extra["extra_fields"].(map[string]any); ok {
		v, ok := nested[key]
		return v, ok
	}
	return nil, false
}

func (r *Request) extraString(key string) string {
	v, ok := r.extra(key)
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(toString(v))
}

func (r *Request) extraBool(key string) bool {
	v, ok := r.extra(key)
	if !ok {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	switch strings.ToLower(strings.TrimSpace(toString(v))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// authString returns the first non-empty auth value among keys.
func (r *Request) authString(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := r.Auth[k]; ok && v != nil {
			if s := toString(v); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
