package web

// handlers_common.go holds request parsing shared by the handlers.

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogsync/internal/core"
)

// parseIntParam parses an integer query parameter with a default value.
// Values below 1 fall back to the default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseOptionalInt returns nil when the parameter is absent.
func parseOptionalInt(r *http.Request, name string) (*int, error) {
	val := strings.TrimSpace(r.URL.Query().Get(name))
	if val == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return nil, core.BadRequestf("%s must be an integer", name)
	}
	return &i, nil
}

func parseBoolParam(r *http.Request, name string, defaultVal bool) bool {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// pathID parses a positive int64 route parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, core.BadRequestf("invalid %s %q", name, raw)
	}
	return id, nil
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.BadRequestf("request body exceeds %d bytes", maxBodyBytes)
		}
		return core.BadRequestf("invalid json body: %v", err)
	}
	return nil
}
