package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JonMunkholm/catalogsync/internal/metrics"
)

const (
	defaultAccept    = "application/json,text/csv;q=0.9,*/*;q=0.1"
	errorBodyLimit   = 4096
	maxTriggerWait   = 5 * time.Minute
	zipMagic         = "PK\x03\x04"
	contentTypeZip   = "application/zip"
	contentTypeCSV   = "text/csv"
	contentTypeJSON  = "application/json"
	contentTypePlain = "text/plain"
)

// Options configures a Fetcher.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string

	// RatePerSecond limits requests per remote host; 0 disables limiting.
	RatePerSecond float64
	RateBurst     int

	// DeleteAfterFetch removes FTP files once downloaded.
	DeleteAfterFetch bool

	// Client is used for HTTP requests; a default client is built when nil.
	Client *http.Client
}

// Fetcher retrieves feeds. It is safe for concurrent use.
type Fetcher struct {
	opts   Options
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a Fetcher with the given options.
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "genesys/2.0"
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		opts:     opts,
		client:   client,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch downloads a feed, running the optional trigger request first and
// unpacking ZIP archives. It never returns a Go error; see Response.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Response {
	timeout := f.opts.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport := "http"
	if req.IsFTP() {
		transport = "ftp"
	}
	start := time.Now()

	resp := f.fetch(ctx, req)

	metrics.ObserveFetch(transport, resp.Status, len(resp.Body), time.Since(start))
	slog.Debug("feed fetched",
		"transport", transport,
		"status", resp.Status,
		"bytes", len(resp.Body),
		"name", resp.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp
}

func (f *Fetcher) fetch(ctx context.Context, req Request) Response {
	if trigger := req.extraString("trigger_url"); trigger != "" {
		method := strings.ToUpper(req.extraString("trigger_method"))
		if method == "" {
			method = http.MethodGet
		}
		tr := f.doHTTP(ctx, req, method, trigger, false)
		if !tr.OK() {
			return tr
		}
		if wait := req.extraString("trigger_wait_seconds"); wait != "" {
			if secs, err := strconv.ParseFloat(wait, 64); err == nil && secs > 0 {
				d := min(time.Duration(secs*float64(time.Second)), maxTriggerWait)
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return networkError(ctx.Err())
				}
			}
		}
	}

	var resp Response
	if req.IsFTP() {
		resp = f.fetchFTP(ctx, req)
	} else {
		resp = f.doHTTP(ctx, req, http.MethodGet, req.URL, true)
	}
	if !resp.OK() {
		return resp
	}

	if shouldUnzip(req, resp) {
		return unzipResponse(req, resp)
	}
	return resp
}

// wait blocks on the per-host limiter.
func (f *Fetcher) wait(ctx context.Context, host string) error {
	if f.opts.RatePerSecond <= 0 || host == "" {
		return nil
	}
	f.mu.Lock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.opts.RatePerSecond), f.opts.RateBurst)
		f.limiters[host] = lim
	}
	f.mu.Unlock()
	return lim.Wait(ctx)
}

func (f *Fetcher) doHTTP(ctx context.Context, req Request, method, rawURL string, withParams bool) Response {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Response{Status: StatusNetworkError, Err: fmt.Sprintf("invalid feed url %q", rawURL)}
	}
	if withParams && len(req.Params) > 0 {
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	if err := f.wait(ctx, u.Host); err != nil {
		return networkError(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return networkError(err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	f.applyAuth(httpReq, req)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", defaultAccept)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.opts.UserAgent)
	}

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return networkError(err)
	}
	defer httpResp.Body.Close()

	body, err := f.readLimited(httpResp.Body)
	resp := Response{
		Status:      httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        body,
		Name:        path.Base(u.Path),
	}
	if err != nil {
		return Response{Status: StatusNetworkError, ContentType: resp.ContentType, Err: err.Error()}
	}
	if resp.Status >= 400 {
		resp.Err = DecodeText(body[:min(len(body), errorBodyLimit)], resp.ContentType)
	}
	return resp
}

func (f *Fetcher) applyAuth(httpReq *http.Request, req Request) {
	if req.Auth == nil {
		return
	}
	setDefault := func(k, v string) {
		if httpReq.Header.Get(k) == "" {
			httpReq.Header.Set(k, v)
		}
	}

	switch strings.ToLower(req.AuthKind) {
	case "basic":
		user, okUser := req.authString("username", "user")
		pass, okPass := req.authString("password", "pass")
		if okUser && okPass {
			httpReq.SetBasicAuth(user, pass)
		}
	case "bearer":
		if token, ok := req.authString("token", "access_token"); ok {
			setDefault("Authorization", "Bearer "+token)
		}
	case "header", "apikey", "api_key":
		name, okName := req.authString("header", "name")
		value, okValue := req.authString("value", "token")
		if okName && okValue {
			setDefault(name, value)
		}
	case "oauth_password":
		if token, ok := req.authString("access_token"); ok {
			setDefault("Authorization", "Bearer "+token)
		}
	}
}

var errTooLarge = errors.New("feed exceeds max size")

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.opts.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, f.opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, errTooLarge
	}
	return body, nil
}

func networkError(err error) Response {
	return Response{Status: StatusNetworkError, Err: err.Error()}
}

func shouldUnzip(req Request, resp Response) bool {
	if req.extraBool("unzip") {
		return true
	}
	ct, _, _ := mime.ParseMediaType(resp.ContentType)
	if ct == contentTypeZip || ct == "application/x-zip-compressed" {
		return true
	}
	if strings.HasSuffix(strings.ToLower(resp.Name), ".zip") {
		return true
	}
	return bytes.HasPrefix(resp.Body, []byte(zipMagic))
}

// unzipResponse replaces the archive body with the selected entry: the one
// named by extra "zip_entry", else the first entry with a feed extension.
func unzipResponse(req Request, resp Response) Response {
	zr, err := zip.NewReader(bytes.NewReader(resp.Body), int64(len(resp.Body)))
	if err != nil {
		return Response{Status: StatusNetworkError, ContentType: resp.ContentType, Err: "invalid zip archive: " + err.Error()}
	}

	want := req.extraString("zip_entry")
	exts := []string{".csv", ".json", ".ndjson", ".txt"}
	if ext := strings.TrimPrefix(strings.ToLower(req.extraString("ftp_file_ext")), "."); ext != "" && ext != "zip" {
		exts = []string{"." + ext}
	}

	var chosen, first *zip.File
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if first == nil {
			first = zf
		}
		if want != "" {
			if zf.Name == want || path.Base(zf.Name) == want {
				chosen = zf
				break
			}
			continue
		}
		if hasAnySuffix(strings.ToLower(zf.Name), exts) {
			chosen = zf
			break
		}
	}
	if chosen == nil && want == "" {
		chosen = first
	}
	if chosen == nil {
		return Response{Status: http.StatusNotFound, Err: "no matching entry in zip archive"}
	}

	rc, err := chosen.Open()
	if err != nil {
		return Response{Status: StatusNetworkError, Err: "open zip entry: " + err.Error()}
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return Response{Status: StatusNetworkError, Err: "read zip entry: " + err.Error()}
	}

	return Response{
		Status:      resp.Status,
		ContentType: contentTypeFromName(chosen.Name),
		Body:        body,
		Name:        chosen.Name,
	}
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func contentTypeFromName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".ndjson":
		return contentTypeJSON
	case ".csv":
		return contentTypeCSV
	case ".txt":
		return contentTypePlain
	case ".zip":
		return contentTypeZip
	}
	return ""
}
