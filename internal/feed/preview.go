package feed

import (
	"bytes"
	"context"
	"unicode/utf8"

	"github.com/JonMunkholm/catalogsync/internal/mapping"
)

const (
	maxPreviewBytes   = 256 * 1024
	defaultPreviewMax = 20
	htmlSnippetLen    = 1200
	previewErrorLen   = 300
)

// PreviewRequest is a feed request plus the number of rows to return.
type PreviewRequest struct {
	Request
	MaxRows int `json:"max_rows,omitempty"`
}

// PreviewResult reports what a feed looks like without persisting anything.
type PreviewResult struct {
	OK          bool          `json:"ok"`
	StatusCode  int           `json:"status_code"`
	ContentType string        `json:"content_type,omitempty"`
	BytesRead   int           `json:"bytes_read"`
	PreviewType *string       `json:"preview_type"`
	Rows        []mapping.Row `json:"rows_preview"`
	Error       string        `json:"error,omitempty"`
}

// Preview downloads a feed and decodes its first rows.
func (f *Fetcher) Preview(ctx context.Context, req PreviewRequest) PreviewResult {
	maxRows := req.MaxRows
	if maxRows <= 0 {
		maxRows = defaultPreviewMax
	}

	resp := f.Fetch(ctx, req.Request)
	res := PreviewResult{
		StatusCode:  resp.Status,
		ContentType: resp.ContentType,
		BytesRead:   len(resp.Body),
		Rows:        []mapping.Row{},
	}

	if !resp.OK() {
		msg := resp.Err
		if msg == "" {
			msg = DecodeText(resp.Body, resp.ContentType)
		}
		if msg == "" {
			msg = resp.ErrorText()
		}
		res.Error = truncateRunes(msg, previewErrorLen)
		return res
	}

	sample := resp.Body[:min(len(resp.Body), maxPreviewBytes)]
	text := DecodeText(sample, resp.ContentType)

	if looksLikeHTML(text) {
		res.OK = true
		res.Rows = []mapping.Row{{"html_snippet": truncateRunes(text, htmlSnippetLen)}}
		return res
	}

	format := InferFormat(req.Format, resp.ContentType, sample)
	res.PreviewType = &format
	res.OK = true

	switch format {
	case FormatJSON:
		rows := DecodeJSON(text)
		if len(rows) > maxRows {
			rows = rows[:maxRows]
		}
		res.Rows = rows
	default:
		// The sample may cut the last record; rows decoded before a parse
		// error are still shown.
		rows, err := DecodeCSV(text, req.CSVDelimiter, maxRows)
		if err != nil && len(rows) == 0 {
			res.OK = false
			res.Error = truncateRunes(err.Error(), previewErrorLen)
		}
		if rows != nil {
			res.Rows = rows
		}
	}
	return res
}

func looksLikeHTML(text string) bool {
	head := []byte(text)
	head = bytes.TrimLeft(head, " \t\r\n")
	head = head[:min(len(head), 64)]
	head = bytes.ToLower(head)
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
