// Package ingest turns raw sources (plain text files, PDF reports, web
// pages) into Documents ready for the indexing pipeline.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/verdantiq/agrindex/internal/store"
)

const maxFetchSize = 5 << 20 // 5MB

// NewDocument assembles a Document, generating an id when none is given.
func NewDocument(id, userID, text string, docType store.DocumentType, title, countyFIPS, cropType string) store.Document {
	if id == "" {
		id = uuid.New().String()
	}
	return store.Document{
		ID:   id,
		Text: text,
		Metadata: store.Metadata{
			Type:       docType,
			UserID:     userID,
			CountyFIPS: countyFIPS,
			CropType:   cropType,
			Title:      title,
			CreatedAt:  time.Now().UTC(),
		},
	}
}

// FromFile extracts text from a file, dispatching on extension: .pdf via
// the PDF reader, .html/.htm via the HTML stripper, everything else is read
// as plain text.
func FromFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FromPDF(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		return FromHTML(f)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	}
}

// FromPDF extracts the plain text of a PDF file (scanned soil and water
// reports are commonly delivered as PDFs).
func FromPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FromHTML strips markup and returns the visible text, skipping script and
// style contents. Whitespace runs collapse to single spaces.
func FromHTML(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var parts []string
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return strings.Join(parts, " "), nil
			}
			return "", fmt.Errorf("parsing html: %w", z.Err())
		case html.StartTagToken:
			name, _ := z.TagName()
			if isInvisible(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isInvisible(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(z.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func isInvisible(tag string) bool {
	return tag == "script" || tag == "style" || tag == "noscript"
}

// FromURL fetches a web page and returns its visible text. The response is
// capped at 5MB.
func FromURL(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	return FromHTML(io.LimitReader(resp.Body, maxFetchSize))
}
