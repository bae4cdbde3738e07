// Package fetcher downloads pages for extraction strategies.
package fetcher

import (
	"bytes"
	"context"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// Page is a fetched response body.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Fetcher defines the interface for downloading remote pages. Failures are
// returned as *resilience.TransientError so the scheduler can classify them.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Document fetches url and parses it as HTML.
func Document(ctx context.Context, f Fetcher, url string) (*goquery.Document, *Page, error) {
	page, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "fetcher: parse html from %s", url)
	}
	return doc, page, nil
}
