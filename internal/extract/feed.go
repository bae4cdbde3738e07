package extract

import (
	"bytes"
	"context"
	"net/url"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"

	"github.com/hackscraper/hackscraper/internal/fetcher"
	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/resilience"
	"github.com/hackscraper/hackscraper/internal/strategy"
)

// FeedAggregator returns the item links of an RSS, Atom or JSON feed.
func FeedAggregator(f fetcher.Fetcher) strategy.Func {
	return func(ctx context.Context, sourceURL string) (model.ExtractionResult, error) {
		page, err := f.Fetch(ctx, sourceURL)
		if err != nil {
			return model.ExtractionResult{}, err
		}
		feed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
		if err != nil {
			// A feed that does not parse today may be a maintenance page.
			return model.ExtractionResult{}, &resilience.TransientError{
				Err:        eris.Wrap(err, "parse feed"),
				StatusCode: page.StatusCode,
				URL:        sourceURL,
			}
		}

		base, _ := url.Parse(sourceURL)
		if feed.Link != "" {
			if b, err := url.Parse(resolve(base, feed.Link)); err == nil && b.Host != "" {
				base = b
			}
		}

		urls := make([]string, 0, len(feed.Items))
		for _, item := range feed.Items {
			link := item.Link
			if link == "" && len(item.Links) > 0 {
				link = item.Links[0]
			}
			urls = append(urls, resolve(base, link))
		}
		return model.ExtractionResult{URLs: dedupe(urls)}, nil
	}
}
