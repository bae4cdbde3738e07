package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hackscraper/hackscraper/internal/fetcher"
	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/strategy"
)

// LinkAggregator returns every link on the page whose href mentions
// "hackathon", resolved against the page URL.
func LinkAggregator(f fetcher.Fetcher) strategy.Func {
	return func(ctx context.Context, sourceURL string) (model.ExtractionResult, error) {
		doc, _, err := fetcher.Document(ctx, f, sourceURL)
		if err != nil {
			return model.ExtractionResult{}, err
		}
		return model.ExtractionResult{URLs: hackathonLinks(doc, sourceURL)}, nil
	}
}

func hackathonLinks(doc *goquery.Document, sourceURL string) []string {
	base, _ := url.Parse(sourceURL)
	// A <base href> changes what relative links resolve against.
	if href, ok := doc.Find("head base[href]").First().Attr("href"); ok {
		if b := resolve(base, href); b != "" {
			base, _ = url.Parse(b)
		}
	}

	var urls []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(strings.ToLower(href), "hackathon") {
			return
		}
		urls = append(urls, resolve(base, href))
	})
	return dedupe(urls)
}
