package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hackscraper/hackscraper/internal/fetcher"
	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/scrape"
	"github.com/hackscraper/hackscraper/internal/strategy"
)

// GenericPage reads a single hackathon from a page's Open Graph tags.
func GenericPage(f fetcher.Fetcher) strategy.Func {
	return func(ctx context.Context, sourceURL string) (model.ExtractionResult, error) {
		doc, _, err := fetcher.Document(ctx, f, sourceURL)
		if err != nil {
			return model.ExtractionResult{}, err
		}
		return model.ExtractionResult{Candidates: []model.Candidate{pageCandidate(doc, sourceURL)}}, nil
	}
}

// pageCandidate maps og:image, og:title, og:description, og:url and
// og:site_name onto a candidate. The site name is the closest thing to a
// location most event pages expose.
func pageCandidate(doc *goquery.Document, sourceURL string) model.Candidate {
	base, _ := url.Parse(sourceURL)
	c := model.Candidate{URL: sourceURL}

	var title string
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		prop, ok := s.Attr("property")
		if !ok {
			prop, _ = s.Attr("name")
		}
		content, _ := s.Attr("content")
		content = scrape.CleanText(content)
		if content == "" {
			return
		}
		switch strings.ToLower(prop) {
		case "og:image":
			if img := resolve(base, content); img != "" {
				c.Image = img
			}
		case "og:title":
			title = content
		case "og:description":
			c.Description = content
		case "og:url":
			if u := resolve(base, content); u != "" {
				c.URL = u
			}
		case "og:site_name":
			c.Location = content
		}
	})

	if title == "" {
		title = scrape.Title(doc)
	}
	splitTitle(&c.Fields, title)
	return c
}

// splitTitle handles "Name - tagline" titles: the part before the first
// " - " is the name and the rest becomes the description unless one is
// already known.
func splitTitle(f *model.Fields, title string) {
	title = strings.NewReplacer("–", "-", "—", "-").Replace(title)
	parts := strings.Split(title, " - ")
	f.Name = strings.TrimSpace(parts[0])
	if len(parts) > 1 && f.Description == "" {
		f.Description = strings.TrimSpace(strings.Join(parts[1:], " - "))
	}
}
