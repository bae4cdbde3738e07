package scrape

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// CleanText NFC-normalizes s and collapses runs of whitespace to a single
// space. Pages mix decomposed accents and non-breaking spaces freely, and
// the reconciler compares fields byte for byte.
func CleanText(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// Title returns the document's <title>, cleaned.
func Title(doc *goquery.Document) string {
	return CleanText(doc.Find("head title").First().Text())
}

// DocumentText drops non-content elements and returns the visible text of
// the body, one block per line, truncated to maxChars runes (0 = no limit).
func DocumentText(doc *goquery.Document, maxChars int) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, nav, footer, svg, iframe, template").Remove()

	var lines []string
	body.Find("h1, h2, h3, h4, h5, h6, p, li, td, time, address, dt, dd").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are covered by their innermost element.
		if s.Find("p, li, td").Length() > 0 || s.ParentsFiltered("p, li, td, dd").Length() > 0 {
			return
		}
		if line := CleanText(s.Text()); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		if text := CleanText(body.Text()); text != "" {
			lines = append(lines, text)
		}
	}
	return truncateRunes(strings.Join(lines, "\n"), maxChars)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
