// Package extract holds the concrete extraction strategies and assembles
// the production strategy table.
package extract

import (
	"net/url"
	"strings"

	"github.com/hackscraper/hackscraper/internal/config"
	"github.com/hackscraper/hackscraper/internal/fetcher"
	"github.com/hackscraper/hackscraper/internal/strategy"
	"github.com/hackscraper/hackscraper/pkg/anthropic"
)

// Strategy ids registered by DefaultTable.
const (
	GenericID = "generic"
	LLMID     = "llm"
	FeedID    = "feed"
)

// Deps carries what the strategies need. LLM may be nil, in which case
// the llm strategy is not registered.
type Deps struct {
	Fetcher   fetcher.Fetcher
	LLM       anthropic.Client
	Anthropic config.AnthropicConfig
}

// DefaultTable builds the strategy table used by the CLI and the daemon.
func DefaultTable(deps Deps) (*strategy.Table, error) {
	entries := []strategy.Entry{
		strategy.Direct(GenericID, "Open Graph metadata with <title> fallback", GenericPage(deps.Fetcher)),
		strategy.Aggregator(GenericID, "links whose href mentions hackathon", LinkAggregator(deps.Fetcher)),
		strategy.Aggregator(FeedID, "RSS/Atom item links", FeedAggregator(deps.Fetcher)),
	}
	if deps.LLM != nil {
		entries = append(entries,
			strategy.Direct(LLMID, "page metadata plus an LLM reading of the page text", LLMPage(deps.Fetcher, deps.LLM, deps.Anthropic)))
	}
	return strategy.NewTable(entries...)
}

// resolve turns href into an absolute http(s) URL relative to base.
// Anything else (mailto:, javascript:, unparsable) yields "".
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

// dedupe drops repeated URLs, keeping first-seen order.
func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
