package extract

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/hackscraper/hackscraper/internal/config"
	"github.com/hackscraper/hackscraper/internal/fetcher"
	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/resilience"
	"github.com/hackscraper/hackscraper/internal/scrape"
	"github.com/hackscraper/hackscraper/internal/strategy"
	"github.com/hackscraper/hackscraper/pkg/anthropic"
)

const llmSystemPrompt = `You read the text of a single hackathon web page and extract the event.
Respond with one JSON object and nothing else:
{"name": string, "description": string, "date": string, "location": string}
- name: the event's name, without the organizer's site name.
- description: one or two sentences on what the event is about.
- date: the event dates as ISO 8601 (YYYY-MM-DD, or "YYYY-MM-DD/YYYY-MM-DD" for a range); empty if unknown.
- location: city and venue, or "Online"; empty if unknown.
Use empty strings for anything the page does not state. Do not guess.`

type llmAnswer struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Location    string `json:"location"`
}

// LLMPage returns two candidates for the page: its Open Graph metadata and
// a reading of the visible text by Claude. Both share the metadata's URL,
// so a fresh page is created from the metadata and the LLM reading becomes
// a suggestion when it disagrees.
func LLMPage(f fetcher.Fetcher, client anthropic.Client, cfg config.AnthropicConfig) strategy.Func {
	log := zap.L().With(zap.String("component", "extract.llm"))
	return func(ctx context.Context, sourceURL string) (model.ExtractionResult, error) {
		doc, _, err := fetcher.Document(ctx, f, sourceURL)
		if err != nil {
			return model.ExtractionResult{}, err
		}
		meta := pageCandidate(doc, sourceURL)
		res := model.ExtractionResult{Candidates: []model.Candidate{meta}}

		text := scrape.DocumentText(doc, cfg.MaxTextChars)
		if text == "" {
			return res, nil
		}

		retry := resilience.DefaultRetryConfig()
		retry.ShouldRetry = anthropic.IsRetryable
		retry.OnRetry = resilience.RetryLogger("extract.llm", sourceURL)
		resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     cfg.Model,
				MaxTokens: cfg.MaxTokens,
				System: []anthropic.SystemBlock{{
					Text:         llmSystemPrompt,
					CacheControl: &anthropic.CacheControl{TTL: "5m"},
				}},
				Messages: []anthropic.Message{{Role: "user", Content: text}},
			})
		})
		if err != nil {
			return model.ExtractionResult{}, &resilience.TransientError{Err: err, URL: "anthropic"}
		}
		resp.Usage.LogCost(cfg.Model, sourceURL)

		var ans llmAnswer
		if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &ans); err != nil {
			// The metadata candidate is still worth reconciling.
			log.Warn("unparsable llm answer", zap.String("url", sourceURL), zap.Error(err))
			return res, nil
		}

		reading := model.Candidate{
			URL: meta.URL,
			Fields: model.Fields{
				Image:       meta.Image,
				Name:        scrape.CleanText(ans.Name),
				Description: scrape.CleanText(ans.Description),
				Date:        scrape.CleanText(ans.Date),
				Location:    scrape.CleanText(ans.Location),
			},
		}
		if reading.Fields != (model.Fields{Image: meta.Image}) {
			res.Candidates = append(res.Candidates, reading)
		}
		return res, nil
	}
}

// cleanJSON extracts a JSON object from text that may contain markdown
// code fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
