// Package scrape holds page-level helpers shared by the fetcher and the
// extraction strategies: bot-wall detection and text cleanup.
package scrape

import (
	"net/http"
	"strings"
)

// BlockType names the wall that stood between the fetcher and the page.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockDataDome   BlockType = "datadome"
	BlockAkamai     BlockType = "akamai"
	BlockCaptcha    BlockType = "captcha"
	BlockRateLimit  BlockType = "rate_limit"
	BlockJSShell    BlockType = "js_shell"
)

// Event listing pages routinely embed a reCAPTCHA on their sign-up form,
// so captcha markers only count on pages small enough to be an interstitial.
const (
	interstitialMaxBytes = 32 << 10
	shellMaxBytes        = 4 << 10
)

type bodyRule struct {
	kind    BlockType
	markers []string // any one matches
	maxSize int      // 0 means any size
}

var bodyRules = []bodyRule{
	{kind: BlockCloudflare, markers: []string{
		"<title>just a moment...</title>",
		"<title>attention required! | cloudflare</title>",
		"cf-browser-verification",
		"/cdn-cgi/challenge-platform/",
	}},
	{kind: BlockDataDome, markers: []string{"captcha-delivery.com", "geo.captcha-delivery"}},
	{kind: BlockCaptcha, maxSize: interstitialMaxBytes, markers: []string{
		"g-recaptcha", "h-captcha", "cf-turnstile", "px-captcha",
		"complete the captcha", "verify you are human", "are you a robot",
	}},
	{kind: BlockJSShell, maxSize: shellMaxBytes, markers: []string{
		"you need to enable javascript to run this app",
		"please enable javascript to continue",
		`http-equiv="refresh"`,
	}},
}

// DetectBlock reports whether resp is a bot wall rather than the event
// page. A challenge page parsed as content would otherwise surface as a
// hackathon named "Just a moment...".
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}
	if kind := blockFromHeaders(resp); kind != BlockNone {
		return true, kind
	}

	lower := strings.ToLower(string(body))
	for _, rule := range bodyRules {
		if rule.maxSize > 0 && len(body) > rule.maxSize {
			continue
		}
		for _, m := range rule.markers {
			if strings.Contains(lower, m) {
				return true, rule.kind
			}
		}
	}
	return false, BlockNone
}

func blockFromHeaders(resp *http.Response) BlockType {
	h := resp.Header
	if h.Get("cf-mitigated") == "challenge" {
		return BlockCloudflare
	}
	if h.Get("x-datadome") != "" || h.Get("x-dd-b") != "" {
		return BlockDataDome
	}

	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusServiceUnavailable:
		if h.Get("cf-ray") != "" || strings.EqualFold(h.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
		if strings.HasPrefix(strings.ToLower(h.Get("server")), "akamaighost") {
			return BlockAkamai
		}
	case http.StatusTooManyRequests:
		if h.Get("cf-ray") != "" {
			return BlockCloudflare
		}
		return BlockRateLimit
	}
	return BlockNone
}
