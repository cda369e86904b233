package scrape

import (
	"net/http"
	"strings"
)

// BlockType classifies anti-bot interference found in a response. Detection is
// advisory: a blocked page still flows through extraction, it just tends to
// yield nothing and gets picked up by the render fallback.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

var captchaMarkers = []string{"captcha", "recaptcha", "hcaptcha"}

// DetectBlock inspects status, headers and body for signs of anti-bot
// protection and returns the kind found, or BlockNone.
func DetectBlock(statusCode int, header http.Header, body []byte) BlockType {
	// Cloudflare rejections carry cf-* headers on 403/503.
	if statusCode == http.StatusForbidden || statusCode == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-cache-status") != "" ||
			header.Get("server") == "cloudflare" {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		(strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge")) {
		return BlockCloudflare
	}

	for _, marker := range captchaMarkers {
		if strings.Contains(lower, marker) {
			return BlockCaptcha
		}
	}

	// A tiny body that begs for JavaScript is an app shell, not content.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return BlockJSShell
		}
	}

	return BlockNone
}
