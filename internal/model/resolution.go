package model

import "time"

// ResolveTier records which fetch tier produced a resolution.
type ResolveTier string

const (
	// TierStatic means the lightweight HTTP fetch found the addresses.
	TierStatic ResolveTier = "static"
	// TierRendered means the headless-browser fallback produced the result.
	TierRendered ResolveTier = "rendered"
	// TierCached means the result was served from the resolution cache.
	TierCached ResolveTier = "cached"
)

// Resolution is the outcome of resolving one URL to its contact emails.
type Resolution struct {
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	FinalURL   string      `json:"final_url"`
	Emails     []string    `json:"emails"`
	Tier       ResolveTier `json:"tier"`
	ResolvedAt time.Time   `json:"resolved_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}
