package oracle

import (
	"time"

	"github.com/kmakela/gearbase/internal/conf"
)

// Confidence is the oracle's self-reported certainty bucket for a guess.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Usable reports whether the confidence tier justifies spending network or
// browser effort on the guess.
func (c Confidence) Usable() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium
}

// Candidate is a URL guess surfaced to the orchestrator. Only high/medium
// confidence guesses ever become candidates.
type Candidate struct {
	URL        string
	Confidence Confidence
	Source     string
}

// QueryKind selects which discovery prompt is sent to the oracle.
type QueryKind string

const (
	// QueryImageURL asks for a direct link to a product photo.
	QueryImageURL QueryKind = "image_url"
	// QueryProductPage asks for the product's page on the vendor site,
	// tuned for page discovery rather than direct image links.
	QueryProductPage QueryKind = "product_page"
)

// Config holds the oracle client configuration.
type Config struct {
	BaseURL     string        // chat completions endpoint base URL
	APIKey      string        // bearer token
	Model       string        // model identifier
	Timeout     time.Duration // per-query timeout
	RateLimitMS int           // minimum milliseconds between queries
	CacheTTL    time.Duration // how long answers are cached
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Timeout:     20 * time.Second,
		RateLimitMS: 500,
		CacheTTL:    1 * time.Hour,
	}
}

// ConfigFromSettings builds a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}
	if settings.Oracle.BaseURL != "" {
		cfg.BaseURL = settings.Oracle.BaseURL
	}
	cfg.APIKey = settings.Oracle.APIKey
	if settings.Oracle.Model != "" {
		cfg.Model = settings.Oracle.Model
	}
	if settings.Oracle.Timeout > 0 {
		cfg.Timeout = settings.Oracle.Timeout
	}
	if settings.Oracle.RateLimitMS > 0 {
		cfg.RateLimitMS = settings.Oracle.RateLimitMS
	}
	if settings.Oracle.CacheTTL > 0 {
		cfg.CacheTTL = settings.Oracle.CacheTTL
	}
	return cfg
}

// chatRequest is the wire format of a chat completions query.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the trusted envelope of the oracle service; only the answer
// text inside it is treated as untrusted.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
