// Package oracle queries an external knowledge service for candidate image and
// product-page URLs. The oracle is best-effort and untrusted: every failure
// mode (unreachable service, timeout, malformed answer, low confidence)
// degrades to "no candidate" rather than an error.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/kmakela/gearbase/internal/httpclient"
	"github.com/kmakela/gearbase/internal/logging"
)

// Package-level logger specific to the oracle service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar) // Dynamic level control
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "oracle.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "oracle", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize oracle file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "oracle")
		closeLogger = func() error { return nil }
	}
}

// Client provides methods for querying the knowledge oracle.
type Client struct {
	config     Config
	httpClient *httpclient.Client
	cache      *cache.Cache
	limiter    *rate.Limiter
}

// cachedAnswer wraps a candidate so negative answers are cacheable too.
type cachedAnswer struct {
	candidate *Candidate
}

// NewClient creates a new oracle client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.RateLimitMS == 0 {
		config.RateLimitMS = DefaultConfig().RateLimitMS
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}

	interval := time.Duration(config.RateLimitMS) * time.Millisecond

	client := &Client{
		config: config,
		httpClient: httpclient.New(&httpclient.Config{
			DefaultTimeout: config.Timeout,
			UserAgent:      "gearbase/1.0",
		}),
		cache:   cache.New(config.CacheTTL, config.CacheTTL*2),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}

	logger.Info("Oracle client initialized",
		"base_url", config.BaseURL,
		"model", config.Model,
		"cache_ttl", config.CacheTTL,
		"rate_limit_ms", config.RateLimitMS,
		"api_key_configured", config.APIKey != "")

	return client
}

// QueryImageURL asks the oracle for a direct product-image URL.
// Returns nil when no usable candidate exists; never returns an error.
func (c *Client) QueryImageURL(ctx context.Context, manufacturer, model, name string) *Candidate {
	prompt := fmt.Sprintf(
		"Find a direct URL to a product photo (jpg/png/webp image file) of the broadcast equipment %q model %q (%s). "+
			"Answer with a single JSON object: {\"found\": bool, \"url\": string|null, \"confidence\": \"high\"|\"medium\"|\"low\"|\"none\", \"source\": string}. "+
			"Only report confidence high or medium if you are reasonably sure the URL points at an image of this exact product.",
		manufacturer, model, name)
	return c.query(ctx, QueryImageURL, manufacturer, model, name, prompt)
}

// QueryProductPage asks the oracle for the product's page on the vendor site.
// Returns nil when no usable candidate exists; never returns an error.
func (c *Client) QueryProductPage(ctx context.Context, manufacturer, model, name string) *Candidate {
	prompt := fmt.Sprintf(
		"Find the URL of the official product page for the broadcast equipment %q model %q (%s), "+
			"preferably on the manufacturer's own website. "+
			"Answer with a single JSON object: {\"found\": bool, \"url\": string|null, \"confidence\": \"high\"|\"medium\"|\"low\"|\"none\", \"source\": string}.",
		manufacturer, model, name)
	return c.query(ctx, QueryProductPage, manufacturer, model, name, prompt)
}

// query runs one oracle round trip with caching and rate limiting.
func (c *Client) query(ctx context.Context, kind QueryKind, manufacturer, model, name, prompt string) *Candidate {
	reqID := uuid.New().String()[:8]
	queryLogger := logger.With("request_id", reqID, "kind", string(kind),
		"manufacturer", manufacturer, "model", model)

	cacheKey := fmt.Sprintf("%s:%s|%s|%s", kind, manufacturer, model, name)
	if cached, found := c.cache.Get(cacheKey); found {
		if answer, ok := cached.(cachedAnswer); ok {
			queryLogger.Debug("Oracle answer cache hit", "has_candidate", answer.candidate != nil)
			return answer.candidate
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		queryLogger.Debug("Rate limiter wait aborted", "error", err)
		return nil
	}

	content, err := c.complete(ctx, prompt)
	if err != nil {
		// Soft failure: the oracle being down is "nothing to try", not an error.
		queryLogger.Warn("Oracle query failed, treating as no candidate", "error", err)
		return nil
	}

	candidate := extractCandidate(content, queryLogger)
	c.cache.Set(cacheKey, cachedAnswer{candidate: candidate}, cache.DefaultExpiration)

	if candidate != nil {
		queryLogger.Info("Oracle produced candidate",
			"confidence", string(candidate.Confidence),
			"source", candidate.Source)
	} else {
		queryLogger.Info("Oracle produced no usable candidate")
	}

	return candidate
}

// complete performs one chat completions request and returns the answer text.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a product research assistant for broadcast and video equipment. Answer only with the requested JSON object, no prose."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal oracle request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(reqCtx, req)
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debug("Failed to close oracle response body", "error", closeErr)
		}
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read oracle response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		preview := string(respBytes)
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		return "", fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, preview)
	}

	var envelope chatResponse
	if err := json.Unmarshal(respBytes, &envelope); err != nil {
		return "", fmt.Errorf("failed to parse oracle envelope: %w", err)
	}
	if len(envelope.Choices) == 0 {
		return "", fmt.Errorf("oracle returned no choices")
	}

	return envelope.Choices[0].Message.Content, nil
}

// extractCandidate defensively parses the oracle's untrusted answer text.
// The model sometimes wraps the JSON object in prose or a code fence, so the
// text is sliced from the first '{' to the last '}' before parsing. A guess
// only becomes a candidate when its URL survives strict parsing and its
// confidence tier is high or medium.
func extractCandidate(content string, queryLogger *slog.Logger) *Candidate {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		queryLogger.Debug("Oracle answer contains no JSON object",
			"content_length", len(content))
		return nil
	}

	obj, err := jason.NewObjectFromBytes([]byte(content[start : end+1]))
	if err != nil {
		queryLogger.Debug("Oracle answer failed JSON parsing", "error", err)
		return nil
	}

	if found, err := obj.GetBoolean("found"); err == nil && !found {
		return nil
	}

	rawURL, err := obj.GetString("url")
	if err != nil || rawURL == "" {
		return nil
	}

	// Strict URL validation: a hallucinated or adversarial answer must never
	// be dereferenced as a live network target.
	parsed, err := url.ParseRequestURI(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		queryLogger.Debug("Oracle answer URL rejected by validation", "error", err)
		return nil
	}

	confidence := normalizeConfidence(obj)
	if !confidence.Usable() {
		queryLogger.Debug("Oracle answer below confidence threshold",
			"confidence", string(confidence))
		return nil
	}

	source, _ := obj.GetString("source")

	return &Candidate{
		URL:        parsed.String(),
		Confidence: confidence,
		Source:     source,
	}
}

// normalizeConfidence maps whatever the oracle reported onto a known tier.
func normalizeConfidence(obj *jason.Object) Confidence {
	raw, err := obj.GetString("confidence")
	if err != nil {
		return ConfidenceNone
	}
	switch Confidence(strings.ToLower(strings.TrimSpace(raw))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	case ConfidenceLow:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// ClearCache clears all cached oracle answers.
func (c *Client) ClearCache() {
	c.cache.Flush()
	logger.Info("Oracle answer cache cleared")
}

// Close cleans up client resources.
func (c *Client) Close() {
	c.httpClient.Close()
	logger.Info("Closing oracle client")

	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing oracle logger: %v", err)
		}
	}
}
