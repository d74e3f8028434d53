package oracle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client := NewClient(Config{
		BaseURL:     "https://oracle.test/v1",
		APIKey:      "test-key",
		Model:       "test-model",
		Timeout:     5 * time.Second,
		RateLimitMS: 1,
		CacheTTL:    time.Minute,
	})
	t.Cleanup(func() { httpmock.DeactivateAndReset() })
	httpmock.ActivateNonDefault(client.httpClient.StdClient())

	return client
}

// answer builds a chat completions response whose content is the given text.
func answer(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestQueryImageURLHighConfidence(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://oracle.test/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, answer(
				`{"found": true, "url": "https://vendor.example/img/hdc3500.jpg", "confidence": "high", "source": "vendor site"}`))
		})

	candidate := client.QueryImageURL(context.Background(), "Sony", "HDC-3500", "Sony HDC-3500 camera")
	require.NotNil(t, candidate)
	assert.Equal(t, "https://vendor.example/img/hdc3500.jpg", candidate.URL)
	assert.Equal(t, ConfidenceHigh, candidate.Confidence)
	assert.Equal(t, "vendor site", candidate.Source)
}

func TestQueryLowConfidenceYieldsNoCandidate(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://oracle.test/v1/chat/completions",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, answer(
			`{"found": true, "url": "https://somewhere.example/maybe.jpg", "confidence": "low", "source": "forum"}`)))

	candidate := client.QueryImageURL(context.Background(), "Sony", "HDC-3500", "")
	assert.Nil(t, candidate, "Low confidence answers must be discarded")
}

func TestQueryServerErrorIsSoftFailure(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://oracle.test/v1/chat/completions",
		httpmock.NewStringResponder(http.StatusInternalServerError, "upstream exploded"))

	candidate := client.QueryProductPage(context.Background(), "Ross", "Ultrix", "")
	assert.Nil(t, candidate, "Oracle failures must degrade to no candidate")
}

func TestQueryCachesAnswers(t *testing.T) {
	client := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, "https://oracle.test/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewJsonResponse(http.StatusOK, answer(
				`{"found": true, "url": "https://vendor.example/p.jpg", "confidence": "medium", "source": ""}`))
		})

	first := client.QueryImageURL(context.Background(), "Sony", "BVM-E251", "")
	second := client.QueryImageURL(context.Background(), "Sony", "BVM-E251", "")

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, 1, calls, "Second identical query should be served from cache")
}

func TestQueryCachesNegativeAnswers(t *testing.T) {
	client := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, "https://oracle.test/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewJsonResponse(http.StatusOK, answer(
				`{"found": false, "url": null, "confidence": "none", "source": ""}`))
		})

	assert.Nil(t, client.QueryImageURL(context.Background(), "Sony", "XYZ-1", ""))
	assert.Nil(t, client.QueryImageURL(context.Background(), "Sony", "XYZ-1", ""))
	assert.Equal(t, 1, calls, "Negative answers are cached too")
}

func TestQueryKindsUseSeparateCacheEntries(t *testing.T) {
	client := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, "https://oracle.test/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewJsonResponse(http.StatusOK, answer(
				fmt.Sprintf(`{"found": true, "url": "https://vendor.example/%d", "confidence": "high", "source": ""}`, calls)))
		})

	img := client.QueryImageURL(context.Background(), "Sony", "HDC-3500", "")
	page := client.QueryProductPage(context.Background(), "Sony", "HDC-3500", "")

	require.NotNil(t, img)
	require.NotNil(t, page)
	assert.Equal(t, 2, calls, "Different query kinds must not share cache entries")
}

func TestExtractCandidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantURL string
		wantNil bool
	}{
		{
			name:    "bare json",
			content: `{"found": true, "url": "https://a.example/x.jpg", "confidence": "high", "source": "s"}`,
			wantURL: "https://a.example/x.jpg",
		},
		{
			name:    "json wrapped in prose",
			content: "Sure, here is the result:\n```json\n{\"found\": true, \"url\": \"https://a.example/x.jpg\", \"confidence\": \"medium\", \"source\": \"\"}\n```\nLet me know if you need more.",
			wantURL: "https://a.example/x.jpg",
		},
		{
			name:    "confidence casing normalized",
			content: `{"found": true, "url": "https://a.example/x.jpg", "confidence": "HIGH", "source": ""}`,
			wantURL: "https://a.example/x.jpg",
		},
		{
			name:    "not found",
			content: `{"found": false, "url": null, "confidence": "none", "source": ""}`,
			wantNil: true,
		},
		{
			name:    "low confidence",
			content: `{"found": true, "url": "https://a.example/x.jpg", "confidence": "low", "source": ""}`,
			wantNil: true,
		},
		{
			name:    "unknown confidence",
			content: `{"found": true, "url": "https://a.example/x.jpg", "confidence": "absolutely", "source": ""}`,
			wantNil: true,
		},
		{
			name:    "no json at all",
			content: "I could not find anything useful.",
			wantNil: true,
		},
		{
			name:    "malformed json",
			content: `{"found": true, "url": "https://a.example/x.jpg",`,
			wantNil: true,
		},
		{
			name:    "relative url rejected",
			content: `{"found": true, "url": "/images/x.jpg", "confidence": "high", "source": ""}`,
			wantNil: true,
		},
		{
			name:    "non-http scheme rejected",
			content: `{"found": true, "url": "ftp://a.example/x.jpg", "confidence": "high", "source": ""}`,
			wantNil: true,
		},
		{
			name:    "javascript scheme rejected",
			content: `{"found": true, "url": "javascript:alert(1)", "confidence": "high", "source": ""}`,
			wantNil: true,
		},
		{
			name:    "empty url",
			content: `{"found": true, "url": "", "confidence": "high", "source": ""}`,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := extractCandidate(tt.content, testLogger())
			if tt.wantNil {
				assert.Nil(t, candidate)
				return
			}
			require.NotNil(t, candidate)
			assert.Equal(t, tt.wantURL, candidate.URL)
		})
	}
}

func TestConfidenceUsable(t *testing.T) {
	assert.True(t, ConfidenceHigh.Usable())
	assert.True(t, ConfidenceMedium.Usable())
	assert.False(t, ConfidenceLow.Usable())
	assert.False(t, ConfidenceNone.Usable())
}
