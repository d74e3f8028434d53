// Package fetcher downloads product images over plain HTTP. Vendor sites
// frequently reject obvious bots and hotlinking, so requests carry a real
// browser user agent and a same-origin referer, and redirects are followed
// manually with a hop cap.
package fetcher

import (
	"context"
	"io"
	"log"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kmakela/gearbase/internal/conf"
	"github.com/kmakela/gearbase/internal/errors"
	"github.com/kmakela/gearbase/internal/httpclient"
	"github.com/kmakela/gearbase/internal/logging"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "fetcher.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "fetcher", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize fetcher file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "fetcher")
		closeLogger = func() error { return nil }
	}
}

// knownImageExts are the extensions preserved from the source URL or
// Content-Type; anything else falls back to .jpg.
var knownImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Fetcher downloads candidate image URLs to local files.
type Fetcher struct {
	httpClient   *httpclient.Client
	timeout      time.Duration
	maxRedirects int
	minImageSize int64
	userAgent    string
}

// New creates a fetcher from the given settings, falling back to defaults
// for any zero-valued field.
func New(settings *conf.Settings) *Fetcher {
	timeout := 15 * time.Second
	maxRedirects := 5
	minImageSize := int64(1000)
	userAgent := conf.DefaultUserAgent

	if settings != nil {
		if settings.Fetch.Timeout > 0 {
			timeout = settings.Fetch.Timeout
		}
		if settings.Fetch.MaxRedirects > 0 {
			maxRedirects = settings.Fetch.MaxRedirects
		}
		if settings.Fetch.MinImageSize > 0 {
			minImageSize = int64(settings.Fetch.MinImageSize)
		}
		if settings.Fetch.UserAgent != "" {
			userAgent = settings.Fetch.UserAgent
		}
	}

	return &Fetcher{
		httpClient: httpclient.New(&httpclient.Config{
			DefaultTimeout:   timeout,
			DisableRedirects: true, // redirects are walked manually below
		}),
		timeout:      timeout,
		maxRedirects: maxRedirects,
		minImageSize: minImageSize,
		userAgent:    userAgent,
	}
}

// Download fetches rawURL into destDir and returns the absolute path of the
// saved file. On any failure the partially written file is removed before the
// error is returned, so a returned path always names a complete image.
func (f *Fetcher) Download(ctx context.Context, rawURL, destDir string) (string, error) {
	start := time.Now()

	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", errors.Newf("invalid image URL").
			Component("fetcher").
			Category(errors.CategoryValidation).
			Context("url", rawURL).
			Build()
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.New(err).
			Component("fetcher").
			Category(errors.CategoryFileIO).
			Context("operation", "mkdir_dest").
			Context("dest_dir", destDir).
			Build()
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, finalURL, err := f.get(reqCtx, parsed, 0)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debug("Failed to close download body", "error", closeErr)
		}
	}()

	destPath := filepath.Join(destDir, uuid.New().String()+inferExtension(finalURL, resp.Header.Get("Content-Type")))

	out, err := os.Create(destPath)
	if err != nil {
		return "", errors.New(err).
			Component("fetcher").
			Category(errors.CategoryFileIO).
			Context("operation", "create_file").
			FileContext(destPath, 0).
			Build()
	}

	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		f.cleanup(destPath)
		cause := copyErr
		if cause == nil {
			cause = closeErr
		}
		return "", errors.New(cause).
			Component("fetcher").
			Category(errors.CategoryNetwork).
			Context("operation", "write_image").
			Context("url", rawURL).
			Context("bytes_written", written).
			Build()
	}

	// Size gate: tracking pixels and stub error images are worthless, and a
	// tiny body usually means the server served a placeholder, not a product
	// photo.
	if written < f.minImageSize {
		f.cleanup(destPath)
		return "", errors.Newf("downloaded image too small: %d bytes (minimum %d)", written, f.minImageSize).
			Component("fetcher").
			Category(errors.CategoryContentRejected).
			Context("url", rawURL).
			Context("size_bytes", written).
			Build()
	}

	logger.Info("Image downloaded",
		"url", rawURL,
		"path", destPath,
		"size_bytes", written,
		"duration_ms", time.Since(start).Milliseconds())

	return destPath, nil
}

// get performs one request and recurses on 3xx responses up to the hop cap.
func (f *Fetcher) get(ctx context.Context, target *url.URL, hops int) (*http.Response, *url.URL, error) {
	if hops > f.maxRedirects {
		return nil, nil, errors.Newf("too many redirects (limit %d)", f.maxRedirects).
			Component("fetcher").
			Category(errors.CategoryNetwork).
			Context("url", target.String()).
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, nil, errors.New(err).
			Component("fetcher").
			Category(errors.CategoryNetwork).
			Context("operation", "create_request").
			Build()
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	// Same-origin referer defeats most hotlink protection.
	req.Header.Set("Referer", target.Scheme+"://"+target.Host+"/")

	resp, err := f.httpClient.Do(ctx, req)
	if err != nil {
		return nil, nil, errors.New(err).
			Component("fetcher").
			Category(errors.CategoryNetwork).
			NetworkContext(target.String(), f.timeout).
			Build()
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		drainAndClose(resp)
		if location == "" {
			return nil, nil, errors.Newf("redirect status %d without Location header", resp.StatusCode).
				Component("fetcher").
				Category(errors.CategoryNetwork).
				Context("url", target.String()).
				Context("status_code", resp.StatusCode).
				Build()
		}
		next, err := target.Parse(location)
		if err != nil {
			return nil, nil, errors.New(err).
				Component("fetcher").
				Category(errors.CategoryNetwork).
				Context("operation", "parse_redirect").
				Context("location", location).
				Build()
		}
		logger.Debug("Following redirect", "from", target.String(), "to", next.String(), "hop", hops+1)
		return f.get(ctx, next, hops+1)
	}

	// Any 2xx is a terminal success; CDNs answer image requests with 203
	// and range-aware ones with 206.
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		drainAndClose(resp)
		return nil, nil, errors.Newf("unexpected status %d fetching image", resp.StatusCode).
			Component("fetcher").
			Category(errors.CategoryNetwork).
			Context("url", target.String()).
			Context("status_code", resp.StatusCode).
			Build()
	}

	return resp, target, nil
}

// inferExtension picks a file extension from the final URL path, then the
// Content-Type header, defaulting to .jpg.
func inferExtension(finalURL *url.URL, contentType string) string {
	ext := strings.ToLower(path.Ext(finalURL.Path))
	if knownImageExts[ext] {
		return ext
	}

	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mediaType {
			case "image/jpeg":
				return ".jpg"
			case "image/png":
				return ".png"
			case "image/gif":
				return ".gif"
			case "image/webp":
				return ".webp"
			}
		}
	}

	return ".jpg"
}

// cleanup removes a partial download, logging rather than failing on error.
func (f *Fetcher) cleanup(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove partial download", "path", path, "error", err)
	}
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// Close releases the fetcher's resources.
func (f *Fetcher) Close() {
	f.httpClient.Close()

	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing fetcher logger: %v", err)
		}
	}
}
