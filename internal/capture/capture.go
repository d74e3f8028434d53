// Package capture orchestrates image acquisition for a single piece of
// equipment: ask the oracle for leads, try a direct download first, fall back
// to a browser screenshot of the product page. The orchestrator absorbs every
// failure into a typed result so callers never handle errors, only outcomes.
package capture

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kmakela/gearbase/internal/errors"
	"github.com/kmakela/gearbase/internal/logging"
	"github.com/kmakela/gearbase/internal/metrics"
	"github.com/kmakela/gearbase/internal/oracle"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "capture.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "capture", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize capture file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "capture")
		closeLogger = func() error { return nil }
	}
}

// Method identifies which strategy produced an image.
type Method string

const (
	MethodDirectDownload Method = "direct_download"
	MethodScreenshot     Method = "screenshot"
)

// Request identifies one piece of equipment to acquire an image for.
type Request struct {
	Manufacturer string
	Model        string
	Name         string
	DestDir      string
}

// Result is the outcome of one acquisition attempt. Success is the single
// source of truth; when it is false ImagePath and Method are empty and
// Reason carries the last strategy error, or a generic note when no
// strategy had a candidate to try.
type Result struct {
	Success   bool
	ImagePath string
	SizeBytes int64
	Method    Method
	SourceURL string
	Reason    string
	Duration  time.Duration
}

// OracleClient is the slice of the oracle the orchestrator needs.
type OracleClient interface {
	QueryImageURL(ctx context.Context, manufacturer, model, name string) *oracle.Candidate
	QueryProductPage(ctx context.Context, manufacturer, model, name string) *oracle.Candidate
}

// Downloader fetches an image URL to a local file.
type Downloader interface {
	Download(ctx context.Context, rawURL, destDir string) (string, error)
}

// PageCapturer screenshots the product image region of a page.
type PageCapturer interface {
	CapturePage(ctx context.Context, pageURL, destDir string) (string, error)
}

// Orchestrator runs the two-strategy acquisition pipeline.
type Orchestrator struct {
	oracle     OracleClient
	downloader Downloader
	capturer   PageCapturer
	metrics    *metrics.AcquisitionMetrics
}

// New creates an orchestrator. metrics may be nil.
func New(oracleClient OracleClient, downloader Downloader, capturer PageCapturer, m *metrics.AcquisitionMetrics) *Orchestrator {
	return &Orchestrator{
		oracle:     oracleClient,
		downloader: downloader,
		capturer:   capturer,
		metrics:    m,
	}
}

// Acquire attempts to obtain an image for the requested equipment. It never
// returns a Go error; every failure mode is reported through the Result.
func (o *Orchestrator) Acquire(ctx context.Context, req Request) Result {
	start := time.Now()
	acquireLogger := logger.With(
		"manufacturer", req.Manufacturer,
		"model", req.Model,
		"name", req.Name)

	acquireLogger.Info("Starting image acquisition")

	var lastErr error

	result, err := o.tryDirectDownload(ctx, req, acquireLogger)
	if result.Success {
		result.Duration = time.Since(start)
		return result
	}
	if err != nil {
		lastErr = err
	}

	result, err = o.tryScreenshot(ctx, req, acquireLogger)
	if result.Success {
		result.Duration = time.Since(start)
		return result
	}
	if err != nil {
		lastErr = err
	}

	acquireLogger.Info("Image acquisition exhausted all strategies")
	reason := "no strategy produced an image"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return Result{
		Success:  false,
		Reason:   reason,
		Duration: time.Since(start),
	}
}

// tryDirectDownload asks the oracle for a direct image URL and downloads it.
// A nil error with Success false means there was no candidate to try; a
// non-nil error is the strategy's failure, surfaced so the caller can report
// it.
func (o *Orchestrator) tryDirectDownload(ctx context.Context, req Request, acquireLogger *slog.Logger) (Result, error) {
	if o.metrics != nil {
		o.metrics.IncrementAttempts(string(MethodDirectDownload))
	}

	candidate := o.oracle.QueryImageURL(ctx, req.Manufacturer, req.Model, req.Name)
	if candidate == nil {
		acquireLogger.Debug("No direct image URL candidate")
		return Result{}, nil
	}
	if o.metrics != nil {
		o.metrics.IncrementOracleQueries(string(candidate.Confidence))
	}

	downloadStart := time.Now()
	path, err := o.downloader.Download(ctx, candidate.URL, req.DestDir)
	if o.metrics != nil {
		o.metrics.ObserveDownloadDuration(time.Since(downloadStart).Seconds())
	}
	if err != nil {
		// Rejected content (tiny files, error pages) is a routine miss, not
		// a telemetry-worthy failure.
		if errors.IsCategory(err, errors.CategoryContentRejected) {
			acquireLogger.Debug("Direct download rejected", "url", candidate.URL, "error", err)
		} else {
			acquireLogger.Warn("Direct download failed", "url", candidate.URL, "error", err)
		}
		return Result{}, err
	}

	if o.metrics != nil {
		o.metrics.IncrementSuccesses(string(MethodDirectDownload))
	}
	acquireLogger.Info("Image acquired via direct download",
		"url", candidate.URL, "path", path, "confidence", string(candidate.Confidence))

	return Result{
		Success:   true,
		ImagePath: path,
		SizeBytes: fileSize(path),
		Method:    MethodDirectDownload,
		SourceURL: candidate.URL,
	}, nil
}

// tryScreenshot asks the oracle for a product page and screenshots it.
func (o *Orchestrator) tryScreenshot(ctx context.Context, req Request, acquireLogger *slog.Logger) (Result, error) {
	if o.metrics != nil {
		o.metrics.IncrementAttempts(string(MethodScreenshot))
	}

	candidate := o.oracle.QueryProductPage(ctx, req.Manufacturer, req.Model, req.Name)
	if candidate == nil {
		acquireLogger.Debug("No product page candidate")
		return Result{}, nil
	}
	if o.metrics != nil {
		o.metrics.IncrementOracleQueries(string(candidate.Confidence))
	}

	captureStart := time.Now()
	path, err := o.capturer.CapturePage(ctx, candidate.URL, req.DestDir)
	if o.metrics != nil {
		o.metrics.ObserveCaptureDuration(time.Since(captureStart).Seconds())
	}
	if err != nil {
		if errors.IsCategory(err, errors.CategoryContentRejected) {
			acquireLogger.Debug("Page capture rejected", "url", candidate.URL, "error", err)
		} else {
			acquireLogger.Warn("Page capture failed", "url", candidate.URL, "error", err)
		}
		return Result{}, err
	}

	if o.metrics != nil {
		o.metrics.IncrementSuccesses(string(MethodScreenshot))
	}
	acquireLogger.Info("Image acquired via screenshot",
		"url", candidate.URL, "path", path, "confidence", string(candidate.Confidence))

	return Result{
		Success:   true,
		ImagePath: path,
		SizeBytes: fileSize(path),
		Method:    MethodScreenshot,
		SourceURL: candidate.URL,
	}, nil
}

// fileSize returns the size of the acquired file, or 0 when it cannot be
// statted. Acquisition already succeeded at this point; size is advisory.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close flushes the orchestrator's logger.
func Close() {
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing capture logger: %v", err)
		}
	}
}
