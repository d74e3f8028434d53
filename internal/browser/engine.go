// Package browser captures product images by driving a headless Chrome
// instance. One browser process serves the whole application; each capture
// runs in its own page context so a wedged site cannot poison later work.
package browser

import (
	"context"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/kmakela/gearbase/internal/conf"
	"github.com/kmakela/gearbase/internal/errors"
	"github.com/kmakela/gearbase/internal/logging"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "browser.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "browser", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize browser file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "browser")
		closeLogger = func() error { return nil }
	}
}

// Engine owns the process-wide browser instance. It is created lazily on
// first use and recreated transparently if the browser process dies.
type Engine struct {
	mu       sync.Mutex
	settings conf.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserCtx2 context.CancelFunc
}

var (
	engineOnce sync.Once
	engine     *Engine
)

// GetEngine returns the shared browser engine, creating it on first call.
// The browser process itself is not started until the first capture.
func GetEngine(settings *conf.Settings) *Engine {
	engineOnce.Do(func() {
		cfg := conf.BrowserConfig{}
		if settings != nil {
			cfg = settings.Browser
		}
		engine = &Engine{settings: cfg}
	})
	return engine
}

// page returns a context rooted in a live browser, starting or restarting the
// browser process as needed. The caller must invoke the returned cancel
// function when the page is done.
func (e *Engine) page(ctx context.Context) (context.Context, context.CancelFunc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.alive() {
		if err := e.startLocked(); err != nil {
			return nil, nil, err
		}
	}

	// A fresh tab per capture. chromedp.NewContext on a browser context
	// creates a new target without touching existing ones.
	pageCtx, pageCancel := chromedp.NewContext(e.browserCtx)

	// Bound by the caller's context as well, so bulk cancellation propagates.
	boundCtx, boundCancel := context.WithCancel(pageCtx)
	stop := context.AfterFunc(ctx, boundCancel)

	cancel := func() {
		stop()
		boundCancel()
		pageCancel()
	}
	return boundCtx, cancel, nil
}

// alive reports whether the current browser process is still usable.
// Must be called with mu held.
func (e *Engine) alive() bool {
	if e.browserCtx == nil {
		return false
	}
	select {
	case <-e.browserCtx.Done():
		return false
	default:
		return true
	}
}

// startLocked launches a fresh browser process, tearing down any previous
// one first. Must be called with mu held.
func (e *Engine) startLocked() error {
	e.stopLocked()

	width := e.settings.ViewportWidth
	if width <= 0 {
		width = 1280
	}
	height := e.settings.ViewportHeight
	if height <= 0 {
		height = 800
	}
	userAgent := e.settings.UserAgent
	if userAgent == "" {
		userAgent = conf.DefaultUserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(width, height),
		chromedp.UserAgent(userAgent),
		chromedp.Flag("headless", e.settings.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.NoSandbox,
	)
	if e.settings.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.settings.ExecPath))
	}

	e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	e.browserCtx, e.browserCtx2 = chromedp.NewContext(e.allocCtx)

	// Force the browser process to actually start so failures surface here
	// instead of inside the first navigation.
	if err := chromedp.Run(e.browserCtx); err != nil {
		e.stopLocked()
		return errors.New(err).
			Component("browser").
			Category(errors.CategoryBrowser).
			Context("operation", "start_browser").
			Build()
	}

	logger.Info("Browser process started",
		"headless", e.settings.Headless,
		"viewport_width", width,
		"viewport_height", height)

	return nil
}

// stopLocked tears down the browser process. Must be called with mu held.
func (e *Engine) stopLocked() {
	if e.browserCtx2 != nil {
		e.browserCtx2()
		e.browserCtx2 = nil
		e.browserCtx = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
		e.allocCtx = nil
	}
}

// Close shuts down the browser process if one is running.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	logger.Info("Browser engine closed")

	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing browser logger: %v", err)
		}
	}
}
