package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/kmakela/gearbase/internal/errors"
)

// Minimum screenshot sizes per fallback tier. Element shots can legitimately
// be small; container and crop shots cover larger regions so a tiny result
// means the page rendered nothing useful.
const (
	minElementShotBytes   = 5000
	minContainerShotBytes = 10000
	minCropShotBytes      = 10000
)

// Crop region used as the last resort: the area of a product page where the
// hero image almost always sits.
const (
	cropX      = 0
	cropY      = 80
	cropWidth  = 900
	cropHeight = 650
)

// imageCandidate is one <img> found on the page, as reported by the probe
// script.
type imageCandidate struct {
	Selector string  `json:"selector"`
	Src      string  `json:"src"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Index    int     `json:"index"`
}

// CapturePage navigates to pageURL in a fresh tab, verifies the page looks
// like real content, and saves a screenshot of the product image into
// destDir. Three strategies are tried in order: screenshot of the best
// product <img>, screenshot of a product container region, and a fixed-region
// crop of the viewport.
func (e *Engine) CapturePage(ctx context.Context, pageURL, destDir string) (string, error) {
	start := time.Now()

	navTimeout := e.settings.NavTimeout
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	settleDelay := e.settings.SettleDelay
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.New(err).
			Component("browser").
			Category(errors.CategoryFileIO).
			Context("operation", "mkdir_dest").
			Context("dest_dir", destDir).
			Build()
	}

	pageCtx, release, err := e.page(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	navCtx, navCancel := context.WithTimeout(pageCtx, navTimeout)
	defer navCancel()

	navResp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(pageURL))
	if err != nil {
		// Navigation failures can mean the browser process died. Drop it so
		// the next capture starts fresh.
		e.recycleIfDead()
		return "", errors.New(err).
			Component("browser").
			Category(errors.CategoryBrowser).
			Context("operation", "navigate").
			Context("url", pageURL).
			Build()
	}
	if navResp != nil && navResp.Status >= 400 {
		return "", errors.Newf("page returned status %d", navResp.Status).
			Component("browser").
			Category(errors.CategoryContentRejected).
			Context("url", pageURL).
			Context("status_code", navResp.Status).
			Build()
	}

	var title, bodyHTML string
	err = chromedp.Run(navCtx,
		chromedp.Sleep(settleDelay),
		chromedp.Title(&title),
		chromedp.OuterHTML("body", &bodyHTML, chromedp.ByQuery),
	)
	if err != nil {
		e.recycleIfDead()
		return "", errors.New(err).
			Component("browser").
			Category(errors.CategoryBrowser).
			Context("operation", "inspect_page").
			Context("url", pageURL).
			Build()
	}

	if looksLikeErrorPage(title, bodyHTML) {
		return "", errors.Newf("page looks like an error page: %q", title).
			Component("browser").
			Category(errors.CategoryContentRejected).
			Context("url", pageURL).
			Context("title", title).
			Build()
	}

	captureLogger := logger.With("url", pageURL, "title", title)

	shot, strategy := e.captureProductRegion(navCtx, captureLogger)
	if shot == nil {
		return "", errors.Newf("no product image region found on page").
			Component("browser").
			Category(errors.CategoryContentRejected).
			Context("url", pageURL).
			Build()
	}

	destPath := filepath.Join(destDir, uuid.New().String()+".png")
	if err := os.WriteFile(destPath, shot, 0o644); err != nil {
		return "", errors.New(err).
			Component("browser").
			Category(errors.CategoryFileIO).
			FileContext(destPath, int64(len(shot))).
			Build()
	}

	captureLogger.Info("Page captured",
		"strategy", strategy,
		"path", destPath,
		"size_bytes", len(shot),
		"duration_ms", time.Since(start).Milliseconds())

	return destPath, nil
}

// captureProductRegion tries the three capture strategies in order and
// returns the first acceptable screenshot with the strategy name used.
func (e *Engine) captureProductRegion(ctx context.Context, captureLogger *slog.Logger) ([]byte, string) {
	if shot := e.captureBestImage(ctx, captureLogger); shot != nil {
		return shot, "element"
	}
	if shot := e.captureContainer(ctx, captureLogger); shot != nil {
		return shot, "container"
	}
	if shot := e.captureCrop(ctx, captureLogger); shot != nil {
		return shot, "crop"
	}
	return nil, ""
}

// captureBestImage walks the ranked image selectors and screenshots the first
// visible, adequately sized, non-placeholder image that yields a big enough
// shot.
func (e *Engine) captureBestImage(ctx context.Context, captureLogger *slog.Logger) []byte {
	for _, selector := range productImageSelectors {
		candidates := probeImages(ctx, selector)
		for _, cand := range candidates {
			if imageBoxTooSmall(cand.Width, cand.Height) {
				continue
			}
			if isPlaceholderSrc(cand.Src) {
				continue
			}

			var shot []byte
			target := fmt.Sprintf("document.querySelectorAll(%q)[%d]", selector, cand.Index)
			shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := chromedp.Run(shotCtx,
				chromedp.Screenshot(target, &shot, chromedp.ByJSPath),
			)
			cancel()
			if err != nil {
				captureLogger.Debug("Element screenshot failed",
					"selector", target, "error", err)
				continue
			}
			if len(shot) < minElementShotBytes {
				captureLogger.Debug("Element screenshot too small",
					"selector", target, "size_bytes", len(shot))
				continue
			}
			return shot
		}
	}
	return nil
}

// probeImages runs a page script returning metadata for each image matching
// selector, so size and placeholder filters run without a CDP round trip per
// image.
func probeImages(ctx context.Context, selector string) []imageCandidate {
	script := fmt.Sprintf(`
		Array.from(document.querySelectorAll(%q)).map((img, i) => {
			const r = img.getBoundingClientRect();
			return {
				selector: %q,
				src: img.currentSrc || img.src || "",
				width: r.width,
				height: r.height,
				index: i
			};
		}).filter(c => c.width > 0 && c.height > 0)
	`, selector, selector)

	var candidates []imageCandidate
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(probeCtx, chromedp.Evaluate(script, &candidates)); err != nil {
		return nil
	}
	return candidates
}

// captureContainer screenshots the first product container region whose
// rendered bounding box is large enough to hold a product photo. The box
// check runs before the screenshot so collapsed or empty containers are
// skipped without a capture round trip.
func (e *Engine) captureContainer(ctx context.Context, captureLogger *slog.Logger) []byte {
	for _, selector := range productContainerSelectors {
		box, ok := measureBox(ctx, selector)
		if !ok {
			continue
		}
		if containerBoxTooSmall(box.Width, box.Height) {
			captureLogger.Debug("Container region too small",
				"selector", selector, "width", box.Width, "height", box.Height)
			continue
		}

		var shot []byte
		shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := chromedp.Run(shotCtx,
			chromedp.Screenshot(selector, &shot, chromedp.ByQuery),
		)
		cancel()
		if err != nil {
			continue
		}
		if len(shot) < minContainerShotBytes {
			captureLogger.Debug("Container screenshot too small",
				"selector", selector, "size_bytes", len(shot))
			continue
		}
		return shot
	}
	return nil
}

// elementBox is the rendered size of a single element on the page.
type elementBox struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// measureBox returns the bounding box of the first element matching selector,
// or ok=false when the selector matches nothing or the page script fails.
func measureBox(ctx context.Context, selector string) (elementBox, bool) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return {width: r.width, height: r.height};
	})()`, selector)

	var box *elementBox
	measureCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(measureCtx, chromedp.Evaluate(script, &box)); err != nil || box == nil {
		return elementBox{}, false
	}
	return *box, true
}

// captureCrop is the last-resort strategy: capture a fixed viewport region
// where the hero image usually sits.
func (e *Engine) captureCrop(ctx context.Context, captureLogger *slog.Logger) []byte {
	var shot []byte
	shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := chromedp.Run(shotCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			shot, err = page.CaptureScreenshot().
				WithClip(&page.Viewport{
					X:      cropX,
					Y:      cropY,
					Width:  cropWidth,
					Height: cropHeight,
					Scale:  1,
				}).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		captureLogger.Debug("Crop screenshot failed", "error", err)
		return nil
	}
	if len(shot) < minCropShotBytes {
		captureLogger.Debug("Crop screenshot too small", "size_bytes", len(shot))
		return nil
	}
	return shot
}

// recycleIfDead drops the browser context if the process has exited so the
// next capture restarts it.
func (e *Engine) recycleIfDead() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.alive() {
		logger.Warn("Browser process died, will restart on next capture")
		e.stopLocked()
	}
}
