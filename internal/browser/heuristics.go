package browser

import (
	"strings"

	"github.com/k3a/html2text"
)

// errorTitlePhrases mark a page as an error page when they appear in the
// document title. Checked case-insensitively.
var errorTitlePhrases = []string{
	"404",
	"not found",
	"page not found",
	"error",
	"forbidden",
	"access denied",
	"ERR_NAME_NOT_RESOLVED",
	"ERR_CONNECTION",
	"this site can't be reached",
}

// errorBodyPhrases mark a page as an error page when they appear near the top
// of the visible body text. Kept separate from title phrases because vendor
// pages legitimately mention "error" deep in footer legalese.
var errorBodyPhrases = []string{
	"page not found",
	"404 not found",
	"the page you requested",
	"the requested url was not found",
	"access denied",
	"checking your browser",
	"verify you are a human",
	"enable javascript and cookies",
}

// productImageSelectors is the ranked list of CSS selectors tried when
// looking for the main product image. Vendor-generic selectors first,
// progressively looser ones after.
var productImageSelectors = []string{
	`img[itemprop="image"]`,
	`.product-image img`,
	`.product-photo img`,
	`.product-media img`,
	`.product-gallery img`,
	`.gallery-image img`,
	`.main-image img`,
	`#product-image img`,
	`.woocommerce-product-gallery__image img`,
	`[class*="ProductImage"] img`,
	`[class*="product-image"] img`,
	`main img`,
	`article img`,
}

// productContainerSelectors is the ranked list tried when no individual image
// qualifies and a wider product region must be screenshotted instead.
var productContainerSelectors = []string{
	`.product-image`,
	`.product-photo`,
	`.product-media`,
	`.product-gallery`,
	`[class*="ProductGallery"]`,
	`.product-detail`,
	`.product-main`,
	`main`,
}

// placeholderSrcPatterns reject images whose src marks them as chrome rather
// than product content.
var placeholderSrcPatterns = []string{
	"placeholder",
	"spacer",
	"blank.",
	"pixel.",
	"loading.",
	"logo",
	"icon",
	"sprite",
	"data:image/svg",
	"1x1",
}

// bodyTextProbeLimit bounds how much flattened body text the error-page
// heuristic inspects. Error messages live at the top of the page.
const bodyTextProbeLimit = 2000

// Minimum rendered bounding-box dimensions, in CSS pixels, before an element
// is worth screenshotting. Containers get a higher bar than single images
// because a collapsed or empty container still encodes to a valid PNG of
// non-trivial byte size.
const (
	minImageBoxDim        = 100
	minContainerBoxWidth  = 300
	minContainerBoxHeight = 200
)

// imageBoxTooSmall rejects individual images whose rendered box is below the
// thumbnail threshold in either dimension.
func imageBoxTooSmall(width, height float64) bool {
	return width < minImageBoxDim || height < minImageBoxDim
}

// containerBoxTooSmall rejects container regions too small to hold a usable
// product photo.
func containerBoxTooSmall(width, height float64) bool {
	return width < minContainerBoxWidth || height < minContainerBoxHeight
}

// looksLikeErrorPage reports whether the page title or the leading body text
// reads like an error or bot-wall page rather than real content.
func looksLikeErrorPage(title, bodyHTML string) bool {
	lowerTitle := strings.ToLower(title)
	for _, phrase := range errorTitlePhrases {
		if strings.Contains(lowerTitle, strings.ToLower(phrase)) {
			return true
		}
	}

	text := html2text.HTML2Text(bodyHTML)
	if len(text) > bodyTextProbeLimit {
		text = text[:bodyTextProbeLimit]
	}
	lowerText := strings.ToLower(text)
	for _, phrase := range errorBodyPhrases {
		if strings.Contains(lowerText, phrase) {
			return true
		}
	}

	return false
}

// isPlaceholderSrc reports whether an image src looks like a spacer, icon, or
// lazy-load placeholder instead of a product photo.
func isPlaceholderSrc(src string) bool {
	lower := strings.ToLower(src)
	for _, pattern := range placeholderSrcPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
