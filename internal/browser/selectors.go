package browser

import "strings"

// Selectors groups the CSS selector ladders and URL filters that bind the
// automation to the target surface. Each ladder is tried in order so a single
// frontend class rename does not take the whole service down.
type Selectors struct {
	Input   []string
	Submit  []string
	Loading []string
	Error   []string

	// ImageHosts and ImageExtensions filter <img> sources down to actual
	// generated output, excluding avatars, icons and thumbnails.
	ImageHosts      []string
	ImageExtensions []string
}

// DefaultSelectors matches the perplexity.ai image generation surface as of
// mid 2025.
func DefaultSelectors() Selectors {
	return Selectors{
		Input: []string{
			"#ask-input",
			"div[contenteditable=\"true\"]",
			"textarea[placeholder]",
			"[role=\"textbox\"]",
		},
		Submit: []string{
			"button[data-testid=\"submit-button\"]:not([disabled])",
			"button[aria-label=\"Submit\"]:not([disabled])",
			"button[type=\"submit\"]:not([disabled])",
		},
		Loading: []string{
			".animate-gradient",
			"[class*=\"generating\"]",
			"[class*=\"loading\"]",
		},
		Error: []string{
			"[class*=\"error-message\"]",
			"[role=\"alert\"]",
		},
		ImageHosts: []string{
			"user-gen-media-assets.s3.amazonaws.com",
			"imagedelivery.net",
		},
		ImageExtensions: []string{".png", ".jpg", ".jpeg"},
	}
}

// IsGeneratedImage reports whether an img src looks like generated output
// rather than page chrome. Inline data URIs are always accepted.
func (s Selectors) IsGeneratedImage(src string) bool {
	if strings.HasPrefix(src, "data:image/") {
		return true
	}
	lower := strings.ToLower(src)
	hostOK := false
	for _, h := range s.ImageHosts {
		if strings.Contains(lower, h) {
			hostOK = true
			break
		}
	}
	if !hostOK {
		return false
	}
	for _, ext := range s.ImageExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}
