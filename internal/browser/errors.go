// Package browser drives a Chromium instance over the Playwright protocol to
// submit prompts and harvest generated images. The Manager owns the single
// shared session; Submitter, Waiter and Extractor operate on a Page acquired
// from it.
package browser

import "errors"

var (
	// ErrSession means no usable browser session could be acquired.
	ErrSession = errors.New("browser session unavailable")
	// ErrSubmission means the prompt never reached the target page.
	ErrSubmission = errors.New("prompt submission failed")
	// ErrExtraction means a completed image could not be pulled off the page.
	ErrExtraction = errors.New("image extraction failed")
)
