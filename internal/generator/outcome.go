// Package generator serializes image generations against the shared browser
// session and reduces every attempt to a single terminal Outcome.
package generator

import (
	"time"

	"imagerelay/internal/browser"
)

// Kind classifies how a generation ended.
type Kind string

const (
	KindSuccess           Kind = "success"
	KindSubmissionFailed  Kind = "submission_failed"
	KindCompletionTimeout Kind = "completion_timeout"
	KindGenerationFailed  Kind = "generation_failed"
	KindExtractionFailed  Kind = "extraction_failed"
	KindSessionFailed     Kind = "session_failed"
	KindCanceled          Kind = "canceled"
)

// Outcome is the terminal result of one generation attempt. Artifact is set
// only for KindSuccess; ImageURL survives extraction failures so callers can
// retry the download themselves.
type Outcome struct {
	ID       string
	Kind     Kind
	Artifact browser.Artifact
	ImageURL string
	Reason   string
	Elapsed  time.Duration
	Polls    int
}

func (o Outcome) Success() bool {
	return o.Kind == KindSuccess
}
