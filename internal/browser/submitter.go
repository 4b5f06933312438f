package browser

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"imagerelay/internal/config"
	"imagerelay/internal/protocol"
)

// Submitter puts a prompt into the page and fires it off. It does not wait
// for the generation to finish; that is the Waiter's job.
type Submitter struct {
	cfg config.Config
}

func NewSubmitter(cfg config.Config) *Submitter {
	return &Submitter{cfg: cfg}
}

// Prepare brings the page onto the target thread, navigating if it drifted
// away. It must run before the pre-submit image baseline is taken so the
// baseline reflects the thread actually being driven, not whatever page the
// browser was parked on.
func (s *Submitter) Prepare(ctx context.Context, page Page) error {
	host := targetHost(s.cfg.TargetURL)
	if host != "" && !strings.Contains(page.URL(), host) {
		if err := page.Navigate(ctx, s.cfg.TargetURL); err != nil {
			return fmt.Errorf("%w: %v", ErrSubmission, err)
		}
	}
	if err := page.ScrollToBottom(); err != nil {
		log.Printf("browser: scroll before submit failed: %v", err)
	}
	return nil
}

// Submit enters the prompt and fires it off on an already prepared page. The
// input may not exist yet right after navigation, so entry is retried until
// the input wait window runs out.
func (s *Submitter) Submit(ctx context.Context, page Page, req protocol.GenerationRequest) error {
	if err := s.enterWithRetry(ctx, page, req.Prompt); err != nil {
		return fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	if err := page.ApplyParameters(req.Params); err != nil {
		log.Printf("browser: applying generation parameters failed: %v", err)
	}

	if err := page.SubmitPrompt(); err != nil {
		return fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	return nil
}

func (s *Submitter) enterWithRetry(ctx context.Context, page Page, prompt string) error {
	deadline := time.Now().Add(s.cfg.InputWait)
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = page.EnterPrompt(prompt)
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("prompt input not ready after %s: %w", s.cfg.InputWait, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}
