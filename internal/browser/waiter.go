package browser

import (
	"context"
	"time"
)

// State is the terminal state of a completion wait.
type State string

const (
	StateReady    State = "ready"
	StateTimedOut State = "timed_out"
	StateFailed   State = "failed"
)

// Completion describes how a wait ended. ImageURL is set only for StateReady.
type Completion struct {
	State    State
	ImageURL string
	Reason   string
	Elapsed  time.Duration
	Polls    int
}

// quiescencePolls is how many consecutive quiet polls after the loading
// indicator clears count as the page having settled without output.
const quiescencePolls = 5

// Waiter polls the page until a new image appears, the page reports an error,
// the page goes quiet without output, or the wait ceiling is hit.
type Waiter struct {
	sel          Selectors
	ceiling      time.Duration
	pollInterval time.Duration
	gracePeriod  time.Duration
}

func NewWaiter(sel Selectors, ceiling, pollInterval, gracePeriod time.Duration) *Waiter {
	return &Waiter{sel: sel, ceiling: ceiling, pollInterval: pollInterval, gracePeriod: gracePeriod}
}

// Baseline snapshots the image sources already on the page. Taken before
// submit so the wait only counts images that appear afterwards.
func (w *Waiter) Baseline(page Page) map[string]struct{} {
	baseline := make(map[string]struct{})
	srcs, err := page.GeneratedImageSources()
	if err != nil {
		return baseline
	}
	for _, src := range srcs {
		baseline[src] = struct{}{}
	}
	return baseline
}

// Wait runs the polling loop. It returns a terminal Completion for every
// page-level outcome; an error return means the wait itself was torn down
// (context canceled or the page unreachable for the whole window).
func (w *Waiter) Wait(ctx context.Context, page Page, baseline map[string]struct{}) (Completion, error) {
	start := time.Now()
	deadline := start.Add(w.ceiling)

	var (
		polls       int
		candidate   string
		pending     string
		loadingSeen bool
		quietPolls  int
		pollErrs    int
	)

	done := func(state State, imageURL, reason string) Completion {
		return Completion{
			State:    state,
			ImageURL: imageURL,
			Reason:   reason,
			Elapsed:  time.Since(start),
			Polls:    polls,
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		case <-ticker.C:
		}
		polls++

		if time.Now().After(deadline) {
			if candidate != "" {
				// The grid overlay never cleared but an image did land;
				// salvage it rather than discard a finished generation.
				return done(StateReady, candidate, "ceiling reached with image under overlay"), nil
			}
			return done(StateTimedOut, "", "no image within the wait ceiling"), nil
		}

		srcs, err := page.GeneratedImageSources()
		if err != nil {
			pollErrs++
			if pollErrs >= quiescencePolls {
				return Completion{}, err
			}
			continue
		}
		pollErrs = 0

		fresh := ""
		for _, src := range srcs {
			if _, seen := baseline[src]; seen {
				continue
			}
			if w.sel.IsGeneratedImage(src) {
				fresh = src
				break
			}
		}

		loading, _ := page.LoadingIndicatorVisible()

		// A fresh image outranks the error indicator: the page keeps stale
		// error banners around after a retry succeeds.
		if fresh != "" {
			candidate = fresh
			if loading {
				pending = ""
				continue
			}
			if pending == fresh {
				return done(StateReady, fresh, ""), nil
			}
			// Seen once without the overlay; confirm on the next tick so
			// placeholder srcs the frontend swaps out do not count.
			pending = fresh
			continue
		}
		pending = ""

		if errText, err := page.ErrorIndicatorText(); err == nil && errText != "" {
			return done(StateFailed, "", errText), nil
		}

		if loading {
			loadingSeen = true
			quietPolls = 0
			continue
		}
		if loadingSeen && time.Since(start) > w.gracePeriod {
			quietPolls++
			if quietPolls >= quiescencePolls {
				return done(StateFailed, "", "page settled without a new image"), nil
			}
		}
	}
}
