package generator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"imagerelay/internal/browser"
	"imagerelay/internal/config"
	"imagerelay/internal/history"
	"imagerelay/internal/observability"
	"imagerelay/internal/protocol"
	"imagerelay/internal/reliability"
)

// Engine hands out the shared browser page.
type Engine interface {
	Acquire(ctx context.Context) (browser.Page, error)
}

// Submitter brings the page onto the generation target and puts a prompt on
// it. Prepare must complete before the image baseline is taken.
type Submitter interface {
	Prepare(ctx context.Context, page browser.Page) error
	Submit(ctx context.Context, page browser.Page, req protocol.GenerationRequest) error
}

// Waiter observes the page until the generation reaches a terminal state.
type Waiter interface {
	Baseline(page browser.Page) map[string]struct{}
	Wait(ctx context.Context, page browser.Page, baseline map[string]struct{}) (browser.Completion, error)
}

// Extractor pulls a ready image off the page.
type Extractor interface {
	Extract(ctx context.Context, page browser.Page, imageURL string) (browser.Artifact, error)
}

const (
	retryBackoffBase = 500 * time.Millisecond
	retryBackoffCap  = 5 * time.Second
)

// Orchestrator runs the full submit/wait/extract sequence. A mutex serializes
// generations end to end: the target page can only render one generation at a
// time, so interleaved submissions would corrupt each other's results.
type Orchestrator struct {
	cfg       config.Config
	engine    Engine
	submitter Submitter
	waiter    Waiter
	extractor Extractor

	metrics  *observability.Metrics
	store    history.Store
	notifier *Notifier

	backoffBase time.Duration
	backoffCap  time.Duration

	mu sync.Mutex
}

func NewOrchestrator(cfg config.Config, engine Engine, submitter Submitter, waiter Waiter, extractor Extractor) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		engine:      engine,
		submitter:   submitter,
		waiter:      waiter,
		extractor:   extractor,
		backoffBase: retryBackoffBase,
		backoffCap:  retryBackoffCap,
	}
}

// WithMetrics attaches the Prometheus instruments.
func (o *Orchestrator) WithMetrics(m *observability.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithHistory attaches the generation history store.
func (o *Orchestrator) WithHistory(s history.Store) *Orchestrator {
	o.store = s
	return o
}

// WithNotifier attaches the progress event hub.
func (o *Orchestrator) WithNotifier(n *Notifier) *Orchestrator {
	o.notifier = n
	return o
}

// Generate runs one generation to a terminal Outcome. It never returns an
// error: every failure mode is a Kind.
func (o *Orchestrator) Generate(ctx context.Context, req protocol.GenerationRequest) Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := uuid.NewString()
	start := time.Now()

	if o.metrics != nil {
		o.metrics.GenerationsActive.Inc()
		defer o.metrics.GenerationsActive.Dec()
	}

	out := o.run(ctx, id, req)
	out.ID = id
	out.Elapsed = time.Since(start)

	o.finish(req, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, id string, req protocol.GenerationRequest) Outcome {
	page, err := o.engine.Acquire(ctx)
	if err != nil {
		return Outcome{Kind: KindSessionFailed, Reason: err.Error()}
	}
	o.publish(Event{ID: id, Stage: StageAcquired})

	// Baseline after Prepare: images already on the target thread must be on
	// record before the prompt goes in, or a previous run's output would be
	// reported as this generation's result.
	if err := o.submitter.Prepare(ctx, page); err != nil {
		return o.classifySubmitError(ctx, err)
	}
	baseline := o.waiter.Baseline(page)

	page, baseline, err = o.submitWithRetry(ctx, page, baseline, req)
	if err != nil {
		return o.classifySubmitError(ctx, err)
	}
	o.publish(Event{ID: id, Stage: StageSubmitted})

	o.publish(Event{ID: id, Stage: StagePolling})
	comp, err := o.waiter.Wait(ctx, page, baseline)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: KindCanceled, Reason: ctx.Err().Error()}
		}
		return Outcome{Kind: KindSessionFailed, Reason: err.Error()}
	}

	switch comp.State {
	case browser.StateTimedOut:
		return Outcome{Kind: KindCompletionTimeout, Reason: comp.Reason, Polls: comp.Polls}
	case browser.StateFailed:
		return Outcome{Kind: KindGenerationFailed, Reason: comp.Reason, Polls: comp.Polls}
	}

	// The generation is done on the remote side; finish the download even if
	// the caller just hung up.
	art, err := o.extractor.Extract(context.WithoutCancel(ctx), page, comp.ImageURL)
	if err != nil {
		return Outcome{Kind: KindExtractionFailed, ImageURL: comp.ImageURL, Reason: err.Error(), Polls: comp.Polls}
	}

	return Outcome{
		Kind:     KindSuccess,
		Artifact: art,
		ImageURL: comp.ImageURL,
		Polls:    comp.Polls,
	}
}

func (o *Orchestrator) classifySubmitError(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return Outcome{Kind: KindCanceled, Reason: ctx.Err().Error()}
	}
	if errors.Is(err, browser.ErrSession) {
		return Outcome{Kind: KindSessionFailed, Reason: err.Error()}
	}
	return Outcome{Kind: KindSubmissionFailed, Reason: err.Error()}
}

// submitWithRetry retries transient submission failures with capped backoff
// and reacquires the session when the connection itself died mid-submit. A
// reacquired page is re-prepared and re-baselined: the old snapshot says
// nothing about the fresh page's history.
func (o *Orchestrator) submitWithRetry(ctx context.Context, page browser.Page, baseline map[string]struct{}, req protocol.GenerationRequest) (browser.Page, map[string]struct{}, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			if o.metrics != nil {
				o.metrics.SubmissionRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return page, baseline, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, o.backoffBase, o.backoffCap)):
			}
		}

		lastErr = o.submitter.Submit(ctx, page, req)
		if lastErr == nil {
			return page, baseline, nil
		}
		if ctx.Err() != nil {
			return page, baseline, lastErr
		}
		if reliability.IsConnectionLost(lastErr) {
			fresh, err := o.engine.Acquire(ctx)
			if err != nil {
				return page, baseline, err
			}
			if err := o.submitter.Prepare(ctx, fresh); err != nil {
				return page, baseline, err
			}
			page = fresh
			baseline = o.waiter.Baseline(page)
			continue
		}
		if !reliability.IsTransientPageError(lastErr) {
			return page, baseline, lastErr
		}
	}
	return page, baseline, lastErr
}

func (o *Orchestrator) finish(req protocol.GenerationRequest, out Outcome) {
	if o.metrics != nil {
		o.metrics.ObserveGeneration(string(out.Kind), out.Elapsed)
		if out.Success() {
			o.metrics.ImageBytes.Observe(float64(len(out.Artifact.Bytes)))
		}
	}

	if o.store != nil {
		rec := history.Record{
			ID:        out.ID,
			Prompt:    req.Prompt,
			Outcome:   string(out.Kind),
			MimeType:  out.Artifact.MimeType,
			ImageURL:  out.ImageURL,
			SizeBytes: len(out.Artifact.Bytes),
			ElapsedMS: out.Elapsed.Milliseconds(),
			Reason:    out.Reason,
		}
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.store.Save(saveCtx, rec); err != nil {
			log.Printf("generator: saving history for %s failed: %v", out.ID, err)
		}
	}

	o.publish(Event{
		ID:        out.ID,
		Stage:     StageFinished,
		Kind:      string(out.Kind),
		Reason:    out.Reason,
		ElapsedMS: out.Elapsed.Milliseconds(),
	})

	if !out.Success() {
		log.Printf("generator: %s ended %s after %s: %s", out.ID, out.Kind, out.Elapsed.Round(time.Millisecond), out.Reason)
	}
}

func (o *Orchestrator) publish(ev Event) {
	if o.notifier != nil {
		o.notifier.Publish(ev)
	}
}
