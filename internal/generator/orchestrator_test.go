package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imagerelay/internal/browser"
	"imagerelay/internal/config"
	"imagerelay/internal/history"
	"imagerelay/internal/protocol"
)

// stubPage satisfies browser.Page; the orchestrator never touches the page
// directly, so every method is inert.
type stubPage struct{ name string }

func (stubPage) URL() string                                         { return "" }
func (stubPage) Navigate(context.Context, string) error              { return nil }
func (stubPage) ScrollToBottom() error                               { return nil }
func (stubPage) EnterPrompt(string) error                            { return nil }
func (stubPage) ApplyParameters(protocol.GenerationParams) error     { return nil }
func (stubPage) SubmitPrompt() error                                 { return nil }
func (stubPage) GeneratedImageSources() ([]string, error)            { return nil, nil }
func (stubPage) LoadingIndicatorVisible() (bool, error)              { return false, nil }
func (stubPage) ErrorIndicatorText() (string, error)                 { return "", nil }
func (stubPage) FetchImage(context.Context, string) ([]byte, string, int, error) {
	return nil, "", 0, nil
}

type stubEngine struct {
	acquires int32
	err      error
}

func (e *stubEngine) Acquire(context.Context) (browser.Page, error) {
	n := atomic.AddInt32(&e.acquires, 1)
	if e.err != nil {
		return nil, e.err
	}
	return stubPage{name: string(rune('a' + n))}, nil
}

type stubSubmitter struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	prepares int
	inFlight int32
	maxSeen  int32
}

func (s *stubSubmitter) Prepare(context.Context, browser.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepares++
	return nil
}

func (s *stubSubmitter) Submit(context.Context, browser.Page, protocol.GenerationRequest) error {
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&s.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&s.maxSeen, prev, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

type stubWaiter struct {
	comp browser.Completion
	err  error
}

func (stubWaiter) Baseline(browser.Page) map[string]struct{} { return map[string]struct{}{} }
func (w stubWaiter) Wait(context.Context, browser.Page, map[string]struct{}) (browser.Completion, error) {
	return w.comp, w.err
}

type stubExtractor struct {
	art browser.Artifact
	err error
}

func (e stubExtractor) Extract(context.Context, browser.Page, string) (browser.Artifact, error) {
	return e.art, e.err
}

func readyWaiter(url string) stubWaiter {
	return stubWaiter{comp: browser.Completion{State: browser.StateReady, ImageURL: url, Polls: 7}}
}

func testOrchestrator(engine Engine, sub Submitter, w Waiter, ex Extractor, retries int) *Orchestrator {
	cfg := config.Config{SubmitRetries: retries}
	o := NewOrchestrator(cfg, engine, sub, w, ex)
	o.backoffBase = time.Millisecond
	o.backoffCap = 2 * time.Millisecond
	return o
}

func TestGenerateSuccess(t *testing.T) {
	art := browser.Artifact{Bytes: []byte("img"), MimeType: "image/png", SourceURL: "https://cdn/x.png"}
	o := testOrchestrator(&stubEngine{}, &stubSubmitter{}, readyWaiter("https://cdn/x.png"), stubExtractor{art: art}, 0)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "a cat"})
	if out.Kind != KindSuccess {
		t.Fatalf("Kind = %v, want %v (reason %q)", out.Kind, KindSuccess, out.Reason)
	}
	if out.ID == "" {
		t.Fatalf("ID not assigned")
	}
	if string(out.Artifact.Bytes) != "img" {
		t.Fatalf("Artifact.Bytes = %q", out.Artifact.Bytes)
	}
	if out.ImageURL != "https://cdn/x.png" {
		t.Fatalf("ImageURL = %q", out.ImageURL)
	}
	if out.Polls != 7 {
		t.Fatalf("Polls = %d, want 7", out.Polls)
	}
}

func TestGenerateRetriesTransientSubmission(t *testing.T) {
	sub := &stubSubmitter{errs: []error{
		errors.New("element is not attached"),
		errors.New("timeout waiting for input"),
	}}
	o := testOrchestrator(&stubEngine{}, sub, readyWaiter("u"), stubExtractor{}, 2)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindSuccess {
		t.Fatalf("Kind = %v, want success after retries (reason %q)", out.Kind, out.Reason)
	}
	if sub.calls != 3 {
		t.Fatalf("submit calls = %d, want 3", sub.calls)
	}
}

func TestGenerateSubmissionFailedAfterRetries(t *testing.T) {
	sub := &stubSubmitter{errs: []error{
		errors.New("timeout"), errors.New("timeout"),
	}}
	o := testOrchestrator(&stubEngine{}, sub, readyWaiter("u"), stubExtractor{}, 1)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindSubmissionFailed {
		t.Fatalf("Kind = %v, want %v", out.Kind, KindSubmissionFailed)
	}
	if sub.calls != 2 {
		t.Fatalf("submit calls = %d, want 2", sub.calls)
	}
}

func TestGenerateDoesNotRetryPermanentSubmitError(t *testing.T) {
	sub := &stubSubmitter{errs: []error{errors.New("no visible prompt input on page")}}
	o := testOrchestrator(&stubEngine{}, sub, readyWaiter("u"), stubExtractor{}, 3)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindSubmissionFailed {
		t.Fatalf("Kind = %v, want %v", out.Kind, KindSubmissionFailed)
	}
	if sub.calls != 1 {
		t.Fatalf("submit calls = %d, want 1 for a permanent error", sub.calls)
	}
}

func TestGenerateReacquiresOnLostConnection(t *testing.T) {
	engine := &stubEngine{}
	sub := &stubSubmitter{errs: []error{errors.New("playwright: Target closed")}}
	o := testOrchestrator(engine, sub, readyWaiter("u"), stubExtractor{}, 2)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindSuccess {
		t.Fatalf("Kind = %v, want success on the fresh session (reason %q)", out.Kind, out.Reason)
	}
	if n := atomic.LoadInt32(&engine.acquires); n != 2 {
		t.Fatalf("acquires = %d, want 2", n)
	}
	if sub.prepares != 2 {
		t.Fatalf("prepares = %d, want the fresh page prepared again", sub.prepares)
	}
}

// callRecorder captures the order of pipeline steps across stubs.
type callRecorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *callRecorder) add(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *callRecorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.steps, ",")
}

type seqSubmitter struct {
	rec  *callRecorder
	errs []error
}

func (s *seqSubmitter) Prepare(context.Context, browser.Page) error {
	s.rec.add("prepare")
	return nil
}

func (s *seqSubmitter) Submit(context.Context, browser.Page, protocol.GenerationRequest) error {
	s.rec.add("submit")
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

type seqWaiter struct {
	rec  *callRecorder
	comp browser.Completion
}

func (w *seqWaiter) Baseline(browser.Page) map[string]struct{} {
	w.rec.add("baseline")
	return map[string]struct{}{}
}

func (w *seqWaiter) Wait(context.Context, browser.Page, map[string]struct{}) (browser.Completion, error) {
	w.rec.add("wait")
	return w.comp, nil
}

func TestGenerateBaselinesAfterPrepare(t *testing.T) {
	rec := &callRecorder{}
	comp := browser.Completion{State: browser.StateReady, ImageURL: "u"}
	o := testOrchestrator(&stubEngine{}, &seqSubmitter{rec: rec}, &seqWaiter{rec: rec, comp: comp}, stubExtractor{}, 0)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindSuccess {
		t.Fatalf("Kind = %v (reason %q)", out.Kind, out.Reason)
	}
	if got := rec.joined(); got != "prepare,baseline,submit,wait" {
		t.Fatalf("step order = %s, want prepare,baseline,submit,wait", got)
	}
}

func TestGenerateRebaselinesReacquiredPage(t *testing.T) {
	rec := &callRecorder{}
	comp := browser.Completion{State: browser.StateReady, ImageURL: "u"}
	sub := &seqSubmitter{rec: rec, errs: []error{errors.New("playwright: Target closed")}}
	o := testOrchestrator(&stubEngine{}, sub, &seqWaiter{rec: rec, comp: comp}, stubExtractor{}, 1)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindSuccess {
		t.Fatalf("Kind = %v (reason %q)", out.Kind, out.Reason)
	}
	want := "prepare,baseline,submit,prepare,baseline,submit,wait"
	if got := rec.joined(); got != want {
		t.Fatalf("step order = %s, want %s", got, want)
	}
}

func TestGenerateSessionFailed(t *testing.T) {
	engine := &stubEngine{err: errors.New("browser session unavailable: connection refused")}
	o := testOrchestrator(engine, &stubSubmitter{}, readyWaiter("u"), stubExtractor{}, 0)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindSessionFailed {
		t.Fatalf("Kind = %v, want %v", out.Kind, KindSessionFailed)
	}
}

func TestGenerateCompletionTimeout(t *testing.T) {
	w := stubWaiter{comp: browser.Completion{State: browser.StateTimedOut, Reason: "no image within the wait ceiling", Polls: 80}}
	o := testOrchestrator(&stubEngine{}, &stubSubmitter{}, w, stubExtractor{}, 0)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindCompletionTimeout {
		t.Fatalf("Kind = %v, want %v", out.Kind, KindCompletionTimeout)
	}
	if out.Polls != 80 {
		t.Fatalf("Polls = %d, want 80", out.Polls)
	}
}

func TestGeneratePageReportedFailure(t *testing.T) {
	w := stubWaiter{comp: browser.Completion{State: browser.StateFailed, Reason: "Something went wrong"}}
	o := testOrchestrator(&stubEngine{}, &stubSubmitter{}, w, stubExtractor{}, 0)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindGenerationFailed {
		t.Fatalf("Kind = %v, want %v", out.Kind, KindGenerationFailed)
	}
	if out.Reason != "Something went wrong" {
		t.Fatalf("Reason = %q", out.Reason)
	}
}

func TestGenerateExtractionFailedKeepsImageURL(t *testing.T) {
	ex := stubExtractor{err: errors.New("image extraction failed: status 403")}
	o := testOrchestrator(&stubEngine{}, &stubSubmitter{}, readyWaiter("https://cdn/x.png"), ex, 0)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindExtractionFailed {
		t.Fatalf("Kind = %v, want %v", out.Kind, KindExtractionFailed)
	}
	if out.ImageURL != "https://cdn/x.png" {
		t.Fatalf("ImageURL = %q, want preserved for manual retry", out.ImageURL)
	}
}

func TestGenerateCanceled(t *testing.T) {
	w := stubWaiter{err: context.Canceled}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := testOrchestrator(&stubEngine{}, &stubSubmitter{}, w, stubExtractor{}, 0)

	out := o.Generate(ctx, protocol.GenerationRequest{Prompt: "p"})
	if out.Kind != KindCanceled {
		t.Fatalf("Kind = %v, want %v", out.Kind, KindCanceled)
	}
}

func TestGenerateSerializesConcurrentCalls(t *testing.T) {
	sub := &stubSubmitter{}
	o := testOrchestrator(&stubEngine{}, sub, readyWaiter("u"), stubExtractor{}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&sub.maxSeen); max != 1 {
		t.Fatalf("max concurrent submissions = %d, want 1", max)
	}
	if sub.calls != 6 {
		t.Fatalf("submit calls = %d, want 6", sub.calls)
	}
}

func TestGenerateRecordsHistory(t *testing.T) {
	store := history.NewInMemoryStore()
	art := browser.Artifact{Bytes: []byte("img-bytes"), MimeType: "image/png"}
	o := testOrchestrator(&stubEngine{}, &stubSubmitter{}, readyWaiter("https://cdn/x.png"), stubExtractor{art: art}, 0).
		WithHistory(store)

	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "a whale"})

	rec, err := store.Get(context.Background(), out.ID)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", out.ID, err)
	}
	if rec.Outcome != string(KindSuccess) {
		t.Fatalf("Outcome = %q, want success", rec.Outcome)
	}
	if rec.Prompt != "a whale" {
		t.Fatalf("Prompt = %q", rec.Prompt)
	}
	if rec.SizeBytes != len(art.Bytes) {
		t.Fatalf("SizeBytes = %d, want %d", rec.SizeBytes, len(art.Bytes))
	}
}

func TestGeneratePublishesEvents(t *testing.T) {
	n := NewNotifier()
	events, cancel := n.Subscribe()
	defer cancel()

	o := testOrchestrator(&stubEngine{}, &stubSubmitter{}, readyWaiter("u"), stubExtractor{}, 0).
		WithNotifier(n)
	out := o.Generate(context.Background(), protocol.GenerationRequest{Prompt: "p"})

	stages := make([]string, 0, 4)
	for len(stages) < 4 {
		select {
		case ev := <-events:
			stages = append(stages, ev.Stage)
			if ev.Stage == StageFinished {
				if ev.ID != out.ID {
					t.Fatalf("finished event ID = %q, want %q", ev.ID, out.ID)
				}
				if ev.Kind != string(KindSuccess) {
					t.Fatalf("finished event Kind = %q", ev.Kind)
				}
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", stages)
		}
	}
	if joined := strings.Join(stages, ","); joined != "session_acquired,submitted,polling,finished" {
		t.Fatalf("stages = %s", joined)
	}
}
