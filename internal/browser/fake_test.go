package browser

import (
	"context"
	"sync"

	"imagerelay/internal/protocol"
)

// fakePage scripts page observations per poll; the last entry of each script
// repeats once exhausted.
type fakePage struct {
	mu sync.Mutex

	url     string
	srcs    [][]string
	srcIdx  int
	loading []bool
	loadIdx int
	errText string

	enterFailures int
	enterCalls    int
	submitCalls   int
	navigated     []string
	applied       []protocol.GenerationParams

	fetchBody     []byte
	fetchCT       string
	fetchStatuses []int
	fetchErr      error
	fetchCalls    int

	srcErr error
}

func (f *fakePage) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	f.url = url
	return nil
}

func (f *fakePage) ScrollToBottom() error { return nil }

func (f *fakePage) EnterPrompt(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enterCalls++
	if f.enterCalls <= f.enterFailures {
		return errAlways("input not attached")
	}
	return nil
}

func (f *fakePage) ApplyParameters(params protocol.GenerationParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, params)
	return nil
}

func (f *fakePage) SubmitPrompt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	return nil
}

func (f *fakePage) GeneratedImageSources() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.srcErr != nil {
		return nil, f.srcErr
	}
	if len(f.srcs) == 0 {
		return nil, nil
	}
	i := f.srcIdx
	if i >= len(f.srcs) {
		i = len(f.srcs) - 1
	} else {
		f.srcIdx++
	}
	return f.srcs[i], nil
}

func (f *fakePage) LoadingIndicatorVisible() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.loading) == 0 {
		return false, nil
	}
	i := f.loadIdx
	if i >= len(f.loading) {
		i = len(f.loading) - 1
	} else {
		f.loadIdx++
	}
	return f.loading[i], nil
}

func (f *fakePage) ErrorIndicatorText() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errText, nil
}

func (f *fakePage) FetchImage(context.Context, string) ([]byte, string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, "", 0, f.fetchErr
	}
	status := 200
	if len(f.fetchStatuses) > 0 {
		i := f.fetchCalls
		if i >= len(f.fetchStatuses) {
			i = len(f.fetchStatuses) - 1
		}
		status = f.fetchStatuses[i]
	}
	f.fetchCalls++
	return f.fetchBody, f.fetchCT, status, nil
}

type errAlways string

func (e errAlways) Error() string { return string(e) }
