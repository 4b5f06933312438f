package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"imagerelay/internal/protocol"
)

// Page is the narrow view of a browser tab the generation pipeline needs.
// The production implementation wraps a Playwright page; tests substitute
// fakes.
type Page interface {
	URL() string
	Navigate(ctx context.Context, url string) error
	ScrollToBottom() error
	EnterPrompt(prompt string) error
	ApplyParameters(params protocol.GenerationParams) error
	SubmitPrompt() error
	GeneratedImageSources() ([]string, error)
	LoadingIndicatorVisible() (bool, error)
	ErrorIndicatorText() (string, error)
	FetchImage(ctx context.Context, url string) (body []byte, contentType string, status int, err error)
}

// jsInsertPrompt sets the prompt on either a contenteditable div or a plain
// input and fires the input event so the page's framework notices the change.
const jsInsertPrompt = `(el, prompt) => {
	el.focus();
	if (el.isContentEditable) {
		el.innerText = prompt;
	} else {
		el.value = prompt;
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
}`

type playwrightPage struct {
	page              playwright.Page
	sel               Selectors
	navigationTimeout float64
}

func newPlaywrightPage(page playwright.Page, sel Selectors, navigationTimeoutMs float64) *playwrightPage {
	return &playwrightPage{page: page, sel: sel, navigationTimeout: navigationTimeoutMs}
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(p.navigationTimeout),
	})
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) ScrollToBottom() error {
	_, err := p.page.Evaluate(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

// EnterPrompt walks the input selector ladder. It prefers a direct JS insert,
// which is fast and immune to keystroke interception, and falls back to
// clearing the field and typing when the insert does not take.
func (p *playwrightPage) EnterPrompt(prompt string) error {
	var lastErr error
	for _, selector := range p.sel.Input {
		handle, err := p.page.QuerySelector(selector)
		if err != nil || handle == nil {
			continue
		}
		if visible, err := handle.IsVisible(); err != nil || !visible {
			continue
		}

		if _, err := p.page.EvalOnSelector(selector, jsInsertPrompt, prompt); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if err := handle.Click(); err != nil {
			lastErr = err
			continue
		}
		_ = p.page.Keyboard().Press("Control+a")
		_ = p.page.Keyboard().Press("Delete")
		if err := handle.Type(prompt, playwright.ElementHandleTypeOptions{
			Delay: playwright.Float(5),
		}); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("no input accepted the prompt: %w", lastErr)
	}
	return fmt.Errorf("no visible prompt input on page")
}

// ApplyParameters is best effort: the target only sometimes exposes controls
// for these knobs, and a missing control is not a failure.
func (p *playwrightPage) ApplyParameters(params protocol.GenerationParams) error {
	if params == (protocol.GenerationParams{}) {
		return nil
	}
	if params.AspectRatio != "" {
		selector := fmt.Sprintf("[data-testid=\"aspect-ratio-%s\"]", strings.ReplaceAll(params.AspectRatio, ":", "-"))
		if handle, err := p.page.QuerySelector(selector); err == nil && handle != nil {
			_ = handle.Click()
		}
	}
	return nil
}

func (p *playwrightPage) SubmitPrompt() error {
	for _, selector := range p.sel.Submit {
		handle, err := p.page.QuerySelector(selector)
		if err != nil || handle == nil {
			continue
		}
		if enabled, err := handle.IsEnabled(); err != nil || !enabled {
			continue
		}
		if err := handle.Click(); err == nil {
			return nil
		}
	}
	// No clickable submit button; Enter in the focused input works too.
	return p.page.Keyboard().Press("Enter")
}

func (p *playwrightPage) GeneratedImageSources() ([]string, error) {
	handles, err := p.page.QuerySelectorAll("img")
	if err != nil {
		return nil, err
	}
	srcs := make([]string, 0, len(handles))
	for _, handle := range handles {
		src, err := handle.GetAttribute("src")
		if err != nil || src == "" {
			continue
		}
		srcs = append(srcs, src)
	}
	return srcs, nil
}

func (p *playwrightPage) LoadingIndicatorVisible() (bool, error) {
	for _, selector := range p.sel.Loading {
		handle, err := p.page.QuerySelector(selector)
		if err != nil || handle == nil {
			continue
		}
		if visible, err := handle.IsVisible(); err == nil && visible {
			return true, nil
		}
	}
	return false, nil
}

func (p *playwrightPage) ErrorIndicatorText() (string, error) {
	for _, selector := range p.sel.Error {
		handle, err := p.page.QuerySelector(selector)
		if err != nil || handle == nil {
			continue
		}
		if visible, err := handle.IsVisible(); err != nil || !visible {
			continue
		}
		text, err := handle.TextContent()
		if err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed, nil
		}
	}
	return "", nil
}

// FetchImage downloads through the page's own request context so the CDN sees
// the browser's cookies and referer.
func (p *playwrightPage) FetchImage(ctx context.Context, url string) ([]byte, string, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", 0, err
	}
	resp, err := p.page.Context().Request().Get(url, playwright.APIRequestContextGetOptions{
		Timeout: playwright.Float(p.navigationTimeout),
	})
	if err != nil {
		return nil, "", 0, err
	}
	body, err := resp.Body()
	if err != nil {
		return nil, "", resp.Status(), err
	}
	return body, resp.Headers()["content-type"], resp.Status(), nil
}
