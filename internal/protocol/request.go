// Package protocol normalizes the loose request shapes accepted by the API
// into one canonical generation request, and implements the LinkedIn post
// splitter. Callers upstream (n8n expression nodes) routinely send malformed
// JSON, so parsing degrades from strict JSON to pattern salvage instead of
// rejecting outright.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrValidation marks bad or missing input; the caller is at fault, not the
// automation target.
var ErrValidation = errors.New("validation error")

// MaxPromptLength caps prompts at a high safety limit to avoid pathological
// payload sizes; prompts are truncated, not rejected.
const MaxPromptLength = 8000

// GenerationParams carries optional knobs that are applied before submit if
// the target surface exposes matching controls; otherwise the target's own
// defaults win.
type GenerationParams struct {
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	OutputFormat    string `json:"output_format,omitempty"`
	Raw             bool   `json:"raw,omitempty"`
	SafetyTolerance int    `json:"safety_tolerance,omitempty"`
}

// GenerationRequest is the canonical unit of work: one normalized prompt plus
// optional parameters. Constructed once per API call and never mutated.
type GenerationRequest struct {
	Prompt string
	Params GenerationParams
}

type generateBody struct {
	PostText string `json:"postText"`
	Prompt   string `json:"prompt"`
	Input    *struct {
		Prompt          string `json:"prompt"`
		AspectRatio     string `json:"aspect_ratio"`
		OutputFormat    string `json:"output_format"`
		Raw             bool   `json:"raw"`
		SafetyTolerance int    `json:"safety_tolerance"`
	} `json:"input"`
}

var (
	promptFieldRe      = regexp.MustCompile(`(?is)"prompt"\s*:\s*"([^"\\]*(?:\\.[^"\\]*)*)"`)
	imagePromptFieldRe = regexp.MustCompile(`(?is)ImagePrompt["']?\s*:\s*["']([^"']*)["']`)
	postTextFieldRe    = regexp.MustCompile(`(?is)postText["']?\s*:\s*["']([^"']*)["']`)
	jsonFenceRe        = regexp.MustCompile("(?s)```json\\s*\n?(.*?)\n?```")
)

// ParseGenerateBody reduces a /generate-image body to a GenerationRequest.
// Accepted shapes, in priority order: {postText}, {input:{prompt,...}},
// {prompt}. Bodies that are not valid JSON fall back to raw salvage.
func ParseGenerateBody(raw []byte) (GenerationRequest, error) {
	var body generateBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return NormalizeRaw(raw)
	}

	req := GenerationRequest{}
	switch {
	case strings.TrimSpace(body.PostText) != "":
		req.Prompt = body.PostText
	case body.Input != nil && strings.TrimSpace(body.Input.Prompt) != "":
		req.Prompt = body.Input.Prompt
		req.Params = GenerationParams{
			AspectRatio:     body.Input.AspectRatio,
			OutputFormat:    body.Input.OutputFormat,
			Raw:             body.Input.Raw,
			SafetyTolerance: body.Input.SafetyTolerance,
		}
	case strings.TrimSpace(body.Prompt) != "":
		req.Prompt = body.Prompt
	default:
		return GenerationRequest{}, fmt.Errorf("%w: no usable prompt field (expected postText, input.prompt, or prompt)", ErrValidation)
	}

	req.Prompt = clampPrompt(unfencePrompt(strings.TrimSpace(req.Prompt)))
	if req.Prompt == "" {
		return GenerationRequest{}, fmt.Errorf("%w: prompt is empty", ErrValidation)
	}
	return req, nil
}

// NormalizeRaw salvages a prompt from an arbitrary text body. It looks for
// known field patterns first and falls back to the whole body verbatim.
func NormalizeRaw(raw []byte) (GenerationRequest, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return GenerationRequest{}, fmt.Errorf("%w: empty request body", ErrValidation)
	}

	prompt := ""
	for _, re := range []*regexp.Regexp{promptFieldRe, imagePromptFieldRe, postTextFieldRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			prompt = unescapeJSONFragment(m[1])
			break
		}
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = text
	}

	prompt = clampPrompt(unfencePrompt(strings.TrimSpace(prompt)))
	if prompt == "" {
		return GenerationRequest{}, fmt.Errorf("%w: prompt is empty", ErrValidation)
	}
	return GenerationRequest{Prompt: prompt}, nil
}

// unfencePrompt extracts ImagePrompt from an embedded ```json fence when one
// is present; content generators upstream routinely wrap their output that way.
func unfencePrompt(prompt string) string {
	if len(prompt) <= 50 || !strings.Contains(strings.ToLower(prompt), "```json") {
		return prompt
	}
	m := jsonFenceRe.FindStringSubmatch(prompt)
	if m == nil {
		return prompt
	}
	var parsed struct {
		ImagePrompt string `json:"ImagePrompt"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &parsed); err != nil {
		return prompt
	}
	if strings.TrimSpace(parsed.ImagePrompt) != "" {
		return strings.TrimSpace(parsed.ImagePrompt)
	}
	return prompt
}

func unescapeJSONFragment(s string) string {
	r := strings.NewReplacer(`\"`, `"`, `\n`, "\n", `\\`, `\`)
	return r.Replace(s)
}

func clampPrompt(prompt string) string {
	if len(prompt) <= MaxPromptLength {
		return prompt
	}
	return prompt[:truncationPoint(prompt, MaxPromptLength)]
}

// truncationPoint backs max off to a rune boundary so a clamp never leaves a
// partial UTF-8 sequence at the end.
func truncationPoint(s string, max int) int {
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return max
}
