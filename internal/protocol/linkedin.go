package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// SplitResult is the deterministic decomposition of a LinkedIn-shaped post.
// Title and Content are always non-nil strings, possibly empty; ImagePrompt is
// passed through unchanged for the follow-up generation call.
type SplitResult struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Hashtags    []string `json:"hashtags"`
	ImagePrompt string   `json:"image_prompt,omitempty"`
}

type splitBody struct {
	Text *struct {
		LinkedInPost string `json:"LinkedInPost"`
		ImagePrompt  string `json:"ImagePrompt"`
	} `json:"text"`
	TextJSON     string `json:"Text"`
	LinkedInPost string `json:"LinkedInPost"`
	ImagePrompt  string `json:"ImagePrompt"`
}

var (
	hashtagRe       = regexp.MustCompile(`#\w+`)
	firstSentenceRe = regexp.MustCompile(`^[^.!?\n]*[.!?]`)
)

// SplitLinkedIn parses a /split-linkedin body and derives title and content
// from the post. It fails only when no post container is present at all;
// missing sub-fields yield empty strings.
func SplitLinkedIn(raw []byte) (SplitResult, error) {
	var body splitBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return SplitResult{}, fmt.Errorf("%w: invalid JSON body: %v", ErrValidation, err)
	}

	var post, imagePrompt string
	switch {
	case body.Text != nil:
		post = body.Text.LinkedInPost
		imagePrompt = body.Text.ImagePrompt
	case strings.TrimSpace(body.TextJSON) != "":
		var inner struct {
			LinkedInPost string `json:"LinkedInPost"`
			ImagePrompt  string `json:"ImagePrompt"`
		}
		if err := json.Unmarshal([]byte(body.TextJSON), &inner); err != nil {
			return SplitResult{}, fmt.Errorf("%w: Text field is not valid JSON: %v", ErrValidation, err)
		}
		post = inner.LinkedInPost
		imagePrompt = inner.ImagePrompt
	case body.LinkedInPost != "":
		post = body.LinkedInPost
		imagePrompt = body.ImagePrompt
	default:
		return SplitResult{}, fmt.Errorf("%w: missing text object", ErrValidation)
	}

	title, content := splitPost(post)
	return SplitResult{
		Title:       title,
		Content:     content,
		Hashtags:    hashtagRe.FindAllString(post, -1),
		ImagePrompt: imagePrompt,
	}, nil
}

// splitPost derives (title, content) from a post: the first sentence when one
// ends with punctuation (absorbing a trailing emoji run), otherwise the first
// line, otherwise a short lead. Content is the remainder after the title.
func splitPost(post string) (string, string) {
	post = strings.TrimSpace(post)
	if post == "" {
		return "", ""
	}

	if m := firstSentenceRe.FindString(post); m != "" {
		title := absorbTrailingSymbols(post, m)
		return strings.TrimSpace(title), strings.TrimSpace(post[len(title):])
	}

	if head, rest, ok := strings.Cut(post, "\n"); ok {
		return strings.TrimSpace(head), strings.TrimSpace(rest)
	}

	const leadLen = 100
	if len(post) > leadLen {
		cut := truncationPoint(post, leadLen)
		return strings.TrimSpace(post[:cut]) + "...", strings.TrimSpace(post[cut:])
	}
	return post, ""
}

// absorbTrailingSymbols extends a sentence title over an immediately following
// emoji run ("Is AI coming for us? 🤔" stays one title).
func absorbTrailingSymbols(post, title string) string {
	rest := post[len(title):]
	i := 0
	for _, r := range rest {
		if r == '\n' {
			break
		}
		if !unicode.IsSpace(r) && !unicode.IsSymbol(r) {
			break
		}
		i += len(string(r))
	}
	// Only absorb runs that actually contain a symbol, not bare whitespace.
	absorbed := rest[:i]
	if strings.IndexFunc(absorbed, unicode.IsSymbol) == -1 {
		return title
	}
	return title + strings.TrimRight(absorbed, " \t")
}
