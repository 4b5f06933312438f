package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"imagerelay/internal/reliability"
)

// Artifact is one extracted image, ready to be returned to the caller.
type Artifact struct {
	Bytes     []byte
	MimeType  string
	SourceURL string
}

// Base64 encodes the image for the JSON response envelope.
func (a Artifact) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Bytes)
}

// Extractor turns a ready image URL into bytes. Inline data URIs are decoded
// directly; remote URLs are fetched through the browser so CDN auth carries
// over.
type Extractor struct {
	retryDelay time.Duration
}

func NewExtractor() *Extractor {
	return &Extractor{retryDelay: 2 * time.Second}
}

func (e *Extractor) Extract(ctx context.Context, page Page, imageURL string) (Artifact, error) {
	if strings.HasPrefix(imageURL, "data:") {
		return decodeDataURI(imageURL)
	}

	body, contentType, status, err := page.FetchImage(ctx, imageURL)
	if err == nil && reliability.IsRetryableHTTPStatus(status) {
		select {
		case <-ctx.Done():
			return Artifact{}, ctx.Err()
		case <-time.After(e.retryDelay):
		}
		body, contentType, status, err = page.FetchImage(ctx, imageURL)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: fetch %s: %v", ErrExtraction, imageURL, err)
	}
	if status != 200 {
		return Artifact{}, fmt.Errorf("%w: fetch %s: status %d", ErrExtraction, imageURL, status)
	}
	if len(body) == 0 {
		return Artifact{}, fmt.Errorf("%w: fetch %s: empty body", ErrExtraction, imageURL)
	}

	return Artifact{
		Bytes:     body,
		MimeType:  mimeTypeFor(contentType, imageURL),
		SourceURL: imageURL,
	}, nil
}

func decodeDataURI(uri string) (Artifact, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Artifact{}, fmt.Errorf("%w: not a data URI", ErrExtraction)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Artifact{}, fmt.Errorf("%w: malformed data URI", ErrExtraction)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return Artifact{}, fmt.Errorf("%w: data URI is not base64 encoded", ErrExtraction)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: decode data URI: %v", ErrExtraction, err)
	}
	mime := strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "image/png"
	}
	return Artifact{Bytes: raw, MimeType: mime, SourceURL: "data:inline"}, nil
}

// mimeTypeFor trusts the content-type header when it names an image and falls
// back to the URL extension; S3 sometimes serves generated assets as
// application/octet-stream.
func mimeTypeFor(contentType, imageURL string) string {
	ct := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	lower := strings.ToLower(imageURL)
	switch {
	case strings.Contains(lower, ".jpg"), strings.Contains(lower, ".jpeg"):
		return "image/jpeg"
	default:
		return "image/png"
	}
}
