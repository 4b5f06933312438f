package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagerelay/internal/generator"
	"imagerelay/internal/protocol"
)

// maxRequestBody caps request reads well above the prompt cap; the normalizer
// truncates prompts itself.
const maxRequestBody = 1 << 20

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "EMPTY_BODY", err.Error())
		return
	}

	req, err := protocol.ParseGenerateBody(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMETER",
			"Could not extract prompt from request. Provide 'postText', 'input.prompt', or 'prompt' field")
		return
	}

	out := s.generator.Generate(r.Context(), req)
	s.respondOutcome(w, req, out, true)
}

// handleGenerateImageRaw accepts any body, valid JSON or not, and salvages a
// prompt from it. Built for n8n expression nodes that emit broken JSON.
func (s *Server) handleGenerateImageRaw(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "EMPTY_BODY", "No content received in request body")
		return
	}

	req, err := protocol.NormalizeRaw(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "EMPTY_BODY", "No content received in request body")
		return
	}

	out := s.generator.Generate(r.Context(), req)
	s.respondOutcome(w, req, out, false)
}

// handleImageOnly returns the image bytes directly instead of a JSON
// envelope, for n8n binary nodes.
func (s *Server) handleImageOnly(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMETER",
			"Missing required 'prompt' or 'Text' field in request body")
		return
	}

	req, err := protocol.ParseGenerateBody(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMETER",
			"Missing required 'prompt' or 'Text' field in request body")
		return
	}

	out := s.generator.Generate(r.Context(), req)
	if !out.Success() {
		s.respondFailure(w, out)
		return
	}

	art := out.Artifact
	w.Header().Set("Content-Type", art.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", imageFileName(art.MimeType)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Bytes)
}

func (s *Server) handleSplitLinkedIn(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "MISSING_DATA", "No JSON data provided")
		return
	}

	res, err := protocol.SplitLinkedIn(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "MISSING_LINKEDIN_POST", err.Error())
		return
	}

	data := map[string]any{
		"title":    res.Title,
		"content":  res.Content,
		"hashtags": res.Hashtags,
		"statistics": map[string]int{
			"titleLength":   len(res.Title),
			"contentLength": len(res.Content),
			"hashtagCount":  len(res.Hashtags),
		},
	}
	if res.ImagePrompt != "" {
		data["imagePrompt"] = res.ImagePrompt
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// respondOutcome renders the terminal outcome of a generation. Extraction
// failures are reported as a degraded success: the image exists and its URL
// is usable even though the download failed.
func (s *Server) respondOutcome(w http.ResponseWriter, req protocol.GenerationRequest, out generator.Outcome, includeParams bool) {
	if out.Success() {
		respondJSON(w, http.StatusOK, successEnvelope(req, out, includeParams))
		return
	}
	if out.Kind == generator.KindExtractionFailed && out.ImageURL != "" {
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Image generated but download failed",
			"data": map[string]any{
				"prompt":   req.Prompt,
				"imageUrl": out.ImageURL,
			},
			"warning": "Image download failed, URL provided instead",
		})
		return
	}
	s.respondFailure(w, out)
}

func (s *Server) respondFailure(w http.ResponseWriter, out generator.Outcome) {
	status, code := outcomeStatus(out.Kind)
	message := "Failed to generate image"
	if out.Reason != "" {
		message = fmt.Sprintf("Failed to generate image: %s", out.Reason)
	}
	respondJSON(w, status, map[string]any{
		"success":   false,
		"message":   message,
		"error":     code,
		"id":        out.ID,
		"elapsedMs": out.Elapsed.Milliseconds(),
	})
}

func outcomeStatus(kind generator.Kind) (int, string) {
	switch kind {
	case generator.KindCompletionTimeout:
		return http.StatusGatewayTimeout, "GENERATION_TIMEOUT"
	case generator.KindSessionFailed:
		return http.StatusBadGateway, "SESSION_UNAVAILABLE"
	case generator.KindSubmissionFailed:
		return http.StatusBadGateway, "SUBMISSION_FAILED"
	case generator.KindExtractionFailed:
		return http.StatusBadGateway, "EXTRACTION_FAILED"
	case generator.KindCanceled:
		return http.StatusBadGateway, "REQUEST_CANCELED"
	default:
		return http.StatusBadGateway, "GENERATION_FAILED"
	}
}

func successEnvelope(req protocol.GenerationRequest, out generator.Outcome, includeParams bool) map[string]any {
	fileName := imageFileName(out.Artifact.MimeType)
	encoded := out.Artifact.Base64()

	data := map[string]any{
		"prompt":   req.Prompt,
		"imageUrl": out.ImageURL,
		"image": map[string]any{
			"filename": fileName,
			"mimeType": out.Artifact.MimeType,
			"data":     encoded,
			"size":     len(out.Artifact.Bytes),
		},
		"generationId": out.ID,
		"elapsedMs":    out.Elapsed.Milliseconds(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	if includeParams {
		data["parameters"] = req.Params
	}

	return map[string]any{
		"success": true,
		"message": "Image generated successfully",
		"data":    data,
		"binary": map[string]any{
			"image": map[string]any{
				"data":     encoded,
				"mimeType": out.Artifact.MimeType,
				"fileName": fileName,
			},
		},
	}
}

func imageFileName(mimeType string) string {
	ext := "png"
	if strings.Contains(mimeType, "jpeg") {
		ext = "jpg"
	}
	return fmt.Sprintf("generated_image_%d.%s", time.Now().Unix(), ext)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("empty request body")
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New("empty request body")
	}
	return body, nil
}
