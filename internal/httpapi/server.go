// Package httpapi exposes the generation pipeline over HTTP. The response
// envelopes follow the n8n conventions the service's callers already depend
// on: success/message/error JSON bodies plus a binary section carrying the
// base64 image.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"imagerelay/internal/browser"
	"imagerelay/internal/config"
	"imagerelay/internal/generator"
	"imagerelay/internal/history"
	"imagerelay/internal/observability"
	"imagerelay/internal/protocol"
)

// Generator runs one generation to its terminal outcome.
type Generator interface {
	Generate(ctx context.Context, req protocol.GenerationRequest) generator.Outcome
}

// BrowserReporter exposes the shared session state for health checks.
type BrowserReporter interface {
	Status() browser.Status
}

type Server struct {
	cfg       config.Config
	generator Generator
	browser   BrowserReporter
	store     history.Store
	notifier  *generator.Notifier
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, gen Generator, reporter BrowserReporter, store history.Store, notifier *generator.Notifier) *Server {
	return &Server{
		cfg:       cfg,
		generator: gen,
		browser:   reporter,
		store:     store,
		notifier:  notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.cfg.Debug {
		r.Use(middleware.Logger)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/generate-image", s.handleGenerateImage)
	r.Post("/generate-image-raw", s.handleGenerateImageRaw)
	r.Post("/image-only", s.handleImageOnly)
	r.Post("/split-linkedin", s.handleSplitLinkedIn)

	r.Get("/v1/generations", s.handleListGenerations)
	r.Get("/v1/generations/{id}", s.handleGetGeneration)
	r.Get("/v1/generations/ws", s.handleGenerationWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"success": true,
		"message": "Service is healthy",
		"service": "imagerelay",
	}
	if s.browser != nil {
		payload["browser"] = s.browser.Status()
	}
	switch {
	case s.store == nil:
		payload["store"] = "disabled"
	case strings.TrimSpace(s.cfg.DatabaseURL) != "":
		payload["store"] = "postgres"
	default:
		payload["store"] = "in-memory"
	}
	respondJSON(w, http.StatusOK, payload)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Success: false, Message: message, Code: code})
}
