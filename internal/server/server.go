// Package server exposes a read-only HTTP view of one manifest: health, the
// document itself, readiness sets, and the summary. Mutations stay on the CLI
// where the lock discipline lives.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"specloom/internal/domain"
	"specloom/internal/manifest"
)

// Config for the HTTP handler.
type Config struct {
	Store        *manifest.Store
	ManifestPath string
	BasePath     string
	Auth         AuthConfig
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"sub-spec 001-parser: not found"`
}

// apiError is the error envelope for every failure response.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, manifest.ErrInvalidPhase):
		return newAPIError(http.StatusBadRequest, "invalid_phase", err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// New returns the HTTP handler for the manifest API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Specloom API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerManifest(group, cfg)
	registerReady(group, cfg)
	registerComplete(group, cfg)
	registerSummary(group, cfg)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerManifest(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-manifest",
		Method:      http.MethodGet,
		Path:        "/manifest",
		Summary:     "Full manifest document",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *domain.Manifest `json:"body"`
	}, error) {
		m, err := cfg.Store.Get(ctx, cfg.ManifestPath)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Manifest `json:"body"`
		}{Body: m}, nil
	})
}

func registerReady(api huma.API, cfg Config) {
	type phasePath struct {
		Phase string `path:"phase"`
	}
	type readyBody struct {
		Phase string   `json:"phase"`
		Ready []string `json:"ready"`
		Next  string   `json:"next,omitempty"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "ready-for-phase",
		Method:      http.MethodGet,
		Path:        "/phases/{phase}/ready",
		Summary:     "Sub-specs ready for a phase",
	}, func(ctx context.Context, input *phasePath) (*struct {
		Body readyBody `json:"body"`
	}, error) {
		ready, err := cfg.Store.ReadyForPhase(ctx, cfg.ManifestPath, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		body := readyBody{Phase: input.Phase, Ready: ready}
		if len(ready) > 0 {
			body.Next = ready[0]
		}
		if body.Ready == nil {
			body.Ready = []string{}
		}
		return &struct {
			Body readyBody `json:"body"`
		}{Body: body}, nil
	})
}

func registerComplete(api huma.API, cfg Config) {
	type phasePath struct {
		Phase string `path:"phase"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "all-phase-complete",
		Method:      http.MethodGet,
		Path:        "/phases/{phase}/complete",
		Summary:     "Whether every sub-spec completed a phase",
	}, func(ctx context.Context, input *phasePath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		done, err := cfg.Store.AllPhaseComplete(ctx, cfg.ManifestPath, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"phase": input.Phase, "complete": done}}, nil
	})
}

func registerSummary(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Rendered manifest summary",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		text, err := cfg.Store.Summary(ctx, cfg.ManifestPath)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"summary": text}}, nil
	})
}
