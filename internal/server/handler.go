package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"slipway/internal/history"
	"slipway/internal/logtail"
	"slipway/internal/workspace"

	"github.com/google/uuid"
)

// Runner executes the build pipeline for an allocated build.
// Production: pipeline.Pipeline
// Testing: fake recording the builds it was handed
type Runner interface {
	Run(ctx context.Context, b *workspace.Build)
}

// History is the read/insert surface of the build history store. It is
// optional; a nil History disables the listing endpoint and record
// inserts.
type History interface {
	InsertBuild(ctx context.Context, app string, id uuid.UUID, revision string) error
	ListBuilds(ctx context.Context, app string) ([]history.BuildRow, error)
}

// Handler routes the HTTP surface of the daemon.
type Handler struct {
	mux     *http.ServeMux
	token   string
	ws      *workspace.Manager
	runner  Runner
	tailer  *logtail.Tailer
	history History
}

func NewHandler(token string, ws *workspace.Manager, runner Runner, tailer *logtail.Tailer, hist History) *Handler {
	if tailer == nil {
		tailer = &logtail.Tailer{}
	}

	mux := http.NewServeMux()
	h := &Handler{
		mux:     mux,
		token:   token,
		ws:      ws,
		runner:  runner,
		tailer:  tailer,
		history: hist,
	}

	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("POST /apps/{app}/builds", h.CreateBuild)
	mux.HandleFunc("GET /apps/{app}/builds", h.ListBuilds)
	mux.HandleFunc("GET /apps/{app}/builds/{id}/logs", h.StreamLogs)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// CreateBuild allocates a build workspace, responds with the log stream
// URL, and runs the pipeline asynchronously after the response is sent.
func (h *Handler) CreateBuild(w http.ResponseWriter, r *http.Request) {
	// A bad or missing token yields a plain not-found, deliberately
	// indistinguishable from an unknown route.
	if r.URL.Query().Get("token") != h.token {
		http.NotFound(w, r)
		return
	}

	type request struct {
		Revision string `json:"revision"`
	}
	type response struct {
		OutputStreamURL string `json:"output_stream_url"`
	}

	app := r.PathValue("app")

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := h.ws.Allocate(app, req.Revision)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrAppNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, workspace.ErrInvalidRevision):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			slog.Error("Failed to allocate build workspace.", "app", app, "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if h.history != nil {
		if err := h.history.InsertBuild(r.Context(), app, b.ID, req.Revision); err != nil {
			slog.Warn("Failed to record new build.", "app", app, "build", b.ID.String(), "err", err)
		}
	}

	// The pipeline outlives this request.
	go h.runner.Run(context.Background(), b)

	writeJSON(w, http.StatusCreated, response{
		OutputStreamURL: fmt.Sprintf("/apps/%s/builds/%s/logs", app, b.ID),
	})
}

// StreamLogs serves the build log: the whole file when the build has
// finished, a live chunked stream otherwise. Malformed build identifiers
// and unknown builds both yield a not-found, without distinguishing the
// two.
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	app := r.PathValue("app")

	id, err := workspace.ParseBuildID(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	b, ok := h.ws.Lookup(app, id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if err := h.tailer.Stream(r.Context(), b, w); err != nil && !errors.Is(err, context.Canceled) {
		// Headers are out; all that is left is to log.
		slog.Warn("Log stream ended with error.", "app", app, "build", id.String(), "err", err)
	}
}

// ListBuilds returns an application's build history, newest first.
func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.NotFound(w, r)
		return
	}

	type buildResponse struct {
		ID               string    `json:"id"`
		Revision         string    `json:"revision"`
		Status           string    `json:"status"`
		ExitCode         *int      `json:"exit_code,omitempty"`
		ReleaseContainer string    `json:"release_container,omitempty"`
		CreatedAt        time.Time `json:"created_at"`
		UpdatedAt        time.Time `json:"updated_at"`
	}

	app := r.PathValue("app")
	rows, err := h.history.ListBuilds(r.Context(), app)
	if err != nil {
		slog.Error("Failed to list builds.", "app", app, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]buildResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, buildResponse{
			ID:               row.ID.String(),
			Revision:         row.Revision,
			Status:           string(row.Status),
			ExitCode:         row.ExitCode,
			ReleaseContainer: row.ReleaseContainer,
			CreatedAt:        row.CreatedAt,
			UpdatedAt:        row.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response.", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, response{Error: msg})
}
