// Package hooks exposes the protocol server's publish lifecycle callbacks
// over HTTP, in the style of SRS-like ingest servers: the media server posts
// a hook on each publish attempt and publish end, and the response decides
// whether the connection is allowed.
package hooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"pulsecast/internal/pipeline"
)

// Gate is the admission surface consumed by the hook handlers.
type Gate interface {
	OnPublishAttempt(ctx context.Context, path string) error
	OnPublishEnded(ctx context.Context, path string)
}

// Handler serves the publish hooks and health endpoint.
type Handler struct {
	Gate   Gate
	Token  string
	Logger *slog.Logger
}

type hookRequest struct {
	Action   string `json:"action"`
	Path     string `json:"path"`
	ClientID string `json:"clientId,omitempty"`
}

type hookResponse struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// Routes returns the hook server's handler tree.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/hooks/publish", h.handlePublish)
	mux.HandleFunc("/hooks/publish-done", h.handlePublishDone)
	return mux
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, hookResponse{Code: 1, Reason: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}

	err := h.Gate.OnPublishAttempt(r.Context(), req.Path)
	if err == nil {
		writeJSON(w, http.StatusOK, hookResponse{Code: 0})
		return
	}

	var rejection *pipeline.RejectionError
	if errors.As(err, &rejection) {
		writeJSON(w, http.StatusForbidden, hookResponse{Code: 1, Reason: rejection.Reason})
		return
	}
	if h.Logger != nil {
		h.Logger.Error("publish hook failed", "path", req.Path, "error", err)
	}
	writeJSON(w, http.StatusForbidden, hookResponse{Code: 1, Reason: "publish rejected"})
}

func (h *Handler) handlePublishDone(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	h.Gate.OnPublishEnded(r.Context(), req.Path)
	writeJSON(w, http.StatusOK, hookResponse{Code: 0})
}

func (h *Handler) decodeHook(w http.ResponseWriter, r *http.Request) (hookRequest, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, hookResponse{Code: 1, Reason: "method not allowed"})
		return hookRequest{}, false
	}
	if !h.authorized(r) {
		if h.Logger != nil {
			h.Logger.Warn("hook rejected token", "path", r.URL.Path, "remote", r.RemoteAddr)
		}
		writeJSON(w, http.StatusUnauthorized, hookResponse{Code: 1, Reason: "unauthorized"})
		return hookRequest{}, false
	}

	var req hookRequest
	if r.Body != nil && r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, hookResponse{Code: 1, Reason: "invalid payload"})
			return hookRequest{}, false
		}
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSON(w, http.StatusBadRequest, hookResponse{Code: 1, Reason: "path is required"})
		return hookRequest{}, false
	}
	return req, true
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.Token == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return false
	}
	presented := strings.TrimSpace(header[7:])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.Token)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("encode hook response", "error", err)
	}
}
