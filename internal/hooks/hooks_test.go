package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"pulsecast/internal/pipeline"
)

type stubGate struct {
	mu        sync.Mutex
	attemptFn func(path string) error
	attempts  []string
	ended     []string
}

func (g *stubGate) OnPublishAttempt(_ context.Context, path string) error {
	g.mu.Lock()
	g.attempts = append(g.attempts, path)
	fn := g.attemptFn
	g.mu.Unlock()
	if fn != nil {
		return fn(path)
	}
	return nil
}

func (g *stubGate) OnPublishEnded(_ context.Context, path string) {
	g.mu.Lock()
	g.ended = append(g.ended, path)
	g.mu.Unlock()
}

func postHook(t *testing.T, handler http.Handler, target, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) hookResponse {
	t.Helper()
	var resp hookResponse
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestPublishHookAdmits(t *testing.T) {
	gate := &stubGate{}
	handler := (&Handler{Gate: gate, Token: "secret"}).Routes()

	recorder := postHook(t, handler, "/hooks/publish", "secret", map[string]string{
		"action": "on_publish",
		"path":   "/live/key-1",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if resp := decodeResponse(t, recorder); resp.Code != 0 {
		t.Fatalf("expected code 0, got %+v", resp)
	}
	if len(gate.attempts) != 1 || gate.attempts[0] != "/live/key-1" {
		t.Fatalf("gate saw attempts %v", gate.attempts)
	}
}

func TestPublishHookSurfacesRejection(t *testing.T) {
	gate := &stubGate{attemptFn: func(string) error {
		return &pipeline.RejectionError{Reason: pipeline.ReasonInvalidKey}
	}}
	handler := (&Handler{Gate: gate, Token: "secret"}).Routes()

	recorder := postHook(t, handler, "/hooks/publish", "secret", map[string]string{
		"path": "/live/bogus",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	resp := decodeResponse(t, recorder)
	if resp.Code != 1 || resp.Reason != pipeline.ReasonInvalidKey {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPublishDoneHook(t *testing.T) {
	gate := &stubGate{}
	handler := (&Handler{Gate: gate, Token: "secret"}).Routes()

	recorder := postHook(t, handler, "/hooks/publish-done", "secret", map[string]string{
		"path": "/live/key-1",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if len(gate.ended) != 1 || gate.ended[0] != "/live/key-1" {
		t.Fatalf("gate saw ends %v", gate.ended)
	}
}

func TestHooksRequireBearerToken(t *testing.T) {
	gate := &stubGate{}
	handler := (&Handler{Gate: gate, Token: "secret"}).Routes()

	for _, target := range []string{"/hooks/publish", "/hooks/publish-done"} {
		recorder := postHook(t, handler, target, "", map[string]string{"path": "/live/key-1"})
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", target, recorder.Code)
		}
		recorder = postHook(t, handler, target, "wrong", map[string]string{"path": "/live/key-1"})
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s with bad token: expected 401, got %d", target, recorder.Code)
		}
	}
	if len(gate.attempts) != 0 || len(gate.ended) != 0 {
		t.Fatalf("unauthorized requests reached the gate")
	}
}

func TestHooksAllowAnyTokenWhenUnset(t *testing.T) {
	gate := &stubGate{}
	handler := (&Handler{Gate: gate}).Routes()

	recorder := postHook(t, handler, "/hooks/publish", "", map[string]string{"path": "/live/key-1"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", recorder.Code)
	}
}

func TestHooksRejectMissingPath(t *testing.T) {
	gate := &stubGate{}
	handler := (&Handler{Gate: gate, Token: "secret"}).Routes()

	recorder := postHook(t, handler, "/hooks/publish", "secret", map[string]string{"action": "on_publish"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if len(gate.attempts) != 0 {
		t.Fatalf("pathless request reached the gate")
	}
}

func TestHooksRejectNonPost(t *testing.T) {
	handler := (&Handler{Gate: &stubGate{}, Token: "secret"}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/hooks/publish", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
	if allow := recorder.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", allow)
	}
}

func TestHealthz(t *testing.T) {
	handler := (&Handler{Gate: &stubGate{}, Token: "secret"}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}
