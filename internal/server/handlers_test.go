package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opsgrid/inquest/internal/agentrt"
	"github.com/opsgrid/inquest/internal/auth"
	"github.com/opsgrid/inquest/internal/bridge"
	"github.com/opsgrid/inquest/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubRuntime is a fixed-script agentrt.Client for end-to-end handler tests.
type stubRuntime struct {
	failFirstRun bool
	runs         int
}

func (s *stubRuntime) CreateConversation(ctx context.Context) (string, error) {
	return "conv-1", nil
}

func (s *stubRuntime) PostMessage(ctx context.Context, conversationID, text string) error {
	return nil
}

func (s *stubRuntime) StartRun(ctx context.Context, conversationID string, hooks agentrt.Hooks) error {
	s.runs++
	if s.failFirstRun && s.runs == 1 {
		hooks.OnStatus(agentrt.RunFailed, "transient failure")
		return nil
	}
	hooks.OnStepStart(agentrt.StepStart{StepID: "s1", Capability: "GraphExplorer"})
	hooks.OnStepDone(agentrt.StepResult{StepID: "s1", Capability: "GraphExplorer", Query: "q", Response: "r"})
	hooks.OnDone(agentrt.Completion{Report: "service healthy"})
	hooks.OnStatus(agentrt.RunCompleted, "")
	return nil
}

// testRegistry writes a one-capability registry file and returns it loaded.
func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capabilities.json")
	if err := os.WriteFile(path, []byte(`[{"name": "GraphExplorer", "agent_id": "agent-graph"}]`), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return registry.New(path)
}

func newTestServer(t *testing.T, cfg ServerConfig) http.Handler {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MaxInputBytes == 0 {
		cfg.MaxInputBytes = 64 * 1024
	}
	cfg.Version = "test"
	return New(cfg).Handler()
}

// sseEvents extracts the event names from an SSE body in order.
func sseEvents(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			out = append(out, name)
		}
	}
	return out
}

func postInvestigation(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/investigations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestSubmitDemoModeStreamsSyntheticWalkthrough(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postInvestigation(t, handler, `{"input": "why is the api slow"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	events := sseEvents(w.Body.String())
	if len(events) == 0 {
		t.Fatal("no SSE events in response")
	}
	if events[0] != "run_start" {
		t.Errorf("first event = %q, want run_start", events[0])
	}
	if events[len(events)-1] != "run_complete" {
		t.Errorf("last event = %q, want run_complete", events[len(events)-1])
	}
	for _, e := range events {
		if e == "error" {
			t.Error("synthetic walkthrough must not contain an error event")
		}
	}
}

func TestSubmitDemoModeUsesRegistryCapabilities(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.json")
	if err := os.WriteFile(path, []byte(`[{"name": "FlowAnalyzer", "agent_id": "agent-flow"}]`), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}

	handler := newTestServer(t, ServerConfig{Registry: registry.New(path)})
	w := postInvestigation(t, handler, `{"input": "input"}`)
	if !strings.Contains(w.Body.String(), "FlowAnalyzer") {
		t.Errorf("synthetic walkthrough should name registry capabilities:\n%s", w.Body.String())
	}
}

func TestSubmitLiveRunStreamsToCompletion(t *testing.T) {
	rt := &stubRuntime{}
	sup := bridge.NewSupervisor(rt, 2, nil, testLogger())
	handler := newTestServer(t, ServerConfig{Supervisor: sup, Registry: testRegistry(t)})

	w := postInvestigation(t, handler, `{"input": "why are bgp sessions flapping"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	events := sseEvents(w.Body.String())
	want := []string{"run_start", "step_thinking", "step_start", "step_complete", "message", "run_complete"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if !strings.Contains(w.Body.String(), "service healthy") {
		t.Error("final report missing from stream")
	}
}

func TestSubmitLiveRunRetriesAcrossAttempts(t *testing.T) {
	rt := &stubRuntime{failFirstRun: true}
	sup := bridge.NewSupervisor(rt, 2, nil, testLogger())
	handler := newTestServer(t, ServerConfig{Supervisor: sup, Registry: testRegistry(t)})

	w := postInvestigation(t, handler, `{"input": "input"}`)
	events := sseEvents(w.Body.String())

	if rt.runs != 2 {
		t.Errorf("runtime runs = %d, want 2", rt.runs)
	}
	if events[len(events)-1] != "run_complete" {
		t.Errorf("recovered run should close with run_complete: %v", events)
	}
	for _, e := range events {
		if e == "error" {
			t.Error("recovered run must not stream an error event")
		}
	}
}

func TestSubmitFallsBackToSyntheticWithoutCapabilities(t *testing.T) {
	// Runtime configured but no registry: not ready for live runs.
	rt := &stubRuntime{}
	sup := bridge.NewSupervisor(rt, 2, nil, testLogger())
	handler := newTestServer(t, ServerConfig{Supervisor: sup})

	w := postInvestigation(t, handler, `{"input": "input"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if rt.runs != 0 {
		t.Errorf("runtime runs = %d, want 0", rt.runs)
	}
	events := sseEvents(w.Body.String())
	if len(events) == 0 || events[len(events)-1] != "run_complete" {
		t.Errorf("synthetic fallback should close with run_complete: %v", events)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	for name, body := range map[string]string{
		"empty input": `{"input": ""}`,
		"not json":    `{{{`,
		"unknown key": `{"inputt": "x"}`,
	} {
		w := postInvestigation(t, handler, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, w.Code)
		}
	}
}

func TestSubmitRejectsOversizedBody(t *testing.T) {
	handler := newTestServer(t, ServerConfig{MaxInputBytes: 64})
	w := postInvestigation(t, handler, `{"input": "`+strings.Repeat("a", 200)+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestRecentWithoutArchive(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/investigations/recent", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data struct {
			Status       string `json:"status"`
			RuntimeReady bool   `json:"runtime_ready"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Status != "ok" {
		t.Errorf("status = %q", resp.Data.Status)
	}
	if resp.Data.RuntimeReady {
		t.Error("runtime_ready should be false with no supervisor")
	}
}

func TestAuthRequiredWhenVerifierConfigured(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")
	handler := newTestServer(t, ServerConfig{Verifier: verifier})

	// No token: rejected.
	w := postInvestigation(t, handler, `{"input": "x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}

	// Health stays open.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	hw := httptest.NewRecorder()
	handler.ServeHTTP(hw, req)
	if hw.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", hw.Code)
	}

	// Valid token: accepted.
	token, err := verifier.IssueToken("tester", "operator", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/v1/investigations", strings.NewReader(`{"input": "x"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	aw := httptest.NewRecorder()
	handler.ServeHTTP(aw, req)
	if aw.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", aw.Code)
	}
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}
