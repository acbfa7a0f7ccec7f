package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// runtimeFixture is an httptest server speaking the runtime protocol.
type runtimeFixture struct {
	t        *testing.T
	feed     []string // NDJSON lines returned by the run endpoint
	messages []string
}

func (f *runtimeFixture) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-1"})
	})
	mux.HandleFunc("POST /v1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.messages = append(f.messages, in["content"])
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/conversations/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range f.feed {
			fmt.Fprintln(w, line)
		}
	})
	return mux
}

func TestCreateConversation(t *testing.T) {
	f := &runtimeFixture{t: t}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", testLogger())
	id, err := c.CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if id != "conv-1" {
		t.Errorf("conversation id = %q", id)
	}
}

func TestPostMessage(t *testing.T) {
	f := &runtimeFixture{t: t}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", testLogger())
	if err := c.PostMessage(context.Background(), "conv-1", "hello runtime"); err != nil {
		t.Fatalf("post message: %v", err)
	}
	if len(f.messages) != 1 || f.messages[0] != "hello runtime" {
		t.Errorf("messages = %v", f.messages)
	}
}

func TestStartRunDispatchesFeed(t *testing.T) {
	f := &runtimeFixture{t: t, feed: []string{
		`{"type":"run.status","status":"in_progress"}`,
		`{"type":"step.started","step_id":"s1","capability":"GraphExplorer"}`,
		`{"type":"step.completed","step_id":"s1","capability":"GraphExplorer","duration_ms":120,"query":"q","response":"r"}`,
		`{"type":"run.completed","report":"all clear","token_usage":{"total":10}}`,
		`{"type":"run.status","status":"completed"}`,
	}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	var (
		statuses []RunStatus
		starts   []StepStart
		results  []StepResult
		dones    []Completion
	)
	hooks := Hooks{
		OnStatus:    func(s RunStatus, detail string) { statuses = append(statuses, s) },
		OnStepStart: func(s StepStart) { starts = append(starts, s) },
		OnStepDone:  func(s StepResult) { results = append(results, s) },
		OnDone:      func(d Completion) { dones = append(dones, d) },
	}

	c := NewHTTPClient(srv.URL, "", testLogger())
	if err := c.StartRun(context.Background(), "conv-1", hooks); err != nil {
		t.Fatalf("start run: %v", err)
	}

	if len(statuses) != 2 || statuses[1] != RunCompleted {
		t.Errorf("statuses = %v", statuses)
	}
	if len(starts) != 1 || starts[0].StepID != "s1" {
		t.Errorf("starts = %v", starts)
	}
	if len(results) != 1 || results[0].Duration != 120*time.Millisecond {
		t.Errorf("results = %v", results)
	}
	if len(dones) != 1 || dones[0].Report != "all clear" || dones[0].TokenUsage["total"] != 10 {
		t.Errorf("dones = %v", dones)
	}
}

func TestStartRunFailedStatusIsNotAnError(t *testing.T) {
	f := &runtimeFixture{t: t, feed: []string{
		`{"type":"run.status","status":"failed","detail":"runtime exploded"}`,
	}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	var gotStatus RunStatus
	var gotDetail string
	c := NewHTTPClient(srv.URL, "", testLogger())
	err := c.StartRun(context.Background(), "conv-1", Hooks{
		OnStatus: func(s RunStatus, detail string) { gotStatus, gotDetail = s, detail },
	})
	// A failed run is still a terminal run: the invocation succeeded.
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if gotStatus != RunFailed || gotDetail != "runtime exploded" {
		t.Errorf("status = %s, detail = %q", gotStatus, gotDetail)
	}
}

func TestStartRunTruncatedFeedIsAnError(t *testing.T) {
	f := &runtimeFixture{t: t, feed: []string{
		`{"type":"run.status","status":"in_progress"}`,
		`{"type":"step.started","step_id":"s1","capability":"GraphExplorer"}`,
	}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", testLogger())
	if err := c.StartRun(context.Background(), "conv-1", Hooks{}); err == nil {
		t.Fatal("expected error for feed without a terminal status")
	}
}

func TestStartRunSkipsMalformedRecords(t *testing.T) {
	f := &runtimeFixture{t: t, feed: []string{
		`{not json`,
		`{"type":"run.status","status":"completed"}`,
	}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", testLogger())
	if err := c.StartRun(context.Background(), "conv-1", Hooks{}); err != nil {
		t.Fatalf("start run should tolerate malformed lines: %v", err)
	}
}

func TestStartRunNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", testLogger())
	if err := c.StartRun(context.Background(), "conv-1", Hooks{}); err == nil {
		t.Fatal("expected error for non-200 run response")
	}
}

func TestAuthorizationHeaderSent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "rt-key", testLogger())
	if _, err := c.CreateConversation(context.Background()); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if gotAuth != "Bearer rt-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
}
