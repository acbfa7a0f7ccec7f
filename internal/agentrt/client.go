package agentrt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to the agent runtime service over HTTP. Conversations and
// messages are plain JSON endpoints; a run is a single long-lived POST whose
// response body is an NDJSON event feed consumed until the run's terminal
// record. The feed is translated into Hooks invocations on the calling
// goroutine, which keeps the blocking contract of Client.StartRun.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a runtime client for the given base URL. apiKey may
// be empty for unauthenticated deployments. Runs have no client-side timeout:
// any run deadline is the runtime's own concern.
func NewHTTPClient(baseURL, apiKey string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{},
		logger:  logger,
	}
}

// CreateConversation creates a resumable conversation and returns its handle.
func (c *HTTPClient) CreateConversation(ctx context.Context) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.postJSON(ctx, "/v1/conversations", nil, &out); err != nil {
		return "", fmt.Errorf("agentrt: create conversation: %w", err)
	}
	if out.ConversationID == "" {
		return "", fmt.Errorf("agentrt: create conversation: empty handle in response")
	}
	return out.ConversationID, nil
}

// PostMessage appends a user message to an existing conversation.
func (c *HTTPClient) PostMessage(ctx context.Context, conversationID, text string) error {
	in := map[string]string{"content": text}
	if err := c.postJSON(ctx, "/v1/conversations/"+conversationID+"/messages", in, nil); err != nil {
		return fmt.Errorf("agentrt: post message: %w", err)
	}
	return nil
}

// feedRecord is one NDJSON line of the run event feed.
type feedRecord struct {
	Type string `json:"type"`

	// run.status
	Status string `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`

	// step.started / step.completed
	StepID     string `json:"step_id,omitempty"`
	Capability string `json:"capability,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Query      string `json:"query,omitempty"`
	Response   string `json:"response,omitempty"`
	Failed     bool   `json:"failed,omitempty"`

	// run.completed
	Report     string         `json:"report,omitempty"`
	TokenUsage map[string]int `json:"token_usage,omitempty"`
}

// StartRun starts a run on the conversation and consumes the event feed until
// the runtime reports a terminal status, dispatching each record to hooks.
func (c *HTTPClient) StartRun(ctx context.Context, conversationID string, hooks Hooks) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/conversations/"+conversationID+"/runs", strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("agentrt: build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("agentrt: start run: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agentrt: start run: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	terminal := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec feedRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			c.logger.Warn("agentrt: skipping malformed feed record", "error", err)
			continue
		}
		if c.dispatch(rec, hooks) {
			terminal = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("agentrt: read run feed: %w", err)
	}
	if !terminal {
		return fmt.Errorf("agentrt: run feed ended without a terminal status")
	}
	return nil
}

// dispatch translates one feed record into a hook call. Returns true when the
// record reported a terminal run status.
func (c *HTTPClient) dispatch(rec feedRecord, hooks Hooks) bool {
	switch rec.Type {
	case "run.status":
		status := RunStatus(rec.Status)
		if hooks.OnStatus != nil {
			hooks.OnStatus(status, rec.Detail)
		}
		return status.Terminal()
	case "step.started":
		if hooks.OnStepStart != nil {
			hooks.OnStepStart(StepStart{StepID: rec.StepID, Capability: rec.Capability})
		}
	case "step.completed":
		if hooks.OnStepDone != nil {
			hooks.OnStepDone(StepResult{
				StepID:     rec.StepID,
				Capability: rec.Capability,
				Duration:   time.Duration(rec.DurationMS) * time.Millisecond,
				Query:      rec.Query,
				Response:   rec.Response,
				Failed:     rec.Failed,
			})
		}
	case "run.completed":
		if hooks.OnDone != nil {
			hooks.OnDone(Completion{Report: rec.Report, TokenUsage: rec.TokenUsage})
		}
	default:
		c.logger.Debug("agentrt: ignoring unknown feed record", "type", rec.Type)
	}
	return false
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader = strings.NewReader("{}")
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
