// Package model defines the core domain types for Inquest: the event
// envelopes pushed to the dashboard stream and the investigation/attempt
// lifecycle records. Envelopes are immutable value types — constructed once
// by the run driver (or the synthetic walkthrough), serialized once, never
// persisted.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of stream event types.
type EventKind string

const (
	EventRunStart     EventKind = "run_start"
	EventStepThinking EventKind = "step_thinking"
	EventStepStart    EventKind = "step_start"
	EventStepComplete EventKind = "step_complete"
	EventMessage      EventKind = "message"
	EventError        EventKind = "error"
	EventRunComplete  EventKind = "run_complete"
)

// Envelope is one typed unit of the outbound event stream.
type Envelope struct {
	Kind    EventKind `json:"kind"`
	Payload any       `json:"payload"`
}

// EncodeSSE serializes the envelope as a Server-Sent Events frame:
// "event: <kind>\ndata: <json>\n\n".
func (e Envelope) EncodeSSE() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("model: marshal %s payload: %w", e.Kind, err)
	}
	return []byte("event: " + string(e.Kind) + "\ndata: " + string(data) + "\n\n"), nil
}

// RunStartPayload announces the investigation. Emitted exactly once per
// investigation, by whichever attempt creates the conversation.
type RunStartPayload struct {
	InvestigationID uuid.UUID `json:"investigation_id"`
	Input           string    `json:"input"`
	StartedAt       time.Time `json:"started_at"`
}

// StepThinkingPayload signals which capability is about to act. Always
// immediately followed by the matching step_start.
type StepThinkingPayload struct {
	Capability string `json:"capability"`
	Status     string `json:"status"`
}

// StepStatusThinking is the fixed status marker carried by step_thinking.
const StepStatusThinking = "thinking"

// StepStartPayload marks the beginning of one delegated sub-call.
type StepStartPayload struct {
	StepID     string `json:"step_id"`
	Capability string `json:"capability"`
}

// StepCompletePayload marks the end of one delegated sub-call. Error is true
// when the sub-call's own result carried a structured error payload — a data
// error surfaced to the client, never escalated to a run-level failure.
type StepCompletePayload struct {
	StepID     string `json:"step_id"`
	Capability string `json:"capability"`
	DurationMS int64  `json:"duration_ms"`
	Query      string `json:"query"`
	Response   string `json:"response"`
	Error      bool   `json:"error,omitempty"`
}

// MessagePayload carries the final synthesized report.
type MessagePayload struct {
	Content string `json:"content"`
}

// ErrorPayload is the single run-level failure surfaced to the client, only
// after all retry budget is exhausted.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RunCompletePayload closes a successful stream.
type RunCompletePayload struct {
	Steps      int            `json:"steps"`
	TokenUsage map[string]int `json:"token_usage,omitempty"`
	ElapsedMS  int64          `json:"elapsed_ms"`
}
