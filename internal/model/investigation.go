package model

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// AttemptStatus is the lifecycle state of one run attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptRunning   AttemptStatus = "running"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// RunAttempt is one execution of the agent runtime's run-to-completion call.
// Created by the retry supervisor before each driver invocation, discarded
// once its terminal status has been inspected.
type RunAttempt struct {
	Number         int           `json:"number"`
	ConversationID string        `json:"conversation_id"`
	Status         AttemptStatus `json:"status"`
	// FailureDetail is an opaque string from the runtime's failure payload.
	// The bridge formats it into the recovery message and the final error
	// payload but never branches on its internal structure.
	FailureDetail string         `json:"failure_detail,omitempty"`
	Steps         int            `json:"steps"`
	TokenUsage    map[string]int `json:"token_usage,omitempty"`
	FinalReport   string         `json:"final_report,omitempty"`
}

// InvestigationStatus is the terminal state recorded for an investigation.
type InvestigationStatus string

const (
	InvestigationRunning   InvestigationStatus = "running"
	InvestigationSucceeded InvestigationStatus = "succeeded"
	InvestigationFailed    InvestigationStatus = "failed"
)

// Investigation is one end-to-end client request, spanning one or more run
// attempts on a shared conversation.
type Investigation struct {
	ID             uuid.UUID           `json:"id"`
	Input          string              `json:"input"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Status         InvestigationStatus `json:"status"`
	Attempts       int                 `json:"attempts"`
	Steps          int                 `json:"steps"`
	FinalReport    string              `json:"final_report,omitempty"`
	FailureDetail  string              `json:"failure_detail,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// NewInvestigation constructs a running investigation for the given input.
func NewInvestigation(input string) *Investigation {
	return &Investigation{
		ID:        uuid.New(),
		Input:     input,
		Status:    InvestigationRunning,
		StartedAt: time.Now().UTC(),
	}
}

// MaxInputLen bounds the free-text investigation input.
const MaxInputLen = 8192

// ValidateInput checks the submitted investigation text.
func ValidateInput(input string) error {
	if input == "" {
		return fmt.Errorf("input must not be empty")
	}
	if len(input) > MaxInputLen {
		return fmt.Errorf("input exceeds %d bytes", MaxInputLen)
	}
	if !utf8.ValidString(input) {
		return fmt.Errorf("input must be valid UTF-8")
	}
	return nil
}
