package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsgrid/inquest/internal/agentrt"
	"github.com/opsgrid/inquest/internal/model"
)

// Driver executes exactly one attempt of an investigation to completion or
// failure, translating runtime callbacks into envelopes pushed onto its
// relay. It is meant to run on a dedicated goroutine: Start blocks until the
// runtime reaches a terminal state.
//
// The driver never emits the error envelope — run-level failure surfacing is
// the supervisor's call, after the retry budget is spent. The driver's one
// non-negotiable duty is the relay sentinel: no matter how Start exits, the
// sentinel is pushed before the goroutine ends. Without it the publisher
// would wait forever.
type Driver struct {
	rt     agentrt.Client
	relay  *Relay
	logger *slog.Logger
}

// NewDriver creates a driver pushing to relay.
func NewDriver(rt agentrt.Client, relay *Relay, logger *slog.Logger) *Driver {
	return &Driver{rt: rt, relay: relay, logger: logger}
}

// StartInput parameterizes one attempt.
type StartInput struct {
	InvestigationID uuid.UUID
	Input           string
	StartedAt       time.Time

	// ConversationID is empty on the very first attempt; set on retries so
	// conversation context is preserved.
	ConversationID string
	// InjectedMessage, when non-empty, is posted to the conversation before
	// the run starts. Used by retries to feed the previous failure back in.
	InjectedMessage string
	// Attempt is the 1-based attempt number, for logging.
	Attempt int
	// PriorSteps is the count of steps completed by earlier attempts, so the
	// closing run_complete reports the whole investigation.
	PriorSteps int
}

// Start runs one attempt and returns its terminal record. It blocks until
// the runtime signals a terminal state or the invocation itself faults.
func (d *Driver) Start(ctx context.Context, in StartInput) *model.RunAttempt {
	attempt := &model.RunAttempt{
		Number:         in.Attempt,
		ConversationID: in.ConversationID,
		Status:         model.AttemptPending,
	}
	defer d.relay.PushSentinel()

	logger := d.logger.With("investigation_id", in.InvestigationID, "attempt", in.Attempt)

	if attempt.ConversationID == "" {
		id, err := d.rt.CreateConversation(ctx)
		if err != nil {
			// No callback ever fired; synthesize the failure detail so the
			// supervisor sees the same shape as a status-callback failure.
			logger.Warn("conversation creation failed", "error", err)
			attempt.Status = model.AttemptFailed
			attempt.FailureDetail = "conversation creation failed: " + err.Error()
			return attempt
		}
		attempt.ConversationID = id
		d.relay.Push(model.Envelope{Kind: model.EventRunStart, Payload: model.RunStartPayload{
			InvestigationID: in.InvestigationID,
			Input:           in.Input,
			StartedAt:       in.StartedAt,
		}})
	}

	if in.InjectedMessage != "" {
		if err := d.rt.PostMessage(ctx, attempt.ConversationID, in.InjectedMessage); err != nil {
			logger.Warn("recovery message injection failed", "error", err)
			attempt.Status = model.AttemptFailed
			attempt.FailureDetail = "message injection failed: " + err.Error()
			return attempt
		}
	}

	attempt.Status = model.AttemptRunning

	hooks := agentrt.Hooks{
		OnStatus: func(status agentrt.RunStatus, detail string) {
			if !status.Failure() {
				return
			}
			attempt.Status = model.AttemptFailed
			attempt.FailureDetail = detail
			if attempt.FailureDetail == "" {
				attempt.FailureDetail = "run ended with status " + string(status)
			}
		},
		OnStepStart: func(step agentrt.StepStart) {
			d.relay.Push(model.Envelope{Kind: model.EventStepThinking, Payload: model.StepThinkingPayload{
				Capability: step.Capability,
				Status:     model.StepStatusThinking,
			}})
			d.relay.Push(model.Envelope{Kind: model.EventStepStart, Payload: model.StepStartPayload{
				StepID:     step.StepID,
				Capability: step.Capability,
			}})
		},
		OnStepDone: func(step agentrt.StepResult) {
			attempt.Steps++
			d.relay.Push(model.Envelope{Kind: model.EventStepComplete, Payload: model.StepCompletePayload{
				StepID:     step.StepID,
				Capability: step.Capability,
				DurationMS: step.Duration.Milliseconds(),
				Query:      step.Query,
				Response:   step.Response,
				Error:      step.Failed,
			}})
		},
		OnDone: func(done agentrt.Completion) {
			attempt.Status = model.AttemptSucceeded
			attempt.FinalReport = done.Report
			attempt.TokenUsage = done.TokenUsage
			d.relay.Push(model.Envelope{Kind: model.EventMessage, Payload: model.MessagePayload{
				Content: done.Report,
			}})
		},
	}

	if err := d.rt.StartRun(ctx, attempt.ConversationID, hooks); err != nil {
		if attempt.Status != model.AttemptSucceeded && attempt.Status != model.AttemptFailed {
			attempt.Status = model.AttemptFailed
			attempt.FailureDetail = "run invocation failed: " + err.Error()
		}
		logger.Warn("run invocation error", "error", err, "status", attempt.Status)
		return attempt
	}

	switch attempt.Status {
	case model.AttemptSucceeded:
		d.relay.Push(model.Envelope{Kind: model.EventRunComplete, Payload: model.RunCompletePayload{
			Steps:      in.PriorSteps + attempt.Steps,
			TokenUsage: attempt.TokenUsage,
			ElapsedMS:  time.Since(in.StartedAt).Milliseconds(),
		}})
	case model.AttemptFailed:
		// Recorded on the attempt; the supervisor decides what the client sees.
	default:
		// The runtime returned cleanly but never reported a terminal status.
		attempt.Status = model.AttemptFailed
		attempt.FailureDetail = "runtime returned without a terminal status"
		logger.Warn("run ended without terminal status")
	}
	return attempt
}
