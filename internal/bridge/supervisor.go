package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/opsgrid/inquest/internal/agentrt"
	"github.com/opsgrid/inquest/internal/model"
)

// DefaultMaxAttempts is the retry policy constant: one retry, never more.
const DefaultMaxAttempts = 2

// Archive records investigation outcomes. Nil-safe at the call sites so the
// bridge runs without a database.
type Archive interface {
	CreateInvestigation(ctx context.Context, inv *model.Investigation) error
	CompleteInvestigation(ctx context.Context, inv *model.Investigation) error
}

// Supervisor owns the retry policy for investigations: run attempt 1, inspect
// its terminal status, and if it failed, run a bounded number of further
// attempts on the same conversation with an injected recovery instruction.
// Every failure consumes one unit of retry budget — the supervisor draws no
// distinction between transient and permanent causes.
type Supervisor struct {
	rt          agentrt.Client
	maxAttempts int
	archive     Archive
	logger      *slog.Logger
}

var bridgeMeter = otel.GetMeterProvider().Meter("inquest/bridge")

// NewSupervisor creates a supervisor. archive may be nil. maxAttempts values
// below 1 fall back to DefaultMaxAttempts.
func NewSupervisor(rt agentrt.Client, maxAttempts int, archive Archive, logger *slog.Logger) *Supervisor {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Supervisor{rt: rt, maxAttempts: maxAttempts, archive: archive, logger: logger}
}

// Run executes the investigation on the calling goroutine, pushing every
// envelope to out in driver order. Attempts are concatenated, never
// interleaved: attempt n+1 does not start until attempt n's relay — sentinel
// included — has been fully drained and the retry decision made. Exactly one
// sentinel is pushed to out, from a deferred path, once the investigation is
// terminal.
//
// The ctx passed here governs the server-side run, not the client connection:
// callers must not tie it to a disconnectable request context.
func (s *Supervisor) Run(ctx context.Context, inv *model.Investigation, out *Relay) {
	defer out.PushSentinel()

	logger := s.logger.With("investigation_id", inv.ID)
	if s.archive != nil {
		if err := s.archive.CreateInvestigation(ctx, inv); err != nil {
			logger.Warn("archive create failed", "error", err)
		}
	}

	var last *model.RunAttempt
	injected := ""
	for n := 1; n <= s.maxAttempts; n++ {
		attempt := s.runAttempt(ctx, inv, out, n, injected)
		addCounter(ctx, "inquest.bridge.attempts", 1)

		inv.Attempts = n
		inv.Steps += attempt.Steps
		if inv.ConversationID == "" {
			inv.ConversationID = attempt.ConversationID
		}
		last = attempt

		if attempt.Status == model.AttemptSucceeded {
			inv.Status = model.InvestigationSucceeded
			inv.FinalReport = attempt.FinalReport
			s.finish(ctx, inv, logger)
			return
		}

		logger.Warn("attempt failed",
			"attempt", n,
			"detail", attempt.FailureDetail,
			"will_retry", n < s.maxAttempts)

		if n < s.maxAttempts {
			addCounter(ctx, "inquest.bridge.retries", 1)
			injected = recoveryMessage(attempt.FailureDetail)
		}
	}

	// Budget exhausted. This is the one place the bridge reports a run-level
	// failure to the client.
	inv.Status = model.InvestigationFailed
	inv.FailureDetail = last.FailureDetail
	out.Push(model.Envelope{Kind: model.EventError, Payload: model.ErrorPayload{
		Message: fmt.Sprintf("investigation failed after %d attempts: %s", s.maxAttempts, last.FailureDetail),
	}})
	s.finish(ctx, inv, logger)
}

// runAttempt spawns one driver on its own goroutine and forwards its relay
// output to out until the attempt sentinel. The driver pushes its sentinel
// from a deferred path before its goroutine returns, so once the sentinel is
// drained the result is (or is about to be) on resCh — the receive below is
// the join that guarantees no late envelope can follow.
func (s *Supervisor) runAttempt(ctx context.Context, inv *model.Investigation, out *Relay, n int, injected string) *model.RunAttempt {
	attemptRelay := NewRelay()
	driver := NewDriver(s.rt, attemptRelay, s.logger)

	resCh := make(chan *model.RunAttempt, 1)
	go func() {
		resCh <- driver.Start(ctx, StartInput{
			InvestigationID: inv.ID,
			Input:           inv.Input,
			StartedAt:       inv.StartedAt,
			ConversationID:  inv.ConversationID,
			InjectedMessage: injected,
			Attempt:         n,
			PriorSteps:      inv.Steps,
		})
	}()

	for {
		env, ok, err := attemptRelay.Drain(ctx)
		if err != nil {
			// The run context was cancelled (process shutdown). Let the
			// driver finish on its own; its result still decides the state.
			break
		}
		if !ok {
			break
		}
		out.Push(env)
	}
	return <-resCh
}

func (s *Supervisor) finish(ctx context.Context, inv *model.Investigation, logger *slog.Logger) {
	now := time.Now().UTC()
	inv.CompletedAt = &now
	if s.archive != nil {
		if err := s.archive.CompleteInvestigation(ctx, inv); err != nil {
			logger.Warn("archive complete failed", "error", err)
		}
	}
	logger.Info("investigation finished",
		"status", inv.Status,
		"attempts", inv.Attempts,
		"steps", inv.Steps,
		"elapsed_ms", now.Sub(inv.StartedAt).Milliseconds())
}

// recoveryMessage builds the instruction injected into the shared
// conversation before a retry. The failure detail is treated as opaque text.
func recoveryMessage(detail string) string {
	return fmt.Sprintf(
		"The previous attempt failed with: %s. Continue the investigation using the remaining capabilities and produce a partial report from what you have gathered so far.",
		detail)
}

// addCounter records a bridge counter, best-effort.
func addCounter(ctx context.Context, name string, v int64) {
	if counter, err := bridgeMeter.Int64Counter(name); err == nil {
		counter.Add(ctx, v)
	}
}
