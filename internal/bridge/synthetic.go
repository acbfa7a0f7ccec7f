package bridge

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsgrid/inquest/internal/model"
)

// defaultWalkthroughCapabilities is the canned capability sequence used when
// no registry is available to name real ones.
var defaultWalkthroughCapabilities = []string{"GraphExplorer", "RunbookKB", "TelemetryLens"}

// SyntheticSequence produces the deterministic envelope sequence streamed
// when the configuration gate reports not-ready: a complete, well-formed
// walkthrough so an unconfigured deployment looks identical to a live one
// from the frontend's perspective. No runtime machinery is touched.
func SyntheticSequence(input string, capabilities []string) []model.Envelope {
	if len(capabilities) == 0 {
		capabilities = defaultWalkthroughCapabilities
	}

	start := time.Now().UTC()
	envs := make([]model.Envelope, 0, 3*len(capabilities)+3)
	envs = append(envs, model.Envelope{Kind: model.EventRunStart, Payload: model.RunStartPayload{
		InvestigationID: uuid.New(),
		Input:           input,
		StartedAt:       start,
	}})

	for i, capability := range capabilities {
		stepID := fmt.Sprintf("synthetic-step-%d", i+1)
		envs = append(envs,
			model.Envelope{Kind: model.EventStepThinking, Payload: model.StepThinkingPayload{
				Capability: capability,
				Status:     model.StepStatusThinking,
			}},
			model.Envelope{Kind: model.EventStepStart, Payload: model.StepStartPayload{
				StepID:     stepID,
				Capability: capability,
			}},
			model.Envelope{Kind: model.EventStepComplete, Payload: model.StepCompletePayload{
				StepID:     stepID,
				Capability: capability,
				DurationMS: int64(350 * (i + 1)),
				Query:      fmt.Sprintf("synthetic query for %q", input),
				Response:   fmt.Sprintf("%s returned 3 rows (synthetic)", capability),
			}},
		)
	}

	envs = append(envs,
		model.Envelope{Kind: model.EventMessage, Payload: model.MessagePayload{
			Content: "## Investigation report (demo mode)\n\n" +
				"The agent runtime is not configured on this deployment, so this is a " +
				"canned walkthrough. Each capability above was exercised with a synthetic " +
				"query; connect a runtime endpoint to run real investigations.",
		}},
		model.Envelope{Kind: model.EventRunComplete, Payload: model.RunCompletePayload{
			Steps:     len(capabilities),
			ElapsedMS: int64(350 * len(capabilities) * 2),
		}},
	)
	return envs
}

// SyntheticRelay loads a relay with the full synthetic sequence, sentinel
// included, ready for a publisher to drain. The returned done channel is
// already closed: there is no worker to join.
func SyntheticRelay(input string, capabilities []string) (*Relay, <-chan struct{}) {
	relay := NewRelay()
	for _, env := range SyntheticSequence(input, capabilities) {
		relay.Push(env)
	}
	relay.PushSentinel()
	done := make(chan struct{})
	close(done)
	return relay, done
}
