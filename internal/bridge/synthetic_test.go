package bridge

import (
	"testing"

	"github.com/opsgrid/inquest/internal/model"
)

func TestSyntheticSequenceShape(t *testing.T) {
	caps := []string{"GraphExplorer", "RunbookKB"}
	envs := SyntheticSequence("why is latency up", caps)

	want := []model.EventKind{
		model.EventRunStart,
		model.EventStepThinking, model.EventStepStart, model.EventStepComplete,
		model.EventStepThinking, model.EventStepStart, model.EventStepComplete,
		model.EventMessage,
		model.EventRunComplete,
	}
	if got := kinds(envs); !kindsEqual(got, want) {
		t.Fatalf("synthetic sequence = %v, want %v", got, want)
	}

	start := envs[0].Payload.(model.RunStartPayload)
	if start.Input != "why is latency up" {
		t.Errorf("run_start input = %q", start.Input)
	}

	// Step identity is consistent across the pair and deterministic.
	s1 := envs[2].Payload.(model.StepStartPayload)
	c1 := envs[3].Payload.(model.StepCompletePayload)
	if s1.StepID != c1.StepID || s1.StepID != "synthetic-step-1" {
		t.Errorf("step ids: start=%q complete=%q", s1.StepID, c1.StepID)
	}
	if s1.Capability != "GraphExplorer" {
		t.Errorf("first capability = %q", s1.Capability)
	}

	done := envs[len(envs)-1].Payload.(model.RunCompletePayload)
	if done.Steps != 2 {
		t.Errorf("run_complete steps = %d, want 2", done.Steps)
	}
}

func TestSyntheticSequenceDefaultCapabilities(t *testing.T) {
	envs := SyntheticSequence("input", nil)
	var steps int
	for _, env := range envs {
		if env.Kind == model.EventStepComplete {
			steps++
		}
	}
	if steps != len(defaultWalkthroughCapabilities) {
		t.Fatalf("steps = %d, want %d", steps, len(defaultWalkthroughCapabilities))
	}
}

func TestSyntheticSequenceIsDeterministic(t *testing.T) {
	a := SyntheticSequence("same input", nil)
	b := SyntheticSequence("same input", nil)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Kind != b[i].Kind {
			t.Fatalf("kind mismatch at %d: %s vs %s", i, a[i].Kind, b[i].Kind)
		}
		// run_start carries a fresh id and timestamp, so compare the fully
		// deterministic step events only.
		if pa, ok := a[i].Payload.(model.StepCompletePayload); ok {
			pb := b[i].Payload.(model.StepCompletePayload)
			if pa != pb {
				t.Fatalf("step payload mismatch at %d: %+v vs %+v", i, pa, pb)
			}
		}
	}
}

func TestSyntheticRelayEndsWithoutWorker(t *testing.T) {
	relay, done := SyntheticRelay("input", nil)

	select {
	case <-done:
	default:
		t.Fatal("synthetic done channel should already be closed")
	}

	envs := drainAll(t, relay)
	if len(envs) == 0 {
		t.Fatal("expected synthetic envelopes")
	}
	if envs[len(envs)-1].Kind != model.EventRunComplete {
		t.Errorf("synthetic stream should close with run_complete: %v", kinds(envs))
	}
}
