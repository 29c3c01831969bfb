package broadcast

import (
	"fmt"
	"testing"

	"nexus/internal/stream"
)

func delta(panelID, content string) stream.Frame {
	return stream.Frame{PanelID: panelID, Content: content}
}

func done(panelID string) stream.Frame {
	return stream.Frame{PanelID: panelID, Done: true}
}

func failed(panelID, msg string) stream.Frame {
	return stream.Frame{PanelID: panelID, Error: msg, Done: true}
}

func mustState(t *testing.T, agg *Aggregator, panelID string) PanelState {
	t.Helper()
	state, ok := agg.PanelState(panelID)
	if !ok {
		t.Fatalf("panel %s not tracked", panelID)
	}
	return state
}

func TestAggregatorAppendOnlyAccumulation(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.BeginBroadcast([]string{"p1"})

	var want string
	for i := 0; i < 10; i++ {
		chunk := fmt.Sprintf("chunk-%d ", i)
		want += chunk
		agg.ApplyFrame(delta("p1", chunk))

		state := mustState(t, agg, "p1")
		if state.AccumulatedText != want {
			t.Fatalf("after %d frames: text = %q, want %q", i+1, state.AccumulatedText, want)
		}
		if state.Status != StatusStreaming {
			t.Fatalf("status = %s, want streaming", state.Status)
		}
	}
}

func TestAggregatorEmptyDeltaKeepsStreaming(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.BeginBroadcast([]string{"p1"})

	agg.ApplyFrame(delta("p1", ""))
	state := mustState(t, agg, "p1")
	if state.Status != StatusStreaming {
		t.Fatalf("status = %s, want streaming", state.Status)
	}
	if state.AccumulatedText != "" {
		t.Fatalf("text = %q, want empty", state.AccumulatedText)
	}
}

func TestAggregatorTerminalStateExclusivity(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.BeginBroadcast([]string{"p1", "p2"})

	agg.ApplyFrame(delta("p1", "hello"))
	agg.ApplyFrame(done("p1"))
	agg.ApplyFrame(failed("p2", "upstream exploded"))

	// Late frames must not alter terminal panels.
	agg.ApplyFrame(delta("p1", "more"))
	agg.ApplyFrame(failed("p1", "late failure"))
	agg.ApplyFrame(delta("p2", "more"))
	agg.ApplyFrame(done("p2"))

	p1 := mustState(t, agg, "p1")
	if p1.Status != StatusCompleted || p1.AccumulatedText != "hello" || p1.ErrorMessage != "" {
		t.Fatalf("p1 mutated after completion: %+v", p1)
	}

	p2 := mustState(t, agg, "p2")
	if p2.Status != StatusError || p2.ErrorMessage != "upstream exploded" || p2.AccumulatedText != "" {
		t.Fatalf("p2 mutated after error: %+v", p2)
	}
}

func TestAggregatorPendingToTerminalDirect(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.BeginBroadcast([]string{"p1", "p2"})

	// A panel may finish without ever streaming a delta.
	agg.ApplyFrame(done("p1"))
	agg.ApplyFrame(failed("p2", "immediate failure"))

	if state := mustState(t, agg, "p1"); state.Status != StatusCompleted {
		t.Fatalf("p1 status = %s, want completed", state.Status)
	}
	if state := mustState(t, agg, "p2"); state.Status != StatusError {
		t.Fatalf("p2 status = %s, want error", state.Status)
	}
	if agg.IsAnyActive() {
		t.Fatal("expected no active panels")
	}
}

func TestAggregatorIgnoresUntrackedPanels(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.BeginBroadcast([]string{"p1"})

	// Frames from a previous broadcast's panel must not leak in.
	agg.ApplyFrame(delta("stale", "ghost"))

	if _, ok := agg.PanelState("stale"); ok {
		t.Fatal("untracked panel should not be created")
	}
	if state := mustState(t, agg, "p1"); state.Status != StatusPending {
		t.Fatalf("p1 status = %s, want pending", state.Status)
	}
}

func TestAggregatorBeginBroadcastResets(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.BeginBroadcast([]string{"p1", "p2"})
	agg.ApplyFrame(delta("p1", "old text"))
	agg.ApplyFrame(done("p2"))

	agg.BeginBroadcast([]string{"p1", "p3"})

	p1 := mustState(t, agg, "p1")
	if p1.Status != StatusPending || p1.AccumulatedText != "" {
		t.Fatalf("p1 not reset: %+v", p1)
	}
	if _, ok := agg.PanelState("p2"); ok {
		t.Fatal("p2 should have been discarded")
	}
	if state := mustState(t, agg, "p3"); state.Status != StatusPending {
		t.Fatalf("p3 status = %s, want pending", state.Status)
	}
}

func TestAggregatorFailActive(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.BeginBroadcast([]string{"p1", "p2", "p3"})

	agg.ApplyFrame(delta("p1", "partial"))
	agg.ApplyFrame(done("p3"))

	agg.FailActive("transport lost")

	p1 := mustState(t, agg, "p1")
	if p1.Status != StatusError || p1.ErrorMessage != "transport lost" {
		t.Fatalf("p1 = %+v, want errored", p1)
	}
	if p1.AccumulatedText != "partial" {
		t.Fatalf("p1 lost accumulated text: %q", p1.AccumulatedText)
	}

	if state := mustState(t, agg, "p2"); state.Status != StatusError {
		t.Fatalf("p2 status = %s, want error", state.Status)
	}

	// Panels already terminal are untouched.
	if state := mustState(t, agg, "p3"); state.Status != StatusCompleted {
		t.Fatalf("p3 status = %s, want completed", state.Status)
	}

	if agg.IsAnyActive() {
		t.Fatal("expected no active panels after FailActive")
	}
}

func TestAggregatorClear(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.BeginBroadcast([]string{"p1"})
	agg.ApplyFrame(delta("p1", "text"))

	agg.Clear()

	if len(agg.States()) != 0 {
		t.Fatal("expected no tracked panels after Clear")
	}
	if agg.IsAnyActive() {
		t.Fatal("expected no active panels after Clear")
	}
}
