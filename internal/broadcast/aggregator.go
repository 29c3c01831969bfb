package broadcast

import (
	"strings"
	"sync"

	"nexus/internal/stream"
)

// PanelStatus is the lifecycle state of one panel within a broadcast.
type PanelStatus string

const (
	StatusPending   PanelStatus = "pending"
	StatusStreaming PanelStatus = "streaming"
	StatusCompleted PanelStatus = "completed"
	StatusError     PanelStatus = "error"
)

// IsTerminal reports whether the status permits no further transitions
// within the current broadcast.
func (s PanelStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// PanelState is a read-only snapshot of one panel's accumulation state.
type PanelState struct {
	PanelID         string
	Status          PanelStatus
	AccumulatedText string
	ErrorMessage    string
}

type panelState struct {
	status       PanelStatus
	text         strings.Builder
	errorMessage string
}

// Aggregator owns the mutable per-panel view of the current broadcast. Only
// the latest broadcast's panel states are retained; BeginBroadcast discards
// everything else.
//
// All methods are safe for concurrent use: the session's frame pump and any
// observer goroutines may touch the aggregator at the same time.
type Aggregator struct {
	mu     sync.Mutex
	panels map[string]*panelState
}

// NewAggregator constructs an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{panels: make(map[string]*panelState)}
}

// BeginBroadcast resets state for exactly the given panels to pending with
// empty text. Panel state left over from a previous broadcast is discarded.
func (a *Aggregator) BeginBroadcast(panelIDs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.panels = make(map[string]*panelState, len(panelIDs))
	for _, id := range panelIDs {
		a.panels[id] = &panelState{status: StatusPending}
	}
}

// ApplyFrame merges one parsed frame into panel state.
//
// Frames for panels outside the current broadcast's tracked set are dropped;
// after a rapid resubmission a late frame from the previous broadcast must
// not leak into the new one. Frames for panels already in a terminal state
// are likewise dropped.
func (a *Aggregator) ApplyFrame(frame stream.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.panels[frame.PanelID]
	if !ok {
		return
	}
	if state.status.IsTerminal() {
		return
	}

	switch {
	case !frame.Done:
		state.status = StatusStreaming
		state.text.WriteString(frame.Content)
	case frame.Error != "":
		state.status = StatusError
		state.errorMessage = frame.Error
	default:
		state.status = StatusCompleted
	}
}

// FailActive marks every panel still pending or streaming as errored with
// the given message. Used when the transport dies mid-stream so no panel is
// left stuck in a non-terminal state.
func (a *Aggregator) FailActive(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, state := range a.panels {
		if state.status.IsTerminal() {
			continue
		}
		state.status = StatusError
		state.errorMessage = message
	}
}

// IsAnyActive reports whether any tracked panel is pending or streaming.
func (a *Aggregator) IsAnyActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, state := range a.panels {
		if !state.status.IsTerminal() {
			return true
		}
	}
	return false
}

// PanelState returns a snapshot of one panel's state.
func (a *Aggregator) PanelState(panelID string) (PanelState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.panels[panelID]
	if !ok {
		return PanelState{}, false
	}
	return snapshotLocked(panelID, state), true
}

// States returns a snapshot of every tracked panel keyed by panel id.
func (a *Aggregator) States() map[string]PanelState {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]PanelState, len(a.panels))
	for id, state := range a.panels {
		out[id] = snapshotLocked(id, state)
	}
	return out
}

// Clear drops all tracked panel state. Called after the display grace period
// once a broadcast finishes.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panels = make(map[string]*panelState)
}

func snapshotLocked(id string, state *panelState) PanelState {
	return PanelState{
		PanelID:         id,
		Status:          state.status,
		AccumulatedText: state.text.String(),
		ErrorMessage:    state.errorMessage,
	}
}
