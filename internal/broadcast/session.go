package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"nexus/internal/logging"
	"nexus/internal/stream"
)

// transportErrorMessage is attached to every panel still in flight when the
// stream dies. Panels keep whatever text they accumulated before the failure.
const transportErrorMessage = "connection to the broadcast service was lost"

// incompleteStreamMessage is attached to panels whose terminal frame never
// arrived even though the stream closed cleanly, for example during a server
// shutdown mid-broadcast.
const incompleteStreamMessage = "stream ended before this panel finished"

// defaultGracePeriod keeps final panel states visible briefly before Clear,
// so observers can render the finished bubbles.
const defaultGracePeriod = 2 * time.Second

// Session orchestrates one message submission at a time: persist the prompt,
// open the multiplexed stream, pump frames into the aggregator, and fail over
// cleanly when the transport dies. At most one broadcast is in flight per
// session; concurrent broadcasts are deliberately unsupported.
type Session struct {
	repo   MessageRepository
	client StreamClient
	agg    *Aggregator
	logger logging.Logger

	grace    time.Duration
	newID    func() string
	sleep    func(ctx context.Context, d time.Duration)
	onFinish func(states map[string]PanelState)
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithGracePeriod overrides the post-broadcast display grace period.
func WithGracePeriod(d time.Duration) SessionOption {
	return func(s *Session) { s.grace = d }
}

// WithIDGenerator overrides broadcast id generation, used by tests.
func WithIDGenerator(fn func() string) SessionOption {
	return func(s *Session) { s.newID = fn }
}

// WithFinishObserver registers a callback invoked with the final panel
// states once a broadcast settles, before the grace period and Clear.
func WithFinishObserver(fn func(states map[string]PanelState)) SessionOption {
	return func(s *Session) { s.onFinish = fn }
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(logger logging.Logger) SessionOption {
	return func(s *Session) { s.logger = logging.OrNop(logger) }
}

// NewSession builds a session around injected collaborators.
func NewSession(repo MessageRepository, client StreamClient, opts ...SessionOption) *Session {
	s := &Session{
		repo:   repo,
		client: client,
		agg:    NewAggregator(),
		logger: logging.Nop(),
		grace:  defaultGracePeriod,
		newID:  uuid.NewString,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Aggregator exposes the panel state tracker for observers.
func (s *Session) Aggregator() *Aggregator {
	return s.agg
}

// Submit runs one end-to-end broadcast of text to the active panels.
//
// Empty (after trimming) text and submissions while a broadcast is already in
// flight are silent no-ops. A failed durable write of the user message aborts
// the submission before any panel state is created. A transport failure
// before or during streaming marks every non-terminal panel as errored, so no
// panel is ever left stuck.
func (s *Session) Submit(ctx context.Context, conversationID, text string, panels []Panel) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if s.agg.IsAnyActive() {
		s.logger.Debug("Ignoring submit: broadcast already in flight")
		return nil
	}

	targets := activeTargets(panels)
	if len(targets) == 0 {
		s.logger.Warn("Ignoring submit: no active panels")
		return nil
	}

	broadcastID := s.newID()

	// The prompt is written durably before streaming begins so a crash
	// mid-stream cannot lose it. Failure here aborts the whole submission
	// and is surfaced once; it is not retried.
	userMsg := Message{
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        trimmed,
		BroadcastID:    broadcastID,
		IsComplete:     true,
		CreatedAt:      time.Now(),
	}
	if err := s.repo.SaveMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}

	panelIDs := make([]string, len(targets))
	for i, target := range targets {
		panelIDs[i] = target.PanelID
	}
	s.agg.BeginBroadcast(panelIDs)

	s.logger.Info("Broadcast %s: %d panels", broadcastID, len(targets))

	req := Request{
		ConversationID: conversationID,
		BroadcastID:    broadcastID,
		Message:        trimmed,
		Panels:         targets,
	}

	body, err := s.client.Open(ctx, req)
	if err != nil {
		s.logger.Warn("Broadcast %s: transport failed before streaming: %v", broadcastID, err)
		s.agg.FailActive(transportErrorMessage)
		s.finish(ctx)
		return fmt.Errorf("open broadcast stream: %w", err)
	}
	defer func() { _ = body.Close() }()

	if err := s.pump(ctx, body); err != nil {
		s.logger.Warn("Broadcast %s: stream failed: %v", broadcastID, err)
		s.agg.FailActive(transportErrorMessage)
		s.finish(ctx)
		return err
	}

	// A clean EOF can still leave panels without a terminal frame when the
	// server closes early; they must not linger as pending.
	if s.agg.IsAnyActive() {
		s.logger.Warn("Broadcast %s: stream closed with unfinished panels", broadcastID)
		s.agg.FailActive(incompleteStreamMessage)
	}

	s.logger.Info("Broadcast %s: stream complete", broadcastID)
	s.finish(ctx)
	return nil
}

// pump drives the frame parser until the stream ends, applying each frame in
// arrival order.
func (s *Session) pump(ctx context.Context, body io.Reader) error {
	parser := stream.NewParser(body, s.logger)
	for {
		frame, err := parser.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s.agg.ApplyFrame(frame)
	}
}

// finish reports final states, waits out the display grace period, then
// clears panel state.
func (s *Session) finish(ctx context.Context) {
	if s.onFinish != nil {
		s.onFinish(s.agg.States())
	}
	s.sleep(ctx, s.grace)
	s.agg.Clear()
}

// activeTargets snapshots the active panels into wire targets.
func activeTargets(panels []Panel) []PanelTarget {
	targets := make([]PanelTarget, 0, len(panels))
	for _, panel := range panels {
		if !panel.IsActive {
			continue
		}
		targets = append(targets, PanelTarget{
			PanelID:    panel.ID,
			ModelID:    panel.ModelID,
			ProviderID: panel.ProviderID,
		})
	}
	return targets
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
