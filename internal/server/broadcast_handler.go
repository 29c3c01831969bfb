package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"nexus/internal/broadcast"
	"nexus/internal/llm"
	"nexus/internal/stream"
)

const historyLimit = 50

// frameWriter serializes concurrent panel goroutines onto one SSE response.
type frameWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newFrameWriter(w http.ResponseWriter) (*frameWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &frameWriter{w: w, flusher: flusher}, true
}

func (fw *frameWriter) write(frame stream.Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := stream.WriteFrame(fw.w, frame); err != nil {
		return err
	}
	fw.flusher.Flush()
	return nil
}

func (fw *frameWriter) writeDone() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_ = stream.WriteDone(fw.w)
	fw.flusher.Flush()
}

// handleBroadcastStream fans one user message out to every requested panel
// and multiplexes the responses onto a single SSE stream. Each panel runs in
// its own goroutine; a panel failure produces an error frame for that panel
// without disturbing the others.
func (s *Server) handleBroadcastStream(c *gin.Context) {
	var req broadcast.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if len(req.Panels) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one panel is required"})
		return
	}
	seen := make(map[string]bool, len(req.Panels))
	for _, panel := range req.Panels {
		if panel.PanelID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "panel id is required"})
			return
		}
		if seen[panel.PanelID] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate panel id " + panel.PanelID})
			return
		}
		seen[panel.PanelID] = true
	}

	writer, ok := newFrameWriter(c.Writer)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	writer.flusher.Flush()

	s.metrics.BroadcastsTotal.Inc()
	started := time.Now()
	s.logger.Info("Broadcast %s: %d panels, conversation %s",
		req.BroadcastID, len(req.Panels), req.ConversationID)

	history := s.loadHistory(c.Request.Context(), req.ConversationID, req.BroadcastID)

	g, ctx := errgroup.WithContext(c.Request.Context())
	for _, panel := range req.Panels {
		panel := panel
		g.Go(func() error {
			s.streamPanel(ctx, writer, req, panel, history)
			return nil
		})
	}
	_ = g.Wait()

	writer.writeDone()
	s.metrics.BroadcastDuration.Observe(time.Since(started).Seconds())
	s.logger.Info("Broadcast %s: complete in %s", req.BroadcastID, time.Since(started).Round(time.Millisecond))
}

// streamPanel drives one panel's upstream completion, emitting delta frames
// as they arrive and exactly one terminal frame at the end.
func (s *Server) streamPanel(ctx context.Context, writer *frameWriter, req broadcast.Request, panel broadcast.PanelTarget, history []convexHistory) {
	emit := func(frame stream.Frame) {
		kind := "delta"
		switch {
		case frame.Error != "":
			kind = "error"
		case frame.Done:
			kind = "done"
		}
		s.metrics.FramesTotal.WithLabelValues(kind).Inc()
		if err := writer.write(frame); err != nil {
			s.logger.Debug("Broadcast %s: write to client failed: %v", req.BroadcastID, err)
		}
		s.hub.Publish(frame)
	}

	fail := func(message string) {
		s.metrics.PanelErrorsTotal.Inc()
		emit(stream.Frame{PanelID: panel.PanelID, Error: message, Done: true})
	}

	client, err := s.clients.ClientFor(panel.ProviderID, panel.ModelID)
	if err != nil {
		s.logger.Warn("Broadcast %s panel %s: %v", req.BroadcastID, panel.PanelID, err)
		fail("no client available for " + panel.ProviderID + "/" + panel.ModelID)
		return
	}

	chatReq := llm.ChatRequest{Messages: panelMessages(history, panel.PanelID, req.Message)}

	var full strings.Builder
	err = client.StreamChat(ctx, chatReq, func(delta string) {
		full.WriteString(delta)
		emit(stream.Frame{PanelID: panel.PanelID, Content: delta})
	})
	if err != nil {
		s.logger.Warn("Broadcast %s panel %s: upstream failed: %v", req.BroadcastID, panel.PanelID, err)
		fail("upstream model request failed")
		return
	}

	emit(stream.Frame{PanelID: panel.PanelID, Done: true})
	s.persistPanelResponse(req, panel, full.String())
}

// persistPanelResponse writes the completed assistant message. Persistence
// failures do not fail the stream; the client already holds the text.
func (s *Server) persistPanelResponse(req broadcast.Request, panel broadcast.PanelTarget, content string) {
	if s.store == nil || req.ConversationID == "" {
		return
	}
	// Detached from the request context: the client closing its stream must
	// not lose the durable record.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := broadcast.Message{
		ConversationID: req.ConversationID,
		Role:           broadcast.RoleAssistant,
		Content:        content,
		PanelID:        panel.PanelID,
		BroadcastID:    req.BroadcastID,
		IsComplete:     true,
		CreatedAt:      time.Now(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.logger.Error("Broadcast %s panel %s: persist response: %v", req.BroadcastID, panel.PanelID, err)
		return
	}
	s.cache.messages.Remove(req.ConversationID)
}

type convexHistory struct {
	role    string
	content string
	panelID string
}

// loadHistory fetches prior conversation turns. Messages belonging to the
// current broadcast are excluded; the submitting client persists the user
// message before opening the stream, and it must not appear twice. Failures
// degrade to an empty history so a storage hiccup cannot block broadcasting.
func (s *Server) loadHistory(ctx context.Context, conversationID, currentBroadcastID string) []convexHistory {
	if s.store == nil || conversationID == "" {
		return nil
	}
	msgs, err := s.store.GetMessages(ctx, conversationID, historyLimit)
	if err != nil {
		s.logger.Warn("Loading history for %s failed: %v", conversationID, err)
		return nil
	}
	out := make([]convexHistory, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.IsComplete {
			continue
		}
		if currentBroadcastID != "" && msg.BroadcastID == currentBroadcastID {
			continue
		}
		out = append(out, convexHistory{role: msg.Role, content: msg.Content, panelID: msg.PanelID})
	}
	return out
}

// panelMessages builds the upstream message list for one panel: every user
// turn plus the assistant turns this panel itself produced, then the new
// message. Other panels' answers are not cross-pollinated.
func panelMessages(history []convexHistory, panelID, newMessage string) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, len(history)+1)
	for _, h := range history {
		switch {
		case h.role == broadcast.RoleUser:
			msgs = append(msgs, llm.ChatMessage{Role: "user", Content: h.content})
		case h.role == broadcast.RoleAssistant && h.panelID == panelID:
			msgs = append(msgs, llm.ChatMessage{Role: "assistant", Content: h.content})
		}
	}
	return append(msgs, llm.ChatMessage{Role: "user", Content: newMessage})
}
