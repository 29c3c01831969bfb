// Package broadcast implements the client side of the multi-panel chat
// protocol: one user message fans out to every active panel, the server
// multiplexes all panel responses onto a single stream, and an aggregator
// tracks what each panel has said so far.
package broadcast

import (
	"context"
	"time"
)

// Panel describes one broadcast destination: a layout slot bound to a
// concrete model on a concrete provider.
type Panel struct {
	ID          string `json:"panelId"`
	ModelID     string `json:"modelId"`
	ProviderID  string `json:"providerId"`
	DisplayName string `json:"displayName,omitempty"`
	Position    int    `json:"position"`
	IsActive    bool   `json:"isActive"`
}

// PanelTarget is the wire form of a panel in a broadcast request. Targets are
// copied from the active panel set at submission time, so reconfiguring a
// panel mid-flight never affects an in-progress broadcast.
type PanelTarget struct {
	PanelID    string `json:"panelId"`
	ModelID    string `json:"modelId"`
	ProviderID string `json:"providerId"`
}

// Request is the outbound body sent to the multiplexed streaming endpoint.
type Request struct {
	ConversationID string        `json:"conversationId"`
	BroadcastID    string        `json:"broadcastId"`
	Message        string        `json:"message"`
	Panels         []PanelTarget `json:"panels"`
}

// Message is a durable conversation record. The reactive store owns this
// data; the session only writes the user prompt and completed assistant
// replies into it.
type Message struct {
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	PanelID        string    `json:"panelId,omitempty"`
	BroadcastID    string    `json:"broadcastId,omitempty"`
	IsComplete     bool      `json:"isComplete"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageRepository persists messages to the external reactive store.
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg Message) error
}
