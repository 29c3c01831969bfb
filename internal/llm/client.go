package llm

import "context"

// ChatMessage is one turn of a conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one streaming completion call.
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// Client streams chat completions from one upstream model.
type Client interface {
	// StreamChat issues the request and invokes onDelta for each content
	// fragment in arrival order. It returns once the upstream stream ends.
	StreamChat(ctx context.Context, req ChatRequest, onDelta func(delta string)) error
	// Model returns the model identifier this client targets.
	Model() string
}
