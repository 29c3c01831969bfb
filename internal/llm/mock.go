package llm

import "context"

// MockClient replays scripted deltas. Tests script it directly; the factory
// hands one out for the built-in "mock" provider.
type MockClient struct {
	ModelID string
	Deltas  []string
	Err     error
}

func (m *MockClient) Model() string {
	return m.ModelID
}

// StreamChat replays the scripted deltas, then returns Err if set. Context
// cancellation is honored between deltas.
func (m *MockClient) StreamChat(ctx context.Context, _ ChatRequest, onDelta func(string)) error {
	for _, delta := range m.Deltas {
		if err := ctx.Err(); err != nil {
			return err
		}
		onDelta(delta)
	}
	return m.Err
}
