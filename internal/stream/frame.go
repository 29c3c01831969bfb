// Package stream implements the wire format shared by the broadcast client
// and the multiplexed streaming endpoint: newline-delimited SSE-style lines
// of the form `data: <json>`, where each JSON payload is a Frame tagged with
// the panel it belongs to.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Frame is one multiplexed event on a broadcast stream.
//
// A frame with Done=false carries an incremental content delta for its panel.
// A frame with Done=true terminates that panel: with Error set the panel
// failed, otherwise it completed.
type Frame struct {
	PanelID string `json:"panelId"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Done    bool   `json:"done"`
}

// doneSentinel terminates the whole stream, OpenAI-style.
const doneSentinel = "[DONE]"

// WriteFrame serializes a frame as a `data:` line followed by a blank line.
func WriteFrame(w io.Writer, frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteDone emits the stream-terminating sentinel.
func WriteDone(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", doneSentinel); err != nil {
		return fmt.Errorf("write done sentinel: %w", err)
	}
	return nil
}
