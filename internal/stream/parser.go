package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"nexus/internal/logging"
)

// Parser decodes a broadcast response body into an ordered, finite sequence
// of frames. One parser is constructed per response; once Next returns a
// terminal error the parser cannot be reused for another stream.
type Parser struct {
	scanner *bufio.Scanner
	logger  logging.Logger
	done    bool
}

// NewParser wraps an incremental text source, typically an HTTP response body.
func NewParser(r io.Reader, logger logging.Logger) *Parser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return &Parser{
		scanner: scanner,
		logger:  logging.OrNop(logger),
	}
}

// Next returns the next frame in arrival order. It returns io.EOF when the
// underlying transport closes or the done sentinel arrives, and a wrapped
// read error if the transport fails mid-stream.
//
// Lines without the `data:` prefix, empty payloads, and payloads that fail
// JSON decoding are skipped without surfacing an error. This leniency is
// intentional: it tolerates keep-alive comments and malformed partial lines
// without killing an otherwise healthy stream.
func (p *Parser) Next() (Frame, error) {
	if p.done {
		return Frame{}, io.EOF
	}

	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			p.done = true
			return Frame{}, io.EOF
		}

		var frame Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			p.logger.Debug("Dropping undecodable stream line: %v", err)
			continue
		}
		return frame, nil
	}

	p.done = true
	if err := p.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("read response stream: %w", err)
	}
	return Frame{}, io.EOF
}
