package scan

import (
	"bufio"
	"encoding/json"
	"io"
)

const defaultBufferSize = 64 * 1024

// Parser parses a JSON-lines scanner feed.
//
// The channel returned by Parse is closed when the reader is exhausted or
// fails. A read failure, including a line over the size limit, is delivered
// as a final event with Err set. Malformed lines are skipped so one garbled
// scan does not stop the feed.
type Parser interface {
	Parse(reader io.Reader) <-chan Event
}

// DefaultParser implements [Parser] with a buffered line scanner.
type DefaultParser struct {
	// BufferSize is the maximum size in bytes for a single line.
	// Defaults to 64KB if not set or <= 0.
	BufferSize int
}

// NewParser creates a new [DefaultParser] with default settings.
func NewParser() *DefaultParser {
	return &DefaultParser{BufferSize: defaultBufferSize}
}

// Parse reads the feed and emits parsed events on the returned channel.
//
// The consumer must drain the channel; the reading goroutine blocks until
// every event has been received.
func (p *DefaultParser) Parse(reader io.Reader) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		bufSize := p.BufferSize
		if bufSize <= 0 {
			bufSize = defaultBufferSize
		}
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, min(4096, bufSize)), bufSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var raw StreamEvent
			if err := json.Unmarshal(line, &raw); err != nil {
				continue
			}
			events <- NewEventFromStream(&raw)
		}
		if err := scanner.Err(); err != nil {
			events <- Event{Err: err}
		}
	}()

	return events
}

// ParseSingle parses one feed line into an [Event]. Unlike [Parser.Parse]
// it reports malformed input.
func ParseSingle(line string) (Event, error) {
	var raw StreamEvent
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{}, err
	}
	return NewEventFromStream(&raw), nil
}
