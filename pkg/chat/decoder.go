package chat

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// StreamDecoder turns raw text chunks of an SSE-framed response body into
// discrete stream events. It buffers a single growing line fragment across
// chunk boundaries, so the emitted event sequence is identical for every
// possible re-chunking of the same byte stream.
//
// The frame grammar is two lines: `event: <name>` sets the current event name,
// `data: <json>` carries its payload. A `done` event marks stream completion.
// Malformed JSON on a data line is skipped and decoding continues.
type StreamDecoder struct {
	buf   string
	event string
	done  bool
}

const (
	eventPrefix = "event: "
	dataPrefix  = "data: "
)

// Feed appends a chunk and returns all events whose payload line became
// complete, in arrival order.
func (d *StreamDecoder) Feed(chunk string) []StreamEvent {
	if d.done || chunk == "" {
		return nil
	}
	d.buf += chunk
	lines := strings.Split(d.buf, "\n")
	d.buf = lines[len(lines)-1]

	var out []StreamEvent
	for _, line := range lines[:len(lines)-1] {
		if ev, ok := d.processLine(line); ok {
			out = append(out, ev)
		}
		if d.done {
			break
		}
	}
	return out
}

func (d *StreamDecoder) processLine(line string) (StreamEvent, bool) {
	switch {
	case strings.HasPrefix(line, eventPrefix):
		d.event = strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
		return StreamEvent{}, false
	case strings.HasPrefix(line, dataPrefix):
		name := d.event
		d.event = ""
		var payload map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, dataPrefix)), &payload); err != nil {
			log.Debug().Str("component", "stream_decoder").Err(err).Msg("skipping malformed data line")
			return StreamEvent{}, false
		}
		if name == EventDone {
			d.done = true
			return StreamEvent{}, false
		}
		if name == "" {
			return StreamEvent{}, false
		}
		return StreamEvent{Name: name, Payload: payload}, true
	default:
		return StreamEvent{}, false
	}
}

// Done reports whether an explicit done event was decoded.
func (d *StreamDecoder) Done() bool { return d.done }
