// Package sse reads Server-Sent Events framing: "event:"/"data:" lines
// terminated by a blank line. Partial lines are buffered across raw reads,
// so frames split anywhere by the transport still parse whole.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single SSE event with an optional type and data payload.
type Event struct {
	Type string // value of the "event:" field (may be empty)
	Data string // value of the "data:" field(s), joined with "\n"
}

// Reader reads SSE events from an io.Reader. Errors from the underlying
// reader are returned unwrapped, so callers can inspect them with errors.As.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next event. Returns (Event{}, io.EOF) at end of stream.
// A stream that ends mid-event (data seen, no blank-line terminator) yields
// that final event before EOF.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var data []string
	pending := func() bool { return len(data) > 0 || ev.Type != "" }

	for {
		line, err := r.br.ReadString('\n')
		if line != "" {
			if done := r.consume(strings.TrimRight(line, "\r\n"), &ev, &data); done && pending() {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
		}
		if err != nil {
			if err == io.EOF && pending() {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return Event{}, err
		}
	}
}

// consume folds one logical line into the event under construction and
// reports whether the line was an event terminator (blank line).
func (r *Reader) consume(line string, ev *Event, data *[]string) bool {
	if line == "" {
		return true
	}
	if strings.HasPrefix(line, ":") {
		// Comment line — keepalive pings land here.
		return false
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "event":
		ev.Type = value
	case "data":
		*data = append(*data, value)
	}
	// id: and retry: fields are intentionally ignored.
	return false
}
