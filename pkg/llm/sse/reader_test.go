package sse_test

import (
	"io"
	"strings"
	"testing"

	"github.com/bitop-dev/sidechat/pkg/llm/sse"
)

func collect(r io.Reader) []sse.Event {
	rd := sse.NewReader(r)
	var out []sse.Event
	for {
		ev, err := rd.Next()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

func events(input string) []sse.Event {
	return collect(strings.NewReader(input))
}

func TestReader_SingleEvent(t *testing.T) {
	evs := events("data: hello\n\n")
	if len(evs) != 1 {
		t.Fatalf("want 1 event, got %d", len(evs))
	}
	if evs[0].Data != "hello" {
		t.Errorf("data = %q, want %q", evs[0].Data, "hello")
	}
}

func TestReader_EventWithType(t *testing.T) {
	evs := events("event: content_block_delta\ndata: {\"x\":1}\n\n")
	if len(evs) != 1 {
		t.Fatalf("want 1 event, got %d", len(evs))
	}
	if evs[0].Type != "content_block_delta" {
		t.Errorf("type = %q", evs[0].Type)
	}
	if evs[0].Data != `{"x":1}` {
		t.Errorf("data = %q", evs[0].Data)
	}
}

func TestReader_MultipleEvents(t *testing.T) {
	evs := events("data: one\n\ndata: two\n\ndata: three\n\n")
	want := []string{"one", "two", "three"}
	if len(evs) != len(want) {
		t.Fatalf("want %d events, got %d", len(want), len(evs))
	}
	for i, w := range want {
		if evs[i].Data != w {
			t.Errorf("event[%d].Data = %q, want %q", i, evs[i].Data, w)
		}
	}
}

// chunkedReader delivers the input in fixed-size pieces, forcing frames to
// split across raw reads.
type chunkedReader struct {
	rest []byte
	size int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.rest) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.rest) {
		n = len(c.rest)
	}
	n = copy(p, c.rest[:n])
	c.rest = c.rest[n:]
	return n, nil
}

func TestReader_FrameSplitAcrossReads(t *testing.T) {
	input := `data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n\n"
	// Split mid-JSON: every read delivers at most 7 bytes.
	evs := collect(&chunkedReader{rest: []byte(input), size: 7})
	if len(evs) != 1 {
		t.Fatalf("want exactly 1 event, got %d", len(evs))
	}
	if evs[0].Data != `{"choices":[{"delta":{"content":"Hello"}}]}` {
		t.Errorf("data = %q", evs[0].Data)
	}
}

func TestReader_SkipsComments(t *testing.T) {
	evs := events(": keepalive\ndata: real\n\n")
	if len(evs) != 1 || evs[0].Data != "real" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestReader_MultilineData(t *testing.T) {
	evs := events("data: line1\ndata: line2\n\n")
	if len(evs) != 1 {
		t.Fatalf("want 1 event, got %d", len(evs))
	}
	if evs[0].Data != "line1\nline2" {
		t.Errorf("data = %q, want %q", evs[0].Data, "line1\nline2")
	}
}

func TestReader_CRLF(t *testing.T) {
	evs := events("event: ping\r\ndata: pong\r\n\r\n")
	if len(evs) != 1 || evs[0].Type != "ping" || evs[0].Data != "pong" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestReader_TruncatedFinalEvent(t *testing.T) {
	// Stream closes without the terminating blank line.
	evs := events("data: done-ish")
	if len(evs) != 1 || evs[0].Data != "done-ish" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestReader_EmptyStream(t *testing.T) {
	if evs := events(""); len(evs) != 0 {
		t.Errorf("want 0 events, got %d", len(evs))
	}
}

func TestReader_DoneSentinelSurfaced(t *testing.T) {
	evs := events("data: [DONE]\n\n")
	if len(evs) != 1 || evs[0].Data != "[DONE]" {
		t.Fatalf("events = %+v", evs)
	}
}
