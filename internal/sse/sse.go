// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package sse implements server-sent event framing: an Encoder for
// relaying events to HTTP clients and a Decoder for consuming upstream
// event streams.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event is one decoded server-sent event. Data holds the JSON-decoded
// payload when the payload parses as JSON, the raw string otherwise.
type Event struct {
	Type string
	Data any
	Raw  string
}

// Encoder writes events in SSE wire format, flushing after each frame so
// clients see events as they happen.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps w. When w implements http.Flusher every frame is
// flushed immediately; httptest recorders that don't still get the bytes.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// WriteEvent emits one frame. Multi-line data gets one data: line per
// payload line, as the protocol requires.
func (e *Encoder) WriteEvent(event, data string) error {
	if _, err := fmt.Fprintf(e.w, "event: %s\n", event); err != nil {
		return err
	}
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(e.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(e.w, "\n"); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// WriteJSON marshals v and emits it as one frame.
func (e *Encoder) WriteJSON(event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.WriteEvent(event, string(b))
}

// Decoder reads SSE frames from an upstream stream. Frames are delimited
// by a blank line; within a frame, "event: " sets the event type and
// every "data: " line contributes to the payload. Payload lines are
// concatenated without a separator. Frames that never name an event are
// dropped.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder wraps r. The internal buffer accommodates frames up to 1 MiB.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	sc.Split(scanFrames)
	return &Decoder{sc: sc}
}

// Next returns the next decodable event, skipping frames without an event
// type. It returns io.EOF when the stream ends.
func (d *Decoder) Next() (Event, error) {
	for d.sc.Scan() {
		ev, ok := parseFrame(d.sc.Bytes())
		if !ok {
			continue
		}
		return ev, nil
	}
	if err := d.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// scanFrames is a bufio.SplitFunc producing frames delimited by "\n\n".
func scanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	if atEOF {
		return 0, nil, nil
	}
	return 0, nil, nil
}

func parseFrame(frame []byte) (Event, bool) {
	var ev Event
	var data strings.Builder
	sawEvent := false

	for _, line := range bytes.Split(frame, []byte("\n")) {
		// Servers emitting CRLF leave a trailing \r on every line.
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case bytes.HasPrefix(line, []byte("event: ")):
			ev.Type = strings.TrimSpace(string(line[len("event: "):]))
			sawEvent = true
		case bytes.HasPrefix(line, []byte("data: ")):
			data.Write(line[len("data: "):])
		}
	}
	if !sawEvent {
		return Event{}, false
	}

	ev.Raw = data.String()
	var decoded any
	if err := json.Unmarshal([]byte(ev.Raw), &decoded); err == nil {
		ev.Data = decoded
	} else {
		ev.Data = ev.Raw
	}
	return ev, true
}
