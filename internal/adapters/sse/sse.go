// Package sse frames and parses the `data:` subset of Server-Sent Events
// used by chat-completion streams.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"
)

// DoneSentinel ends a stream.
const DoneSentinel = "[DONE]"

var doneFrame = []byte("data: " + DoneSentinel + "\n\n")

// Frame wraps one payload as `data: <payload>\n\n`. Payloads must not
// contain newlines; JSON from encoding/json never does.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}

// Writer emits frames and flushes after each one. The first write error is
// sticky: once the client is gone every later call returns it.
type Writer struct {
	w     io.Writer
	flush func() error
	err   error
}

// NewWriter frames onto w without flushing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, flush: func() error { return nil }}
}

// NewHTTPWriter commits the event-stream headers and returns a flushing writer.
func NewHTTPWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	return &Writer{
		w: w,
		flush: func() error {
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
			return nil
		},
	}
}

// Send marshals v as JSON and writes it as one frame.
func (w *Writer) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(Frame(payload))
}

// Done writes the terminating sentinel frame.
func (w *Writer) Done() error {
	return w.write(doneFrame)
}

// Err returns the sticky write error, if any.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(frame []byte) error {
	if w.err != nil {
		return w.err
	}
	if _, err := w.w.Write(frame); err != nil {
		w.err = err
		return err
	}
	if err := w.flush(); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Data returns the payload of every `data:` line in r, in order, stopping
// without error at the [DONE] sentinel or at EOF. Partial lines are buffered
// across reads; blank keep-alive lines, comments, and other fields are
// skipped. A trailing line without a newline is still reported.
func Data(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				payload, ok := dataPayload(line)
				if ok {
					if payload == DoneSentinel {
						return
					}
					if !yield(payload, nil) {
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield("", err)
				}
				return
			}
		}
	}
}

func dataPayload(line []byte) (string, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte("data:")) {
		return "", false
	}
	payload := strings.TrimSpace(string(line[len("data:"):]))
	if payload == "" {
		return "", false
	}
	return payload, true
}
