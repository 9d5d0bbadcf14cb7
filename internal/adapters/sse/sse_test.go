package sse

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns the underlying bytes in fixed-size chunks so frames
// straddle read boundaries.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := min(c.size, len(c.data), len(p))
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func collect(t *testing.T, r io.Reader) []string {
	t.Helper()
	var out []string
	for payload, err := range Data(r) {
		require.NoError(t, err)
		out = append(out, payload)
	}
	return out
}

func TestData_StopsAtDone(t *testing.T) {
	body := "data: one\n\ndata: two\n\ndata: [DONE]\n\ndata: never\n\n"
	assert.Equal(t, []string{"one", "two"}, collect(t, strings.NewReader(body)))
}

func TestData_ArbitraryChunkBoundaries(t *testing.T) {
	body := ": keep-alive\n\ndata: {\"a\":1}\r\n\r\n\n\nevent: ping\ndata:{\"b\":2}\n\ndata: [DONE]\n\n"
	want := []string{`{"a":1}`, `{"b":2}`}

	for size := 1; size <= len(body); size++ {
		got := collect(t, &chunkReader{data: []byte(body), size: size})
		assert.Equal(t, want, got, "chunk size %d", size)
	}

	assert.Equal(t, want, collect(t, iotest.OneByteReader(strings.NewReader(body))))
	assert.Equal(t, want, collect(t, iotest.HalfReader(strings.NewReader(body))))
}

func TestData_TrailingLineWithoutNewline(t *testing.T) {
	assert.Equal(t, []string{"a", "tail"}, collect(t, strings.NewReader("data: a\n\ndata: tail")))
}

func TestData_EmptyBody(t *testing.T) {
	assert.Empty(t, collect(t, strings.NewReader("")))
}

func TestData_ReadErrorIsReported(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: a\n\n"), iotest.ErrReader(boom))

	var got []string
	var gotErr error
	for payload, err := range Data(r) {
		if err != nil {
			gotErr = err
			continue
		}
		got = append(got, payload)
	}

	assert.Equal(t, []string{"a"}, got)
	assert.ErrorIs(t, gotErr, boom)
}

func TestData_ConsumerCanStopEarly(t *testing.T) {
	n := 0
	for range Data(strings.NewReader("data: 1\n\ndata: 2\n\ndata: 3\n\n")) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Send(map[string]string{"type": "token", "content": "hi\nthere"}))
	require.NoError(t, w.Done())

	assert.Equal(t, "data: {\"content\":\"hi\\nthere\",\"type\":\"token\"}\n\ndata: [DONE]\n\n", buf.String())
	assert.Equal(t, []string{`{"content":"hi\nthere","type":"token"}`}, collect(t, &buf))
}

type failingWriter struct{ calls int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls++
	return 0, errors.New("broken pipe")
}

func TestWriter_ErrorIsSticky(t *testing.T) {
	fw := &failingWriter{}
	w := NewWriter(fw)

	assert.Error(t, w.Send("x"))
	assert.Error(t, w.Done())
	assert.Error(t, w.Err())
	assert.Equal(t, 1, fw.calls)
}

func TestNewHTTPWriter_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewHTTPWriter(rec)
	require.NoError(t, w.Done())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
}
