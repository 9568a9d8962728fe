package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkedReader delivers the underlying data at most size bytes per Read,
// simulating arbitrary transport chunking.
type chunkedReader struct {
	data []byte
	size int
	off  int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if r.off+n > len(r.data) {
		n = len(r.data) - r.off
	}
	copy(p, r.data[r.off:r.off+n])
	r.off += n
	return n, nil
}

func drain(t *testing.T, d *Decoder) []string {
	t.Helper()
	var got []string
	for {
		payload, err := d.Next()
		if err == io.EOF {
			return got
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, string(payload))
	}
}

func TestDecoderYieldsOnlyDataLines(t *testing.T) {
	stream := "data: {\"a\":1}\n" +
		"\n" +
		": keep-alive\n" +
		"event: progress\n" +
		"data: {\"b\":2}\n" +
		"not an event line\n" +
		"data: [DONE]\n"

	got := drain(t, NewDecoder(strings.NewReader(stream)))
	want := []string{`{"a":1}`, `{"b":2}`, "[DONE]"}
	if len(got) != len(want) {
		t.Fatalf("got %d payloads, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("payload %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecoderChunkBoundaryInvariance(t *testing.T) {
	stream := "data: {\"content\":\"Hel\",\"is_final\":false}\n" +
		": ping\n" +
		"data: {\"content\":\"lo\",\"is_final\":true}\n"

	want := drain(t, NewDecoder(strings.NewReader(stream)))
	if len(want) != 2 {
		t.Fatalf("baseline decode yielded %d payloads, want 2", len(want))
	}

	for _, size := range []int{1, 2, 3, 5, 7, 16} {
		d := NewDecoder(&chunkedReader{data: []byte(stream), size: size})
		got := drain(t, d)
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: got %d payloads, want %d", size, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("chunk size %d: payload %d = %q, want %q", size, i, got[i], want[i])
			}
		}
	}
}

func TestDecoderTrailingFragment(t *testing.T) {
	// No newline after the last line; the fragment still counts.
	d := NewDecoder(strings.NewReader("data: {\"a\":1}\ndata: {\"b\":2}"))
	got := drain(t, d)
	if len(got) != 2 || got[1] != `{"b":2}` {
		t.Fatalf("unexpected payloads: %v", got)
	}
}

func TestDecoderCRLF(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: one\r\ndata: two\r\n"))
	got := drain(t, d)
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected payloads: %v", got)
	}
}

func TestDecoderEOFIsSticky(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: x\n"))
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := d.Next(); err != io.EOF {
			t.Fatalf("Next after end = %v, want io.EOF", err)
		}
	}
}

type failingReader struct {
	data string
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.data), nil
	}
	return 0, r.err
}

func TestDecoderSurfacesReadError(t *testing.T) {
	readErr := errors.New("connection reset")
	d := NewDecoder(&failingReader{data: "data: ok\n", err: readErr})

	if _, err := d.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if _, err := d.Next(); !errors.Is(err, readErr) {
		t.Fatalf("Next = %v, want read error", err)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("Next after error = %v, want io.EOF", err)
	}
}
