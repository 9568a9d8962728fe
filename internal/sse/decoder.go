// Package sse decodes line-delimited event streams as produced by the
// chat streaming endpoint. The transport may split the stream into
// arbitrary chunks; the decoder reassembles lines and yields only the
// payload of data lines, leaving JSON handling to the consumer.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// dataPrefix marks lines that carry an event payload.
const dataPrefix = "data: "

// Decoder is a pull iterator over the data lines of one stream. It is
// bound to a single connection and is not restartable: once the stream
// ends, Next returns io.EOF forever.
type Decoder struct {
	r    *bufio.Reader
	done bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the payload of the next data line. Lines without the data
// marker (keep-alive comments, blank lines, other fields) are skipped
// silently. An unterminated trailing fragment at end of stream is still
// examined. Next returns io.EOF at end of stream and any other read
// error verbatim.
func (d *Decoder) Next() ([]byte, error) {
	for !d.done {
		line, err := d.r.ReadString('\n')
		if err != nil {
			d.done = true
			if err != io.EOF {
				return nil, err
			}
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		return []byte(strings.TrimPrefix(line, dataPrefix)), nil
	}
	return nil, io.EOF
}
