package relay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Frame prefixes of the relay's newline-delimited output protocol.
//
//	0:<json string>   a text delta to append to the pending message
//	3:<json string>   the turn failed after streaming began; discard it
//
// A stream that closes without a 3: frame completed successfully. Readers
// ignore prefixes they do not know.
const (
	PrefixText  = "0:"
	PrefixError = "3:"
)

// StreamError is decoded from a 3: frame.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "stream: " + e.Message }

// WriteFrame writes one text delta frame.
func WriteFrame(w io.Writer, text string) error {
	return writeFrame(w, PrefixText, text)
}

// WriteErrorFrame writes a terminal error frame.
func WriteErrorFrame(w io.Writer, message string) error {
	return writeFrame(w, PrefixError, message)
}

func writeFrame(w io.Writer, prefix, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(prefix)+len(b)+1)
	buf = append(buf, prefix...)
	buf = append(buf, b...)
	buf = append(buf, '\n')
	_, err = w.Write(buf)
	return err
}

// FrameReader decodes the relay's output protocol on the client side.
type FrameReader struct {
	sc   *bufio.Scanner
	text string
	err  error
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &FrameReader{sc: sc}
}

// Next advances to the next text frame. It returns false at end of stream,
// on an error frame, or on a malformed frame; Err distinguishes these.
func (f *FrameReader) Next() bool {
	if f.err != nil {
		return false
	}
	for f.sc.Scan() {
		line := strings.TrimSuffix(f.sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, PrefixText):
			if err := json.Unmarshal([]byte(line[len(PrefixText):]), &f.text); err != nil {
				f.err = fmt.Errorf("decoding text frame: %w", err)
				return false
			}
			return true
		case strings.HasPrefix(line, PrefixError):
			var msg string
			if err := json.Unmarshal([]byte(line[len(PrefixError):]), &msg); err != nil {
				msg = line[len(PrefixError):]
			}
			f.err = &StreamError{Message: msg}
			return false
		}
	}
	f.err = f.sc.Err()
	return false
}

// Text returns the delta from the last text frame.
func (f *FrameReader) Text() string { return f.text }

// Err returns the error that stopped the reader, or nil at clean end of
// stream.
func (f *FrameReader) Err() error { return f.err }
