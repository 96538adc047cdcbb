// Package relay turns provider event streams into the relay's delta frames
// and decides which upstream serves each request.
package relay

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/soyeahso/oracle/internal/llm"
	"github.com/soyeahso/oracle/internal/logging"
)

const (
	// maxLineSize bounds a single event line. Provider events are small;
	// this only guards against a runaway body.
	maxLineSize = 2 << 20

	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Delta is one fragment of assistant text, numbered in arrival order.
type Delta struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

// Reframer reads an OpenAI-style server-sent event stream and yields the
// text deltas it carries. It reads incrementally and never buffers the
// whole body.
//
//	rf := NewReframer(body, log)
//	for rf.Next() {
//		use(rf.Delta())
//	}
//	if err := rf.Err(); err != nil { ... }
type Reframer struct {
	sc      *bufio.Scanner
	log     *logging.Logger
	cur     Delta
	seq     int
	dropped int
	done    bool
	sawDone bool
	err     error
}

// NewReframer wraps r.
func NewReframer(r io.Reader, log *logging.Logger) *Reframer {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reframer{sc: sc, log: log}
}

// streamEvent is the subset of a chat.completion.chunk the relay reads. An
// in-band error object is sent by some providers after the stream has
// started.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Next advances to the next non-empty delta. It returns false at [DONE],
// at end of input, or on a read error.
func (r *Reframer) Next() bool {
	if r.done {
		return false
	}
	for r.sc.Scan() {
		payload, ok := dataPayload(r.sc.Text())
		if !ok {
			continue
		}
		if payload == doneSentinel {
			r.sawDone = true
			r.done = true
			return false
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			r.dropped++
			r.log.Debug().Err(err).Int("len", len(payload)).Msg("dropping malformed stream event")
			continue
		}
		if ev.Error != nil {
			r.err = &llm.ProviderError{Provider: "stream", Message: ev.Error.Message, Code: errorCode(ev.Error.Code)}
			r.done = true
			return false
		}
		if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
			continue
		}

		r.cur = Delta{Seq: r.seq, Text: ev.Choices[0].Delta.Content}
		r.seq++
		return true
	}
	r.done = true
	r.err = r.sc.Err()
	return false
}

// Delta returns the delta produced by the last successful Next.
func (r *Reframer) Delta() Delta { return r.cur }

// Err returns the first read or in-band provider error.
func (r *Reframer) Err() error { return r.err }

// Dropped returns the number of malformed events skipped so far.
func (r *Reframer) Dropped() int { return r.dropped }

// Completed reports whether the stream ended with the [DONE] sentinel rather
// than a bare close.
func (r *Reframer) Completed() bool { return r.sawDone }

// dataPayload returns the payload of a "data:" line. Comment lines, other
// SSE fields, and blanks report false.
func dataPayload(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	rest, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}

func errorCode(v any) int {
	switch c := v.(type) {
	case float64:
		return int(c)
	default:
		return 0
	}
}
