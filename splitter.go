// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

package jsplit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go4.org/mem"
)

// A Handler receives the values recognized by a Splitter. The Value method is
// called once per complete top-level value, in the order the values occur in
// the input, synchronously during the Feed call that completed the value. If
// Value reports an error, splitting stops and that error is returned to the
// caller of Feed.
type Handler interface {
	Value(v any) error
}

// ValueFunc implements the Handler interface with a function.
type ValueFunc func(v any) error

// Value satisfies the Handler interface.
func (f ValueFunc) Value(v any) error { return f(v) }

// SkipHandler is an optional interface that a Handler may implement to
// observe input the Splitter discards: a fragment between boundaries that
// failed to parse, or a value left unterminated when the stream ended. The
// err value reports why the text was dropped; for an unterminated value it is
// ErrTruncated, otherwise it wraps the parse error. The text slice is only
// valid for the duration of the call; the handler must copy it if needed.
//
// If the handler does not provide this method, discarded input is dropped
// silently.
type SkipHandler interface {
	Skipped(text []byte, err error)
}

// EndHandler is an optional interface that a Handler may implement to be
// notified when Close is called on the Splitter, after all values and skips
// have been delivered.
type EndHandler interface {
	EndOfStream()
}

// ErrTruncated is passed to a SkipHandler for a value still open when the
// stream ended.
var ErrTruncated = errors.New("truncated value at end of stream")

// ErrClosed is reported by Feed after the Splitter has been closed.
var ErrClosed = errors.New("splitter is closed")

// A Splitter consumes a stream of bytes containing concatenated JSON values
// and delivers each complete top-level value to a Handler. The zero value is
// not ready for use; construct a Splitter with NewSplitter.
//
// A Splitter carries its scan state across Feed calls, so chunk boundaries
// may fall anywhere in the input, including inside a string literal, an
// escape sequence, or a multibyte UTF-8 character. A Splitter serves exactly
// one logical stream and is not safe for concurrent use.
type Splitter struct {
	h    Handler
	skip SkipHandler // nil if h does not implement it
	end  EndHandler  // nil if h does not implement it

	dec utf8Decoder

	buf []byte // decoded text not yet consumed
	pos int    // resume index of the scan into buf

	// Scan state persisted across chunks.
	depth    int  // open braces outside string literals
	open     int  // index in buf of the open top-level "{", or -1
	inString bool // scan position is inside a string literal
	escaped  bool // previous character was an unescaped "\" in a string

	off     int // total decoded bytes consumed from the input
	nvalues int // values delivered so far
	closed  bool
}

// NewSplitter constructs a Splitter that delivers values to h.
// It panics if h == nil.
func NewSplitter(h Handler) *Splitter {
	if h == nil {
		panic("jsplit: nil handler")
	}
	s := &Splitter{h: h, open: -1}
	// Resolve the optional interfaces once, up front.
	if sk, ok := h.(SkipHandler); ok {
		s.skip = sk
	}
	if eh, ok := h.(EndHandler); ok {
		s.end = eh
	}
	return s
}

// Feed appends data to the stream and delivers every value whose closing
// boundary occurs within the input seen so far, invoking the Handler once per
// value before Feed returns. Data may be sliced at any byte offset; Feed
// retains whatever prefix of a value or UTF-8 sequence is still incomplete.
//
// Feed returns an error only if the Handler reported one or the Splitter is
// already closed. The input slice is not retained.
func (s *Splitter) Feed(data []byte) error {
	if s.closed {
		return ErrClosed
	}
	s.buf = s.dec.Decode(s.buf, data)
	return s.scan()
}

// Close marks the end of the stream. Any bytes withheld by the UTF-8 decoder
// are flushed through the scanner, then any unterminated trailing value is
// discarded and reported to the SkipHandler, if present. Trailing separator
// noise is discarded silently. Close is idempotent; after Close, Feed reports
// ErrClosed.
func (s *Splitter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if tail := s.dec.Flush(); len(tail) > 0 {
		s.buf = append(s.buf, tail...)
		err = s.scan()
	}
	if rest := s.buf; len(rest) > 0 && !isNoise(rest) {
		s.report(rest, ErrTruncated)
	}
	s.off += len(s.buf)
	s.buf = nil
	if s.end != nil {
		s.end.EndOfStream()
	}
	return err
}

// Values reports the number of values delivered so far.
func (s *Splitter) Values() int { return s.nvalues }

// Offset reports the number of decoded input bytes consumed so far, not
// counting text still buffered for an incomplete value.
func (s *Splitter) Offset() int { return s.off }

// scan advances the boundary scan over the unprocessed portion of buf,
// dispatching each value whose top-level close brace it reaches.
func (s *Splitter) scan() error {
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]
		switch {
		case s.escaped:
			// The character after a backslash is consumed blind: it cannot
			// close the string or affect nesting.
			s.escaped = false

		case s.inString:
			switch c {
			case '\\':
				s.escaped = true
			case '"':
				s.inString = false
			}

		default:
			switch c {
			case '"':
				s.inString = true
			case '{':
				if s.depth == 0 {
					s.open = s.pos
				}
				s.depth++
			case '}':
				// A stray close brace with no value open is separator noise;
				// depth never goes negative.
				if s.depth > 0 {
					s.depth--
					if s.depth == 0 {
						err := s.dispatch(s.pos)
						if err != nil {
							return err
						}
						// dispatch consumed through the close brace and reset
						// pos; do not advance again.
						continue
					}
				}
			}
		}
		s.pos++
	}
	return nil
}

// dispatch parses and delivers the value closing at buf[end], then consumes
// the buffer through that index. Text before the opening brace is separator
// noise and is dropped. A parse failure is reported to the SkipHandler and
// the scan resumes after the failed fragment.
func (s *Splitter) dispatch(end int) error {
	frame := s.buf[s.open : end+1]

	var v any
	if err := json.Unmarshal(frame, &v); err != nil {
		s.report(frame, fmt.Errorf("undecodable fragment: %w", err))
		s.consume(end + 1)
		return nil
	}
	s.nvalues++
	err := s.h.Value(v)
	s.consume(end + 1)
	return err
}

// consume drops buf[:n] and resets the scan to the start of the remainder.
// Caller guarantees the scan state at n is outside any string or brace.
func (s *Splitter) consume(n int) {
	s.off += n
	s.buf = append(s.buf[:0], s.buf[n:]...)
	s.pos = 0
	s.open = -1
}

func (s *Splitter) report(text []byte, err error) {
	if s.skip != nil {
		s.skip.Skipped(text, err)
	}
}

var doneMarker = mem.S("[DONE]")

// isNoise reports whether text contains only inter-value separators: JSON
// whitespace, commas, array brackets, and the "data:" field prefix and
// "[DONE]" sentinel emitted by server-sent event streams.
func isNoise(text []byte) bool {
	for _, f := range bytes.Fields(text) {
		f, _ = bytes.CutPrefix(f, []byte("data:"))
		if len(f) == 0 || doneMarker.Equal(mem.B(f)) {
			continue
		}
		if len(bytes.Trim(f, ",[]")) != 0 {
			return false
		}
	}
	return true
}
