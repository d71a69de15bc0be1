// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

package jsplit

import "unicode/utf8"

// A utf8Decoder converts raw byte chunks into text with no loss or
// duplication when a chunk boundary splits a multibyte UTF-8 sequence. The
// incomplete trailing sequence of one chunk is withheld and prefixed onto the
// next. The zero value is ready for use.
type utf8Decoder struct {
	tail [utf8.UTFMax]byte
	n    int
}

// Decode appends the decodable text of p to dst and returns the extended
// slice, withholding an incomplete trailing multibyte sequence for the next
// call. Invalid bytes that cannot begin a sequence are passed through
// unchanged; structural scanning is byte-oriented and never mistakes them for
// ASCII.
func (d *utf8Decoder) Decode(dst, p []byte) []byte {
	if d.n > 0 {
		need := seqLen(d.tail[0]) - d.n
		take := min(need, len(p))
		copy(d.tail[d.n:], p[:take])
		d.n += take
		p = p[take:]
		if d.n < seqLen(d.tail[0]) {
			return dst // chunk exhausted, sequence still incomplete
		}
		dst = append(dst, d.tail[:d.n]...)
		d.n = 0
	}

	// Withhold a trailing start byte whose sequence extends past the end of
	// the chunk. At most UTFMax-1 trailing bytes need inspection: a complete
	// sequence never leaves a start byte that close to the end.
	cut := len(p)
	for i := len(p) - 1; i >= 0 && i > len(p)-utf8.UTFMax; i-- {
		b := p[i]
		if b < utf8.RuneSelf {
			break // ASCII, nothing split
		}
		if b&0xC0 == 0xC0 { // start byte
			if seqLen(b) > len(p)-i {
				cut = i
			}
			break
		}
		// Continuation byte; keep looking for its start byte.
	}
	dst = append(dst, p[:cut]...)
	d.n = copy(d.tail[:], p[cut:])
	return dst
}

// Flush returns replacement text for a sequence left incomplete at the end of
// the stream, or nil. A truncated sequence becomes a single U+FFFD; this is
// best effort and never fails.
func (d *utf8Decoder) Flush() []byte {
	if d.n == 0 {
		return nil
	}
	d.n = 0
	return []byte(string(utf8.RuneError))
}

// seqLen reports the encoded length implied by UTF-8 start byte b. Bytes that
// cannot begin a multibyte sequence report 1, so they pass through rather
// than being withheld.
func seqLen(b byte) int {
	switch {
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
