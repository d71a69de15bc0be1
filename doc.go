// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

// Package jsplit implements an incremental demultiplexer for streams of
// concatenated JSON values.
//
// Servers that stream JSON make no reliable promise about framing: one value
// per line, several values run together, a single value pretty-printed across
// many lines, or any of these fragmented by the transport at arbitrary byte
// offsets, including in the middle of a string, an escape sequence, or a
// multibyte UTF-8 character. The Splitter type accepts raw byte chunks as
// they arrive and delivers each complete top-level value to a Handler as soon
// as its closing brace is seen, in input order, regardless of how the input
// was fragmented.
//
// # Splitting
//
// Construct a Splitter around a Handler and feed it chunks:
//
//	s := jsplit.NewSplitter(jsplit.ValueFunc(func(v any) error {
//	   log.Printf("value: %v", v)
//	   return nil
//	}))
//	for chunk := range chunks {
//	   if err := s.Feed(chunk); err != nil {
//	      log.Fatalf("Feed failed: %v", err)
//	   }
//	}
//	s.Close()
//
// Feed never blocks on anything but the Handler itself, and a single Feed
// call delivers every value whose boundary falls inside that chunk before it
// returns. Close flushes any bytes withheld by the UTF-8 decoder and discards
// an unterminated trailing value, if any.
//
// To drive a Splitter from an io.Reader, use Split or SplitContext:
//
//	if err := jsplit.SplitContext(ctx, resp.Body, h); err != nil {
//	   log.Fatalf("Split failed: %v", err)
//	}
//
// # Handlers
//
// The Handler interface receives each decoded value. If its Value method
// reports an error, splitting stops and the error is returned from Feed (or
// Split). A handler may additionally implement the optional SkipHandler and
// EndHandler interfaces to observe discarded fragments and the end of the
// stream; see their comments for details.
//
// # Robustness
//
// Boundary recognition is a character-level scan that tracks brace depth,
// string state, and escape state, so braces inside string literals and
// escaped quotes never produce a false boundary. Separator noise between
// values (whitespace, commas, array brackets, and the "data:" field prefixes
// and "[DONE]" sentinel used by server-sent event streams) is skipped. A
// fragment between boundaries that fails to parse is dropped and the scan
// resumes; one malformed value never stalls the rest of the stream.
package jsplit
