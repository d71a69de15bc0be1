// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

package jsplit_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/creachadair/jsplit"
	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

// A capture records everything a Splitter delivers to it.
type capture struct {
	values []any
	skips  []skipRecord
	ended  int
	fail   error // if set, Value reports this error
}

type skipRecord struct {
	Text string
	Err  error
}

func (c *capture) Value(v any) error {
	if c.fail != nil {
		return c.fail
	}
	c.values = append(c.values, v)
	return nil
}

func (c *capture) Skipped(text []byte, err error) {
	c.skips = append(c.skips, skipRecord{Text: string(text), Err: err})
}

func (c *capture) EndOfStream() { c.ended++ }

// mustParse decodes s as a single JSON value or fails the test.
func mustParse(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("Invalid test JSON %#q: %v", s, err)
	}
	return v
}

// splitString feeds input to a fresh Splitter in chunks of width bytes
// (width <= 0 means one shot), closes it, and returns the capture.
func splitString(t *testing.T, input string, width int) *capture {
	t.Helper()
	c := new(capture)
	s := jsplit.NewSplitter(c)
	data := []byte(input)
	if width <= 0 {
		width = len(data)
	}
	for len(data) > 0 {
		n := min(width, len(data))
		if err := s.Feed(data[:n]); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		data = data[n:]
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return c
}

func TestSplitter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string // each a single JSON value
	}{
		{"Empty", "", nil},
		{"OnlySpace", " \n\t \r\n", nil},
		{"Single", `{"text":"A"}`, []string{`{"text":"A"}`}},

		{"Newlines", "{\"text\":\"A\"}\n{\"text\":\"B\"}\n",
			[]string{`{"text":"A"}`, `{"text":"B"}`}},

		{"Concatenated", `{"a":1}{"b":2}{"c":3}`,
			[]string{`{"a":1}`, `{"b":2}`, `{"c":3}`}},

		{"CommaSeparated", `{"a":1}, {"b":2}`,
			[]string{`{"a":1}`, `{"b":2}`}},

		{"ArrayWrapped", "[{\"a\":1},\n {\"b\":2}]",
			[]string{`{"a":1}`, `{"b":2}`}},

		{"PrettyPrinted", "{\n  \"a\": {\n    \"b\": [\n      1,\n      2\n    ]\n  }\n}\n",
			[]string{`{"a":{"b":[1,2]}}`}},

		{"BracesInString", `{"text": "This has { braces } inside"}`,
			[]string{`{"text": "This has { braces } inside"}`}},

		{"NewlineInString", "{\"text\":\"line1\\nline2}\"}",
			[]string{`{"text":"line1\nline2}"}`}},

		{"EscapedQuote", `{"say":"she said \"hi\" {twice}"}{"ok":true}`,
			[]string{`{"say":"she said \"hi\" {twice}"}`, `{"ok":true}`}},

		{"EscapedBackslash", `{"path":"C:\\"}{"n":1}`,
			[]string{`{"path":"C:\\"}`, `{"n":1}`}},

		{"Nested", `{"a":{"b":{"c":{}}},"d":[{"e":1}]}`,
			[]string{`{"a":{"b":{"c":{}}},"d":[{"e":1}]}`}},

		{"Multibyte", `{"s":"héllo 世界 😀"}{"t":"ok"}`,
			[]string{`{"s":"héllo 世界 😀"}`, `{"t":"ok"}`}},

		{"StrayCloseBrace", "}\n{\"a\":1}",
			[]string{`{"a":1}`}},

		{"ServerSentEvents", "data: {\"delta\":\"He\"}\n\ndata: {\"delta\":\"llo\"}\n\ndata: [DONE]\n\n",
			[]string{`{"delta":"He"}`, `{"delta":"llo"}`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var want []any
			for _, w := range tc.want {
				want = append(want, mustParse(t, w))
			}
			got := splitString(t, tc.input, 0)
			if diff := cmp.Diff(want, got.values); diff != "" {
				t.Errorf("Input: %#q\nValues: (-want, +got)\n%s", tc.input, diff)
			}
			if len(got.skips) != 0 {
				t.Errorf("Input: %#q: unexpected skips: %+v", tc.input, got.skips)
			}
		})
	}
}

// Chunking the input must never change what is delivered, no matter where
// the chunk boundaries fall: mid-token, mid-string, mid-escape, or in the
// middle of a multibyte character.
func TestSplitter_chunkInvariance(t *testing.T) {
	inputs := []string{
		"{\"text\":\"A\"}\n{\"text\":\"B\"}\n",
		`{"say":"she said \"hi\" {twice}"}{"ok":true}`,
		`{"s":"héllo 世界 😀"}{"t":"ok"}`,
		"{\n  \"a\": {\n    \"b\": [\n      1,\n      2\n    ]\n  }\n}",
		"data: {\"delta\":\"\\u00e9\"}\n\ndata: [DONE]\n\n",
	}
	for _, input := range inputs {
		want := splitString(t, input, 0)

		// Fixed widths, including widths smaller than any token.
		for width := 1; width <= 9; width++ {
			got := splitString(t, input, width)
			if diff := cmp.Diff(want.values, got.values); diff != "" {
				t.Errorf("Input %#q width %d: (-one-shot, +chunked)\n%s", input, width, diff)
			}
		}

		// Every possible two-chunk partition.
		for cut := 0; cut <= len(input); cut++ {
			c := new(capture)
			s := jsplit.NewSplitter(c)
			if err := s.Feed([]byte(input[:cut])); err != nil {
				t.Fatalf("Feed failed: %v", err)
			}
			if err := s.Feed([]byte(input[cut:])); err != nil {
				t.Fatalf("Feed failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if diff := cmp.Diff(want.values, c.values); diff != "" {
				t.Errorf("Input %#q cut %d: (-one-shot, +split)\n%s", input, cut, diff)
			}
		}
	}
}

func TestSplitter_fiveByteChunks(t *testing.T) {
	// The documented scenario: a pretty-printed nested document delivered in
	// 5-byte pieces yields exactly one value.
	input, err := json.MarshalIndent(map[string]any{
		"a": map[string]any{"b": []any{1, 2}},
	}, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	got := splitString(t, string(input), 5)
	want := []any{mustParse(t, `{"a":{"b":[1,2]}}`)}
	if diff := cmp.Diff(want, got.values); diff != "" {
		t.Errorf("Values: (-want, +got)\n%s", diff)
	}
}

func TestSplitter_parseFailure(t *testing.T) {
	// A fragment that closes at depth zero but is not valid JSON is dropped
	// and reported; the values around it are unaffected.
	got := splitString(t, `{"a":1}{"b":}{"c":3}`, 0)

	want := []any{mustParse(t, `{"a":1}`), mustParse(t, `{"c":3}`)}
	if diff := cmp.Diff(want, got.values); diff != "" {
		t.Errorf("Values: (-want, +got)\n%s", diff)
	}
	if len(got.skips) != 1 {
		t.Fatalf("Got %d skips, want 1: %+v", len(got.skips), got.skips)
	}
	if got.skips[0].Text != `{"b":}` {
		t.Errorf("Skipped text: got %#q, want %#q", got.skips[0].Text, `{"b":}`)
	}
	if got.skips[0].Err == nil {
		t.Error("Skipped error is nil, want a parse error")
	}
}

func TestSplitter_truncated(t *testing.T) {
	t.Run("OpenValue", func(t *testing.T) {
		got := splitString(t, `{"a":1}{"b": "unfinish`, 0)
		want := []any{mustParse(t, `{"a":1}`)}
		if diff := cmp.Diff(want, got.values); diff != "" {
			t.Errorf("Values: (-want, +got)\n%s", diff)
		}
		if len(got.skips) != 1 || !errors.Is(got.skips[0].Err, jsplit.ErrTruncated) {
			t.Errorf("Skips: got %+v, want one ErrTruncated", got.skips)
		}
	})
	t.Run("NoiseTail", func(t *testing.T) {
		got := splitString(t, "{\"a\":1}\n, \ndata: [DONE]\n\n", 0)
		if len(got.skips) != 0 {
			t.Errorf("Skips: got %+v, want none", got.skips)
		}
	})
	t.Run("SplitRune", func(t *testing.T) {
		// End of stream in the middle of a multibyte character: the withheld
		// bytes are flushed as a replacement character inside an unterminated
		// value, which is then discarded.
		c := new(capture)
		s := jsplit.NewSplitter(c)
		if err := s.Feed([]byte(`{"s":"`)); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		if err := s.Feed([]byte("\xf0\x9f")); err != nil { // half of "😀"
			t.Fatalf("Feed failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if len(c.values) != 0 {
			t.Errorf("Values: got %+v, want none", c.values)
		}
		if len(c.skips) != 1 || !errors.Is(c.skips[0].Err, jsplit.ErrTruncated) {
			t.Errorf("Skips: got %+v, want one ErrTruncated", c.skips)
		}
	})
}

func TestSplitter_handlerError(t *testing.T) {
	sentinel := errors.New("stop now")
	c := &capture{fail: sentinel}
	s := jsplit.NewSplitter(c)
	if err := s.Feed([]byte(`{"a":1}{"b":2}`)); !errors.Is(err, sentinel) {
		t.Errorf("Feed: got error %v, want %v", err, sentinel)
	}
}

func TestSplitter_lifecycle(t *testing.T) {
	t.Run("NilHandler", func(t *testing.T) {
		mtest.MustPanic(t, func() { jsplit.NewSplitter(nil) })
	})
	t.Run("FeedAfterClose", func(t *testing.T) {
		s := jsplit.NewSplitter(new(capture))
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := s.Feed([]byte("{}")); !errors.Is(err, jsplit.ErrClosed) {
			t.Errorf("Feed after close: got %v, want %v", err, jsplit.ErrClosed)
		}
	})
	t.Run("EndOfStreamOnce", func(t *testing.T) {
		c := new(capture)
		s := jsplit.NewSplitter(c)
		s.Feed([]byte(`{"a":1}`))
		s.Close()
		s.Close() // idempotent
		if c.ended != 1 {
			t.Errorf("EndOfStream calls: got %d, want 1", c.ended)
		}
	})
	t.Run("Counters", func(t *testing.T) {
		input := "{\"a\":1}\n{\"b\":2}\n"
		s := jsplit.NewSplitter(new(capture))
		if err := s.Feed([]byte(input)); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if got := s.Values(); got != 2 {
			t.Errorf("Values: got %d, want 2", got)
		}
		if got := s.Offset(); got != len(input) {
			t.Errorf("Offset: got %d, want %d", got, len(input))
		}
	})
}

// Values are delivered in input order, synchronously, before Feed returns.
func TestSplitter_ordering(t *testing.T) {
	const n = 50
	var input []byte
	var want []any
	for i := 0; i < n; i++ {
		doc := fmt.Sprintf(`{"seq":%d}`, i)
		input = append(input, doc...)
		want = append(want, mustParse(t, doc))
	}
	for _, width := range []int{1, 3, 7, len(input)} {
		got := splitString(t, string(input), width)
		if diff := cmp.Diff(want, got.values); diff != "" {
			t.Errorf("Width %d: (-want, +got)\n%s", width, diff)
		}
	}
}
