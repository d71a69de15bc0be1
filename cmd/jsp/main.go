// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

// Program jsp splits a stream of concatenated JSON values read from stdin, a
// file, or a URL, and writes one value per line to stdout. With -indent it
// pretty-prints each value instead; with -text it prints only the chat text
// carried by each value.
//
// Input framing does not matter: newline-delimited values, values run
// together, pretty-printed values, and server-sent event streams all work.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/creachadair/jsplit"
	"github.com/creachadair/jsplit/chat"
	"github.com/creachadair/jsplit/fetch"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var (
	fileName = flag.String("file", "", "Read input from this file (stdin if omitted)")
	fetchURL = flag.String("url", "", "Fetch input from this URL instead of a file")
	indent   = flag.Int("indent", 0, "Indent step for pretty output (0 means one value per line)")
	textOnly = flag.Bool("text", false, "Print only the chat text of each value")
)

func main() {
	useColor := isatty.IsTerminal(os.Stdout.Fd())
	flag.BoolFunc("colors", "Force color output", func(string) error {
		useColor = true
		return nil
	})
	flag.BoolFunc("nocolors", "Disable color output", func(string) error {
		useColor = false
		return nil
	})
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var stdout io.Writer = os.Stdout
	if useColor {
		stdout = colorable.NewColorableStdout()
	}
	h := &printer{w: stdout, indent: *indent, textOnly: *textOnly, color: useColor}

	var err error
	switch {
	case *fetchURL != "":
		err = fetch.Stream(ctx, *fetchURL, h)
	case *fileName != "":
		var f *os.File
		f, err = os.Open(*fileName)
		if err != nil {
			fatalf("Error opening %q: %v", *fileName, err)
		}
		defer f.Close()
		err = jsplit.SplitContext(ctx, f, h)
	default:
		err = jsplit.SplitContext(ctx, os.Stdin, h)
	}
	if err != nil {
		fatalf("Error: %v", err)
	}
}

func fatalf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

// A printer writes each streamed value to w as it arrives.
type printer struct {
	w        io.Writer
	indent   int
	textOnly bool
	color    bool
}

const (
	ansiCyan  = "\x1b[36m"
	ansiReset = "\x1b[0m"
)

func (p *printer) Value(v any) error {
	if p.textOnly {
		e, ok := chat.DecodeEvent(v)
		if !ok || e.Text == "" {
			return nil
		}
		if e.Role != "" && p.color {
			fmt.Fprintf(p.w, "%s%s:%s ", ansiCyan, e.Role, ansiReset)
		} else if e.Role != "" {
			fmt.Fprintf(p.w, "%s: ", e.Role)
		}
		fmt.Fprintln(p.w, e.Text)
		return nil
	}

	var out []byte
	var err error
	if p.indent > 0 {
		out, err = json.MarshalIndent(v, "", strings.Repeat(" ", p.indent))
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	_, err = fmt.Fprintln(p.w, string(out))
	return err
}

// Skipped reports discarded fragments on stderr so a malformed producer is
// visible without polluting stdout.
func (p *printer) Skipped(text []byte, err error) {
	fmt.Fprintf(os.Stderr, "Skipped %d bytes: %v\n", len(text), err)
}
