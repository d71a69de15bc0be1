// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

// Package fetch streams JSON values from an HTTP response body.
//
// The functions of this package issue a request, verify that it succeeded,
// and pump the response body through a jsplit.Splitter, delivering each
// complete value to the caller's handler as it arrives. Response bodies
// compressed with gzip or zstd are decoded transparently. Fragments the
// splitter discards are logged, not fatal: a stream is terminated only by a
// transport error, cancellation, or an error from the handler.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/creachadair/jsplit"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	readChunkBytes  = 32 * 1024
	maxErrBodyBytes = 4096
)

// ErrNoBody is reported when a successful response carries no readable body.
var ErrNoBody = errors.New("response has no body")

// A StatusError is reported when the server replies with a non-2xx status.
// Body holds up to 4 KiB of the response body for diagnosis.
type StatusError struct {
	Code   int    // HTTP status code
	Status string // status line text
	Body   []byte // leading bytes of the response body
}

// Error satisfies the error interface.
func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("request failed: %s", e.Status)
	}
	return fmt.Sprintf("request failed: %s: %s", e.Status, e.Body)
}

// A Client streams JSON values over HTTP. The zero value is ready for use
// and is equivalent to the package-level functions.
type Client struct {
	// HTTP is used to issue requests. If nil, http.DefaultClient is used.
	HTTP *http.Client

	// Logger receives debug records for fragments the splitter discarded.
	// If nil, discards are not logged.
	Logger log.Logger
}

// Stream issues a GET request for url with the default client and delivers
// each streamed JSON value to h. See Client.Stream for the error contract.
func Stream(ctx context.Context, url string, h jsplit.Handler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return new(Client).Stream(ctx, req, h)
}

// Stream issues req and delivers each complete JSON value from the response
// body to h, in stream order, until the body is exhausted.
//
// If the response status is not 2xx, Stream fails before any value is
// delivered with an error of concrete type *StatusError. A mid-stream read
// failure terminates the stream with an error; values already delivered
// remain valid. When ctx ends, the body is closed promptly and no further
// handler method is invoked. Malformed fragments within the stream are
// dropped and logged, never fatal.
func (c *Client) Stream(ctx context.Context, req *http.Request, h jsplit.Handler) error {
	if req.Context() != ctx {
		req = req.WithContext(ctx)
	}
	// Requesting compressed encodings explicitly disables the transport's
	// implicit gzip handling; decodeBody takes over both cases.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, zstd")
	}

	httpc := c.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	rsp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(rsp.Body, maxErrBodyBytes))
		return &StatusError{Code: rsp.StatusCode, Status: rsp.Status, Body: body}
	}
	if rsp.StatusCode == http.StatusNoContent || rsp.Body == http.NoBody {
		return ErrNoBody
	}
	body, err := decodeBody(rsp)
	if err != nil {
		return err
	}
	defer body.Close()

	s := jsplit.NewSplitter(&logHandler{h: h, log: c.logger()})
	buf := make([]byte, readChunkBytes)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			// Cancellation wins over data already read: once ctx ends the
			// caller must see no further callbacks.
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if ferr := s.Feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if rerr == io.EOF {
			return s.Close()
		} else if rerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("fetch: read stream: %w", rerr)
		}
	}
}

func (c *Client) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}

// decodeBody wraps the response body in a decompressing reader according to
// its Content-Encoding. The caller owns closing the returned reader; closing
// it does not close the underlying body.
func decodeBody(rsp *http.Response) (io.ReadCloser, error) {
	switch enc := strings.ToLower(rsp.Header.Get("Content-Encoding")); enc {
	case "", "identity":
		return io.NopCloser(rsp.Body), nil
	case "gzip":
		zr, err := gzip.NewReader(rsp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch: decode gzip body: %w", err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(rsp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch: decode zstd body: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("fetch: unsupported content encoding %q", enc)
	}
}

// logHandler forwards values to the wrapped handler and records discarded
// fragments to the client logger. The wrapped handler's own optional
// interfaces are honored.
type logHandler struct {
	h   jsplit.Handler
	log log.Logger
}

func (l *logHandler) Value(v any) error { return l.h.Value(v) }

func (l *logHandler) Skipped(text []byte, err error) {
	level.Debug(l.log).Log("msg", "discarded stream fragment", "len", len(text), "err", err)
	if sk, ok := l.h.(jsplit.SkipHandler); ok {
		sk.Skipped(text, err)
	}
}

func (l *logHandler) EndOfStream() {
	if eh, ok := l.h.(jsplit.EndHandler); ok {
		eh.EndOfStream()
	}
}
