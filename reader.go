// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

package jsplit

import (
	"context"
	"fmt"
	"io"
)

// readChunkBytes is the read size used by Split and SplitContext.
const readChunkBytes = 32 * 1024

// Split reads r until io.EOF, delivering each complete top-level JSON value
// to h. At EOF the splitter is closed, discarding an unterminated trailing
// value. Any other read error, or an error from h, stops the split and is
// returned; values already delivered remain delivered.
func Split(r io.Reader, h Handler) error {
	return SplitContext(context.Background(), r, h)
}

// SplitContext is Split with cancellation. The context is checked before
// every read and before every batch of deliveries, and no Handler method is
// invoked after ctx ends. A read blocked on the transport is interrupted only
// if r itself honors the context, as an HTTP response body does when its
// request carries ctx.
func SplitContext(ctx context.Context, r io.Reader, h Handler) error {
	s := NewSplitter(h)
	buf := make([]byte, readChunkBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if ferr := s.Feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return s.Close()
		} else if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
}
