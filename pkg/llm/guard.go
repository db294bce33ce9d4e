package llm

import (
	"context"
	"io"
)

// DefaultStallLimit is how many consecutive zero-byte reads a stream may
// deliver before it is treated as stalled.
const DefaultStallLimit = 50

// guardedReader wraps a response body with the two per-read checks every
// adapter needs: cooperative cancellation and stall detection. Cancellation
// is checked before each read, so a read already in flight may still deliver
// one more chunk.
type guardedReader struct {
	ctx       context.Context
	r         io.Reader
	provider  string
	limit     int
	zeroReads int
}

// NewGuardedReader returns a reader that fails with *CanceledError once ctx
// is done and with *StallError after more than limit consecutive zero-byte
// reads. limit <= 0 uses DefaultStallLimit.
func NewGuardedReader(ctx context.Context, r io.Reader, provider string, limit int) io.Reader {
	if limit <= 0 {
		limit = DefaultStallLimit
	}
	return &guardedReader{ctx: ctx, r: r, provider: provider, limit: limit}
}

func (g *guardedReader) Read(p []byte) (int, error) {
	select {
	case <-g.ctx.Done():
		return 0, &CanceledError{Err: g.ctx.Err()}
	default:
	}

	n, err := g.r.Read(p)
	if n > 0 {
		g.zeroReads = 0
		return n, err
	}
	if err != nil {
		return n, err
	}

	g.zeroReads++
	if g.zeroReads > g.limit {
		return 0, &StallError{Provider: g.provider, ZeroReads: g.zeroReads}
	}
	return 0, nil
}
