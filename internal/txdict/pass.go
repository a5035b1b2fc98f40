package txdict

import (
	"context"

	"github.com/roach88/txdict/internal/mapping"
)

// Pass is one mapping pass: a flush, a read view, or a single overlay read.
// Mapping rules receive the Pass so they can resolve and attach related
// records through the same identity memo.
type Pass struct {
	ctx     context.Context
	session *mapping.Session
	src     recordSource
	tracker *tracker // nil outside a flush
}

func newReadPass(ctx context.Context, src recordSource) *Pass {
	return &Pass{ctx: ctx, session: mapping.NewSession(), src: src}
}

func newFlushPass(ctx context.Context, tr *tracker) *Pass {
	return &Pass{ctx: ctx, session: mapping.NewSession(), src: tr, tracker: tr}
}

// Context returns the context of the operation that started the pass.
func (p *Pass) Context() context.Context {
	return p.ctx
}

// Writable reports whether the pass belongs to a flush, in which case
// Attach persists related records.
func (p *Pass) Writable() bool {
	return p.tracker != nil
}

// Session exposes the pass's identity memo.
func (p *Pass) Session() *mapping.Session {
	return p.session
}

// detached returns a read-only pass over the same records with a fresh
// memo, used to build snapshots that share no instances with this pass.
func (p *Pass) detached() *Pass {
	return &Pass{ctx: p.ctx, session: mapping.NewSession(), src: p.src}
}
