package engine

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-media/errors"
)

// Pool hands out handles one caller at a time. Each slot holds a handle or
// nil; an empty slot is refilled on checkout, which is how broken handles
// are replaced.
type Pool struct {
	engine *Engine
	slots  chan *Handle
	size   int

	mu     sync.Mutex
	closed bool
}

// NewPool creates size handles up front.
func NewPool(ctx context.Context, e *Engine, size int) (*Pool, error) {
	if size <= 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, "pool size must be positive")
	}
	p := &Pool{
		engine: e,
		slots:  make(chan *Handle, size),
		size:   size,
	}
	for i := 0; i < size; i++ {
		h, err := e.NewHandle(ctx)
		if err != nil {
			close(p.slots)
			for h := range p.slots {
				_ = h.Close(ctx)
			}
			return nil, err
		}
		p.slots <- h
	}
	return p, nil
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Do checks out a handle, runs fn with exclusive use of it and returns it.
// Waiting for a handle honours ctx. A handle that trapped is closed and
// its slot refilled on the next checkout.
func (p *Pool) Do(ctx context.Context, fn func(*Handle) error) error {
	h, err := p.checkout(ctx)
	if err != nil {
		return err
	}
	defer p.checkin(h)
	return fn(h)
}

func (p *Pool) checkout(ctx context.Context) (*Handle, error) {
	if p.isClosed() {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "pool")
	}

	var h *Handle
	select {
	case h = <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if h != nil {
		return h, nil
	}
	h, err := p.engine.NewHandle(ctx)
	if err != nil {
		p.slots <- nil
		return nil, err
	}
	return h, nil
}

func (p *Pool) checkin(h *Handle) {
	if h.Broken() {
		p.engine.runtime.log.Warn("discarding broken handle",
			zap.String("build", p.engine.build.ID),
			zap.Uint64("handle", h.ID()))
		_ = h.Close(context.Background())
		h = nil
	}
	p.slots <- h
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close waits for every handle to be returned and closes them. ctx bounds
// the wait.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var err error
	for i := 0; i < p.size; i++ {
		select {
		case h := <-p.slots:
			if h != nil {
				err = multierr.Append(err, h.Close(ctx))
			}
		case <-ctx.Done():
			return multierr.Append(err, ctx.Err())
		}
	}
	return err
}
