package gateway

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-media/arena"
	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/engine"
	"github.com/wippyai/wasm-media/errors"
	"github.com/wippyai/wasm-media/metrics"
)

// Gateway drives the operations of one handle.
type Gateway struct {
	h       *engine.Handle
	build   *build.Build
	log     *zap.Logger
	metrics *metrics.Collector
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. The default is the engine package logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithMetrics records every call in m.
func WithMetrics(m *metrics.Collector) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a gateway for h. The build comes from the handle.
func New(h *engine.Handle, opts ...Option) *Gateway {
	g := &Gateway{
		h:     h,
		build: h.Build(),
		log:   engine.Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle returns the handle the gateway calls into.
func (g *Gateway) Handle() *engine.Handle {
	return g.h
}

// Build returns the handle's build.
func (g *Gateway) Build() *build.Build {
	return g.build
}

// run resolves op, then runs fn with exclusive use of the handle and a
// fresh session that is released before run returns. fn reports the
// number of output bytes it copied out.
func (g *Gateway) run(ctx context.Context, op build.Op, inLen int, fn func(c *call) (int, error)) error {
	start := time.Now()
	var (
		entry string
		out   int
	)

	err := func() error {
		spec, err := g.build.Op(op)
		if err != nil {
			return err
		}
		entry = spec.Entry
		sig, err := g.build.Signature(spec.Entry)
		if err != nil {
			return err
		}
		if inLen == 0 {
			return errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
				Path(spec.Entry).
				Detail("empty input").
				Build()
		}

		return g.h.Do(ctx, op.String(), func(ctx context.Context) (err error) {
			c := &call{
				ctx:   ctx,
				g:     g,
				op:    op,
				spec:  spec,
				sig:   sig,
				sess:  g.h.Arena().NewSession(),
				arena: g.h.Arena(),
			}
			defer func() {
				if rerr := c.sess.ReleaseAll(); rerr != nil {
					g.log.Warn("release session",
						zap.String("op", op.String()),
						zap.String("entry", spec.Entry),
						zap.Uint64("handle", g.h.ID()),
						zap.Error(rerr))
					err = multierr.Append(err, rerr)
				}
			}()
			out, err = fn(c)
			return err
		})
	}()

	elapsed := time.Since(start)
	g.log.Debug("engine call",
		zap.String("build", g.build.ID),
		zap.String("op", op.String()),
		zap.String("entry", entry),
		zap.Int("bytes_in", inLen),
		zap.Int("bytes_out", out),
		zap.Duration("duration", elapsed),
		zap.Error(err))

	g.metrics.Observe(metrics.Call{
		Build:     g.build.ID,
		Op:        op.String(),
		Outcome:   outcome(err),
		Duration:  elapsed,
		BytesIn:   inLen,
		BytesOut:  out,
		Live:      g.h.Arena().Live(),
		MemoryLen: g.h.MemorySize(),
	})
	return err
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	var merr *errors.Error
	if !errors.As(err, &merr) {
		return metrics.OutcomeOther
	}
	switch merr.Kind {
	case errors.KindEngineCall:
		return metrics.OutcomeEngineError
	case errors.KindAllocation:
		return metrics.OutcomeAllocation
	case errors.KindBusy:
		return metrics.OutcomeBusy
	case errors.KindInvalidInput, errors.KindUnsupported:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeOther
	}
}

// call is the state of one operation inside Handle.Do.
type call struct {
	ctx   context.Context
	g     *Gateway
	op    build.Op
	spec  build.OpSpec
	sig   *build.Signature
	sess  *arena.Session
	arena *arena.Arena
}
