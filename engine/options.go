package engine

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/audit"
	"github.com/cloudx-io/escrowauction/core"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source. The engine truncates it to unix seconds.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSink adds an audit sink. Sinks receive events in the order they were added.
func WithSink(sink audit.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sinks = append(e.sinks, sink)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPlatformAccount sets the account credited with platform fees.
func WithPlatformAccount(account core.Identity) Option {
	return func(e *Engine) { e.platform = account }
}

// WithIDGenerator overrides uuid.New for new auction ids.
func WithIDGenerator(gen func() core.AuctionID) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithUnsoldReturn makes finalize return the asset to the creator when an
// auction closes without bids. Without it the asset stays in the vault until
// the creator calls WithdrawUnsold, which a Completed auction no longer allows.
func WithUnsoldReturn(enabled bool) Option {
	return func(e *Engine) { e.returnUnsold = enabled }
}

// WithAuditSequence continues audit numbering after seq, the last sequence
// number already present in an existing audit log.
func WithAuditSequence(seq uint64) Option {
	return func(e *Engine) { e.auditSeq = seq }
}

func defaultEngine() *Engine {
	return &Engine{
		now:    time.Now,
		newID:  uuid.New,
		logger: zap.NewNop(),
	}
}
