package audit

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/core"
)

// Sink receives published events. Publish must not retain evt's pointers
// beyond the call unless it treats them as read-only.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Publish(context.Context, Event) error { return nil }

// Emitter stamps events with a sequence number and fans them out to sinks.
// Delivery is fire-and-forget: a failing sink is logged and never surfaces
// to the operation that produced the event.
type Emitter struct {
	mu     sync.Mutex
	seq    uint64
	sinks  []Sink
	logger *zap.Logger
}

// NewEmitter returns an emitter publishing to sinks in order.
func NewEmitter(logger *zap.Logger, sinks ...Sink) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{sinks: sinks, logger: logger}
}

// Resume makes seq the last assigned sequence number, so the next event is
// numbered seq+1. It is meant for startup, before any event is emitted.
func (e *Emitter) Resume(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq = seq
}

// Emit assigns the next sequence number to evt, publishes it, and returns the stamped event.
func (e *Emitter) Emit(ctx context.Context, evt Event) Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	evt.Seq = e.seq
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, evt); err != nil {
			e.logger.Warn("audit sink publish failed",
				zap.Uint64("seq", evt.Seq),
				zap.String("kind", string(evt.Kind)),
				zap.Stringer("auction_id", evt.AuctionID),
				zap.Error(err))
		}
	}
	return evt
}

// MemorySink keeps every published event in an append-only in-process log.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(_ context.Context, evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// Events returns a copy of the log in publication order.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ForAuction returns the events of one auction in publication order.
func (s *MemorySink) ForAuction(id core.AuctionID) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, evt := range s.events {
		if evt.AuctionID == id {
			out = append(out, evt)
		}
	}
	return out
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Publish(_ context.Context, evt Event) error {
	fields := []zap.Field{
		zap.Uint64("seq", evt.Seq),
		zap.Stringer("auction_id", evt.AuctionID),
		zap.Int64("time", evt.Time),
	}
	switch {
	case evt.Created != nil:
		fields = append(fields, zap.Stringer("creator", evt.Created.Creator), zap.Uint64("starting_bid", evt.Created.StartingBid), zap.Int64("end_time", evt.Created.EndTime))
	case evt.Bid != nil:
		fields = append(fields, zap.Stringer("bidder", evt.Bid.Bidder), zap.Uint64("amount", evt.Bid.Amount))
	case evt.Finalized != nil:
		fields = append(fields, zap.Stringer("winner", evt.Finalized.Winner), zap.Uint64("winning_bid", evt.Finalized.WinningBid))
	case evt.Cancelled != nil:
		fields = append(fields, zap.String("reason", evt.Cancelled.Reason))
	case evt.Updated != nil:
		if evt.Updated.NewEndTime != nil {
			fields = append(fields, zap.Int64("new_end_time", *evt.Updated.NewEndTime))
		}
		if evt.Updated.NewMinBidIncrement != nil {
			fields = append(fields, zap.Uint64("new_min_bid_increment", *evt.Updated.NewMinBidIncrement))
		}
	}
	s.logger.Info(string(evt.Kind), fields...)
	return nil
}
