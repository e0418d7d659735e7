// Package cdrsink provides Sink implementations that consume finalized
// Calls emitted by the engine, per spec.md §6's "leg sink" interface.
package cdrsink

import (
	"context"

	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
)

// Sink is the external collaborator the engine writes finalized calls to.
type Sink interface {
	WriteCall(ctx context.Context, call *cdrleg.Call) error
}

// SinkFunc adapts a plain function to the Sink interface, useful for tests.
type SinkFunc func(ctx context.Context, call *cdrleg.Call) error

// WriteCall implements Sink.
func (f SinkFunc) WriteCall(ctx context.Context, call *cdrleg.Call) error {
	return f(ctx, call)
}

// MultiSink fans out each call to every configured sink, stopping at the
// first error. See cdrengine for the concurrent errgroup-based variant used
// when more than one sink is configured at runtime.
type MultiSink struct {
	Sinks []Sink
}

// WriteCall writes call to every sink in order.
func (m MultiSink) WriteCall(ctx context.Context, call *cdrleg.Call) error {
	for _, s := range m.Sinks {
		if err := s.WriteCall(ctx, call); err != nil {
			return err
		}
	}
	return nil
}
