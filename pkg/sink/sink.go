// Package sink dispatches trade signals to downstream consumers.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/gregtusar/statarb/pkg/models"
)

// Sink accepts signals in emission order.
type Sink interface {
	Put(ctx context.Context, signal models.Signal) error
}

// MemorySink is an unbounded in-order queue.
type MemorySink struct {
	mu      sync.Mutex
	signals []models.Signal
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Put(_ context.Context, signal models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, signal)
	return nil
}

// Drain removes and returns everything queued so far.
func (m *MemorySink) Drain() []models.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.signals
	m.signals = nil
	return out
}

func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.signals)
}

// MultiSink forwards each signal to every sink and joins their errors.
type MultiSink []Sink

func (ms MultiSink) Put(ctx context.Context, signal models.Signal) error {
	var errs []error
	for _, s := range ms {
		if err := s.Put(ctx, signal); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
