package position

import (
	"context"
	"sync"
)

// PushSource adapts a push stream of fixes (e.g. HTTP posts from a device)
// to the pull-based Source interface consumed by the Collector.
type PushSource struct {
	ch        chan Fix
	closeOnce sync.Once
	closed    chan struct{}
}

func NewPushSource() *PushSource {
	return &PushSource{
		ch:     make(chan Fix, MaxWindow),
		closed: make(chan struct{}),
	}
}

// Push offers a fix to the consumer. Returns false once the source is closed
// or when the consumer is too far behind; a dropped raw fix is acceptable
// noise, blocking the producer is not.
func (s *PushSource) Push(fix Fix) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.ch <- fix:
		return true
	default:
		return false
	}
}

func (s *PushSource) Next(ctx context.Context) (Fix, error) {
	select {
	case fix := <-s.ch:
		return fix, nil
	case <-s.closed:
		return Fix{}, ErrSourceUnavailable
	case <-ctx.Done():
		return Fix{}, ctx.Err()
	}
}

func (s *PushSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
