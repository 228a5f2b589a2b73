package position

import (
	"context"
	"errors"
	"time"

	"github.com/hzakaria/guardpoint_backend/internal/geo"
)

// Source yields raw fixes on demand. Next blocks until a fix arrives or the
// context is cancelled; Close releases the underlying stream/device. A source
// reports permission and availability problems through the sentinel errors in
// this package.
type Source interface {
	Next(ctx context.Context) (Fix, error)
	Close() error
}

// Collector pumps a Source through a Filter until the estimate settles or the
// hard timeout elapses. OnProgress, when set, is invoked after every accepted
// fix so callers can surface sampling feedback.
type Collector struct {
	Timeout    time.Duration
	OnProgress func(Progress)
}

// Collect returns the settled estimate, or the best available one when the
// timeout fires with at least one sample in the window. The source is always
// closed before returning, including on cancellation.
func (c *Collector) Collect(ctx context.Context, src Source) (geo.Estimate, error) {
	defer src.Close()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f := NewFilter()
	for {
		fix, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrSourceUnavailable):
				return geo.Estimate{}, err
			case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
				if est, ok := f.Estimate(); ok {
					return est, nil
				}
				return geo.Estimate{}, ErrTimeout
			case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
				return geo.Estimate{}, err
			default:
				return geo.Estimate{}, err
			}
		}
		if !f.Add(fix) {
			continue
		}
		if c.OnProgress != nil {
			c.OnProgress(f.Progress())
		}
		if f.Len() >= MinSamples {
			est, _ := f.Estimate()
			return est, nil
		}
	}
}
