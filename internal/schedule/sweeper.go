package schedule

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/hzakaria/guardpoint_backend/internal/logger"
)

// Sweeper periodically re-resolves non-terminal assignment windows and
// persists scheduled->active and any->completed transitions. One sweeper runs
// per process; it never moves a completed window back to active.
type Sweeper struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(db *gorm.DB, log *logger.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{DB: db, Log: log, Interval: interval}
}

// Start launches the sweep loop. Stop (or cancelling the parent context)
// shuts it down; Stop blocks until the loop has exited.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(time.Now().UTC())
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

type sweepRow struct {
	ID             string
	StartsAt       time.Time
	EndsAt         time.Time
	EarlyBufferMin int
	Phase          string
}

func (s *Sweeper) sweep(now time.Time) {
	var rows []sweepRow
	err := s.DB.Table("assignments").
		Select("id, starts_at, ends_at, early_buffer_min, phase").
		Where("phase IN ?", []string{string(PhaseScheduled), string(PhaseActive)}).
		Scan(&rows).Error
	if err != nil {
		s.Log.Error("phase sweep query failed", "err", err)
		return
	}
	for _, row := range rows {
		next := Resolve(Window{
			StartsAt:  row.StartsAt,
			EndsAt:    row.EndsAt,
			BufferMin: row.EarlyBufferMin,
			Stored:    Phase(row.Phase),
		}, now)
		if string(next) == row.Phase {
			continue
		}
		// Only forward transitions are persisted.
		if Phase(row.Phase) == PhaseActive && next == PhaseScheduled {
			continue
		}
		res := s.DB.Table("assignments").
			Where("id = ? AND phase = ?", row.ID, row.Phase).
			Update("phase", string(next))
		if res.Error != nil {
			s.Log.Error("phase sweep update failed", "assignment_id", row.ID, "err", res.Error)
			continue
		}
		if res.RowsAffected > 0 {
			s.Log.Info("assignment phase transition", "assignment_id", row.ID, "from", row.Phase, "to", string(next))
		}
	}
}
