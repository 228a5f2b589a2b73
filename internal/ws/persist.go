package ws

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/hzakaria/guardpoint_backend/internal/logger"
	"github.com/hzakaria/guardpoint_backend/internal/models"
)

const (
	persistQueueSize  = 1024
	persistMaxRetries = 3
	persistRetryDelay = 500 * time.Millisecond
)

// persister writes admitted position readings at best effort, decoupled from
// the fan-out path. Failures are logged and retried; they never reach the
// publisher.
type persister struct {
	db  *gorm.DB
	log *logger.Logger

	mu     sync.Mutex
	closed bool
	queue  chan models.PositionReading
	done   chan struct{}
}

func newPersister(db *gorm.DB, log *logger.Logger) *persister {
	return &persister{
		db:    db,
		log:   log,
		queue: make(chan models.PositionReading, persistQueueSize),
		done:  make(chan struct{}),
	}
}

func (p *persister) run() {
	defer close(p.done)
	for reading := range p.queue {
		p.write(reading)
	}
}

func (p *persister) write(reading models.PositionReading) {
	var err error
	for attempt := 0; attempt < persistMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(persistRetryDelay)
		}
		if err = p.db.Create(&reading).Error; err == nil {
			return
		}
	}
	p.log.Error("position persist dropped after retries", "agent_ref", reading.UserIDRef, "err", err)
}

// enqueue never blocks; a dropped write is acceptable, a stalled fan-out is
// not. After stop, readings are discarded instead of racing the closed queue.
func (p *persister) enqueue(reading models.PositionReading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- reading:
	default:
		p.log.Warn("position persist queue full, dropping reading", "agent_ref", reading.UserIDRef)
	}
}

func (p *persister) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}
