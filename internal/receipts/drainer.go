// Package receipts persists SMS delivery receipts off the webhook path.
// The webhook handler must acknowledge the vendor immediately, so
// receipts are queued here and written by a small worker pool.
package receipts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/go-care-alerts/internal/models"
	"github.com/carebridge/go-care-alerts/internal/repository"
)

type Drainer struct {
	numWorkers int
	jobs       chan models.MessageLog
	repo       repository.MessageRepository
	wg         sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewDrainer(repo repository.MessageRepository, numWorkers, bufferSize int) *Drainer {
	return &Drainer{
		numWorkers: numWorkers,
		jobs:       make(chan models.MessageLog, bufferSize),
		repo:       repo,
	}
}

func (d *Drainer) Start() {
	for i := 1; i <= d.numWorkers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

func (d *Drainer) worker(id int) {
	defer d.wg.Done()

	for m := range d.jobs {
		// Each write gets its own context: shutdown must drain the
		// queue, not cancel what is still in it.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := d.repo.AddMessageLog(ctx, &m)
		cancel()
		if err != nil {
			slog.Error("error persisting message receipt", "worker", id, "sid", m.MessageSID, "error", err)
			continue
		}
		slog.Debug("message receipt recorded", "sid", m.MessageSID, "status", m.Status)
	}
}

// Submit queues a receipt without blocking. A full buffer drops the
// receipt; delivery receipts are audit data, never worth stalling a
// webhook acknowledgement for.
func (d *Drainer) Submit(m models.MessageLog) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		slog.Warn("receipt submitted after stop, dropping", "sid", m.MessageSID)
		return false
	}
	select {
	case d.jobs <- m:
		return true
	default:
		slog.Warn("receipt buffer full, dropping", "sid", m.MessageSID)
		return false
	}
}

// Stop closes the queue and waits until every queued receipt is written.
// Submits that race Stop are dropped, not panicked on.
func (d *Drainer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}
