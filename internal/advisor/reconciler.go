package advisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"classledger/internal/queue"
)

// Reconciler drains reconcile requests and periodically sweeps every faculty
// cache.
type Reconciler struct {
	sync     *Synchronizer
	queue    queue.Queue
	interval time.Duration
	log      *zap.Logger
}

// NewReconciler wires a reconciler. A non-positive interval disables the
// periodic sweep.
func NewReconciler(sync *Synchronizer, q queue.Queue, interval time.Duration, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{sync: sync, queue: q, interval: interval, log: log}
}

// Run blocks until ctx is cancelled or the queue closes.
func (r *Reconciler) Run(ctx context.Context) error {
	messages, err := r.queue.Consume(ctx)
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.log.Info("reconciler started", zap.Duration("sweep_interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.Handle(ctx, msg)
		case <-tick:
			n, err := r.sync.Sweep(ctx)
			if err != nil {
				r.log.Error("cache sweep failed", zap.Error(err))
				continue
			}
			r.log.Info("cache sweep finished", zap.Int("rebuilt", n))
		}
	}
}

// Handle processes one queue message. Unknown types are skipped.
func (r *Reconciler) Handle(ctx context.Context, msg queue.Message) {
	if msg.Type != queue.TypeReconcile {
		r.log.Debug("skipping message", zap.String("type", msg.Type))
		return
	}
	facultyID := string(msg.Body)
	if facultyID == "" {
		return
	}
	if _, err := r.sync.Rebuild(ctx, facultyID, "queue"); err != nil {
		r.log.Error("reconcile faculty cache failed", zap.String("faculty_id", facultyID), zap.Error(err))
	}
}
