// README: Journal recorder: a session observer that persists notifications off the notify path.
package journal

import (
	"context"
	"time"

	"navi/internal/logging"
	"navi/internal/modules/navigation"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 3 * time.Second
)

// appender is the write side of Store.
type appender interface {
	Append(ctx context.Context, e Entry) (int64, error)
}

// Recorder queues every notification of the sessions it observes and writes
// them from Run. Notifications that find the queue full are dropped and logged.
type Recorder struct {
	store   appender
	log     logging.Logger
	queue   chan Entry
	timeout time.Duration
}

func NewRecorder(store *Store, log logging.Logger) *Recorder {
	return newRecorder(store, log, defaultQueueSize)
}

func newRecorder(store appender, log logging.Logger, size int) *Recorder {
	return &Recorder{
		store:   store,
		log:     logging.OrNoop(log),
		queue:   make(chan Entry, size),
		timeout: defaultWriteTimeout,
	}
}

func (r *Recorder) Name() string { return "journal" }

func (r *Recorder) Handlers(sessionID string) navigation.Handlers {
	return navigation.AllHandlers(func(n navigation.Notification) {
		e, err := FromNotification(n)
		if err != nil {
			r.log.Warn(context.Background(), "journal entry encoding failed",
				logging.String("session_id", sessionID), logging.Err(err))
			return
		}
		select {
		case r.queue <- e:
		default:
			r.log.Warn(context.Background(), "journal queue full; entry dropped",
				logging.String("session_id", sessionID),
				logging.String("event", e.Event))
		}
	})
}

// Run writes queued entries until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	ctx := context.Background()
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()
	if _, err := r.store.Append(ctx, e); err != nil {
		r.log.Error(ctx, "journal append failed",
			logging.String("session_id", e.SessionID),
			logging.String("event", e.Event),
			logging.Err(err))
	}
}
