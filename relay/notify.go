package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mhoran/weerelay/internal/state"
)

// livenessProber is the slice of the client the reconciler needs:
// connectivity introspection and a cancellable pong race.
type livenessProber interface {
	IsConnected() bool
	PingAndWaitPong(ctx context.Context) error
}

// Reconciler correlates a background-delivered alert, which references
// a numeric conversation identifier from a possibly older session, with
// the eventually consistent local buffer list. At most one
// reconciliation is in flight; starting a new one cancels and awaits
// teardown of the previous one.
type Reconciler struct {
	logger *slog.Logger
	store  *state.Store
	probe  livenessProber

	// onConfirmed runs after a notification publishes, off the store's
	// run loop. Used for persistence.
	onConfirmed func(state.Notification)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a reconciler over the given store and prober.
func NewReconciler(store *state.Store, probe livenessProber, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		logger: logger,
		store:  store,
		probe:  probe,
	}
}

// Reconcile starts resolving one pending alert. Any in-flight
// reconciliation is cancelled first so only the most recent alert can
// win. Safe for concurrent use; push alerts can arrive on any
// goroutine.
func (r *Reconciler) Reconcile(ctx context.Context, pending state.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		<-r.done
	}

	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done

	go func() {
		defer close(done)
		r.run(rctx, pending)
	}()
}

func (r *Reconciler) run(ctx context.Context, pending state.Notification) {
	trusted := false

	if r.probe.IsConnected() {
		// Race a liveness probe against a disconnect. Winning the race
		// means the buffer collection held right now is server truth.
		switch err := r.probe.PingAndWaitPong(ctx); err {
		case nil:
			trusted = true
		case ErrDisconnected:
			r.logger.Debug("liveness race lost to disconnect, deferring to next snapshot")
		default:
			return
		}
	}

	if !trusted {
		// Unbounded wait: the next successful snapshot fetch is the
		// only event that makes the collection trustworthy again.
		if err := r.store.WaitForSnapshot(ctx); err != nil {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}

	buffer, ok := r.store.BufferByID(pending.BufferID)
	if !ok {
		// Conversation closed or the identifier is stale. Expected,
		// not an error; the alert is never surfaced.
		r.logger.Debug("dropping notification for unknown conversation",
			slog.Int64("buffer_id", pending.BufferID),
		)
		r.store.Apply(state.NotificationCleared{})

		return
	}

	confirmed := pending
	confirmed.BufferPointer = buffer.Pointer

	r.store.Apply(state.ConfirmedNotification{Notification: confirmed})

	if r.onConfirmed != nil {
		r.onConfirmed(confirmed)
	}
}
