package eventstream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/synapseshield/shield/internal/domain"
)

// Listener runs a single event source in the background.
type Listener struct {
	source domain.EventSource
	handle domain.EventHandler
	log    *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	lastErr error

	events atomic.Int64
}

// ListenerStatus is a point-in-time view of a Listener.
type ListenerStatus struct {
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Events    int64     `json:"events"`
	LastError string    `json:"last_error,omitempty"`
}

// NewListener binds source to handle.
func NewListener(source domain.EventSource, handle domain.EventHandler, log *zap.SugaredLogger) *Listener {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Listener{source: source, handle: handle, log: log}
}

// Start launches the source. It returns domain.ErrListenerRunning if the
// listener is already running. The listener stops when ctx ends or Stop is
// called.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return domain.ErrListenerRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	l.started = time.Now()
	l.lastErr = nil

	count := func(ctx context.Context, body []byte) error {
		l.events.Add(1)
		return l.handle(ctx, body)
	}

	go func() {
		defer close(done)
		err := l.source.Run(runCtx, count)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.log.Errorw("event listener stopped", "error", err)
		} else {
			l.log.Infow("event listener stopped")
		}

		l.mu.Lock()
		l.lastErr = err
		l.cancel, l.done = nil, nil
		l.mu.Unlock()
		cancel()
	}()

	l.log.Infow("event listener started")
	return nil
}

// Stop cancels the running source and waits for it to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the running source exits.
func (l *Listener) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status reports whether the listener is running and how many events it has
// handled.
func (l *Listener) Status() ListenerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := ListenerStatus{
		Running: l.done != nil,
		Events:  l.events.Load(),
	}
	if st.Running {
		st.StartedAt = l.started
	}
	if l.lastErr != nil && !errors.Is(l.lastErr, context.Canceled) {
		st.LastError = l.lastErr.Error()
	}
	return st
}
