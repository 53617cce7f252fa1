// Package idle shuts a server down after a period without requests.
package idle

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Timer keeps track of request activity and closes its Done channel once
// no request has been seen for the timeout.
type Timer struct {
	mu          sync.Mutex
	timeout     time.Duration
	tick        time.Duration
	lastRequest time.Time
	done        chan struct{}
}

// NewTimer creates a new Timer. It does nothing until Start is called.
func NewTimer(timeout time.Duration) *Timer {
	tick := time.Second
	if timeout < tick {
		tick = timeout / 4
	}
	return &Timer{
		timeout:     timeout,
		tick:        tick,
		lastRequest: time.Now(),
		done:        make(chan struct{}),
	}
}

// Done is closed once the idle timeout has been reached.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// Start begins the idle countdown, and returns immediately. The countdown
// stops early if ctx is cancelled.
func (t *Timer) Start(ctx context.Context) {
	go t.run(ctx)
}

func (t *Timer) run(ctx context.Context) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.mu.Lock()
			elapsed := now.Sub(t.lastRequest)
			t.mu.Unlock()

			if elapsed > t.timeout {
				close(t.done)
				return
			}
		}
	}
}

// Reset restarts the idle countdown.
func (t *Timer) Reset() {
	now := time.Now()
	t.mu.Lock()
	t.lastRequest = now
	t.mu.Unlock()
}

// Middleware resets the countdown at the start of every request.
func (t *Timer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Reset()
		next.ServeHTTP(w, r)
	})
}
