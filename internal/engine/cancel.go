package engine

import (
	"sync"
	"time"
)

// cancelToken is checked at every suspension point of a session. Cancelling
// wakes pending pauses but never interrupts an in-flight network call.
type cancelToken struct {
	done chan struct{}
	once sync.Once
}

func newCancelToken() *cancelToken {
	return &cancelToken{done: make(chan struct{})}
}

func (t *cancelToken) cancel() {
	t.once.Do(func() { close(t.done) })
}

func (t *cancelToken) active() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// sleep pauses for d and reports whether the session is still active.
func (t *cancelToken) sleep(d time.Duration) bool {
	if d <= 0 {
		return t.active()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return t.active()
	case <-t.done:
		return false
	}
}
