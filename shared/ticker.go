package shared

import (
	"sync"
	"time"
)

// Ticker runs fn every interval on its own goroutine until stopped.
type Ticker struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func StartTicker(interval time.Duration, fn func()) *Ticker {
	t := &Ticker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				fn()
			}
		}
	}()
	return t
}

// Stop is idempotent and returns once the goroutine exited. It must not be
// called from inside fn.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
	<-t.done
}
