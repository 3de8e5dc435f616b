package capture

import (
	"sync"
	"time"
)

// countdown plays a fixed step sequence before capture (re)starts, showing
// each step for one interval and then firing a completion callback exactly
// once. It is owned by a single session and torn down with it; starting a
// new run cancels any run still in flight.
type countdown struct {
	interval time.Duration
	onStep   func(step string)

	mu   sync.Mutex
	stop chan struct{}
}

func newCountdown(interval time.Duration, onStep func(string)) *countdown {
	return &countdown{interval: interval, onStep: onStep}
}

// start begins the sequence and returns a cancel handle. Cancelling before
// completion suppresses onComplete and clears the displayed step. No two
// concurrent runs can both call back: the previous run is cancelled first.
func (c *countdown) start(steps []string, onComplete func()) (cancel func()) {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	go c.run(steps, stop, onComplete)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.stop == stop {
				close(stop)
				c.stop = nil
			}
			c.mu.Unlock()
			if c.onStep != nil {
				c.onStep("")
			}
		})
	}
}

func (c *countdown) run(steps []string, stop chan struct{}, onComplete func()) {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for _, step := range steps {
		select {
		case <-stop:
			return
		default:
		}

		if c.onStep != nil {
			c.onStep(step)
		}

		select {
		case <-stop:
			return
		case <-timer.C:
			timer.Reset(c.interval)
		}
	}

	c.mu.Lock()
	if c.stop == stop {
		c.stop = nil
	}
	c.mu.Unlock()

	if c.onStep != nil {
		c.onStep("")
	}
	onComplete()
}
