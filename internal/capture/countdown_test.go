package capture

import (
	"sync"
	"testing"
	"time"
)

const testTick = 5 * time.Millisecond

// stepCollector records countdown callbacks for assertions.
type stepCollector struct {
	mu        sync.Mutex
	steps     []string
	completed int
}

func (c *stepCollector) onStep(step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step)
}

func (c *stepCollector) onComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
}

func (c *stepCollector) completions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

func (c *stepCollector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.steps))
	copy(out, c.steps)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestCountdown_RunsStepsInOrderAndCompletesOnce(t *testing.T) {
	col := &stepCollector{}
	cd := newCountdown(testTick, col.onStep)

	cd.start([]string{"3", "2", "1", "BEGIN"}, col.onComplete)

	waitFor(t, "countdown completion", func() bool { return col.completions() == 1 })

	// Extra intervals must not produce a second completion.
	time.Sleep(6 * testTick)
	if got := col.completions(); got != 1 {
		t.Errorf("Expected exactly one completion, got %d", got)
	}

	steps := col.seen()
	want := []string{"3", "2", "1", "BEGIN", ""}
	if len(steps) != len(want) {
		t.Fatalf("Expected steps %v, got %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("Step %d: expected %q, got %q", i, want[i], steps[i])
		}
	}
}

func TestCountdown_CancelSuppressesCompletion(t *testing.T) {
	col := &stepCollector{}
	cd := newCountdown(testTick, col.onStep)

	cancel := cd.start([]string{"3", "2", "1"}, col.onComplete)
	cancel()

	time.Sleep(8 * testTick)
	if got := col.completions(); got != 0 {
		t.Errorf("Expected no completion after cancel, got %d", got)
	}

	steps := col.seen()
	if len(steps) == 0 || steps[len(steps)-1] != "" {
		t.Errorf("Expected cancel to clear the displayed step, got %v", steps)
	}
}

func TestCountdown_SecondStartCancelsFirst(t *testing.T) {
	first := &stepCollector{}
	second := &stepCollector{}
	cd := newCountdown(testTick, func(string) {})

	cd.start([]string{"3", "2", "1"}, first.onComplete)
	cd.start([]string{"3", "2", "1"}, second.onComplete)

	waitFor(t, "second countdown completion", func() bool { return second.completions() == 1 })

	time.Sleep(8 * testTick)
	if got := first.completions(); got != 0 {
		t.Errorf("Expected first countdown to be cancelled, got %d completions", got)
	}
	if got := second.completions(); got != 1 {
		t.Errorf("Expected one completion from second countdown, got %d", got)
	}
}
