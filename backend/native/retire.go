package native

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/blade/gpucore"
)

// pollInterval is the sleep between completion checks while waiting.
const pollInterval = 200 * time.Microsecond

// retirement is a release function that may run once the queue has
// completed submission index.
type retirement struct {
	index   uint64
	release func()
}

// tracker follows queue submission indices and runs release functions once
// the work they belong to has completed.
type tracker struct {
	mu        sync.Mutex
	queue     hal.Queue
	submitted uint64
	completed uint64
	pending   []retirement
	log       *slog.Logger
}

func newTracker(queue hal.Queue, log *slog.Logger) *tracker {
	return &tracker{queue: queue, log: log}
}

// submit hands cbs to the queue and returns their submission index.
func (t *tracker) submit(cbs []hal.CommandBuffer) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	index, err := t.queue.Submit(cbs)
	if err != nil {
		return 0, err
	}
	t.submitted = max(t.submitted, index)
	return index, nil
}

// after schedules release to run once index has completed. A zero index
// means everything submitted so far.
func (t *tracker) after(index uint64, release func()) {
	t.mu.Lock()
	if index == 0 {
		index = t.submitted
	}
	t.advanceLocked()
	if index > t.completed {
		t.pending = append(t.pending, retirement{index: index, release: release})
		release = nil
	}
	ready := t.takeLocked()
	t.mu.Unlock()

	run(ready)
	if release != nil {
		release()
	}
}

// poll runs every retirement whose submission has completed and returns
// the completed index. It never blocks on the GPU.
func (t *tracker) poll() uint64 {
	t.mu.Lock()
	t.advanceLocked()
	done := t.completed
	ready := t.takeLocked()
	t.mu.Unlock()

	run(ready)
	return done
}

// wait blocks until index has completed or timeout elapses.
func (t *tracker) wait(index uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for t.poll() < index {
		if !time.Now().Before(deadline) {
			return fmt.Errorf("native: submission %d not complete within %v: %w", index, timeout, gpucore.ErrTimeout)
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// waitIdle blocks until all submitted work completes or timeout elapses.
func (t *tracker) waitIdle(timeout time.Duration) error {
	t.mu.Lock()
	last := t.submitted
	t.mu.Unlock()
	return t.wait(last, timeout)
}

// advanceLocked reads the queue's completed index.
func (t *tracker) advanceLocked() {
	t.completed = max(t.completed, t.queue.PollCompleted())
}

// takeLocked removes and returns the retirements that may run.
func (t *tracker) takeLocked() []func() {
	var ready []func()
	kept := t.pending[:0]
	for _, r := range t.pending {
		if r.index <= t.completed {
			ready = append(ready, r.release)
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(t.pending); i++ {
		t.pending[i] = retirement{}
	}
	t.pending = kept
	return ready
}

// run calls fns in order. Release functions run without the tracker lock
// so they may take the device lock.
func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// destroy runs every remaining retirement. Callers wait for idle first.
func (t *tracker) destroy() {
	t.mu.Lock()
	t.advanceLocked()
	ready := t.takeLocked()
	if n := len(t.pending); n > 0 {
		t.log.Warn("native: releasing objects of unfinished work", "count", n)
		for _, r := range t.pending {
			ready = append(ready, r.release)
		}
		t.pending = nil
	}
	t.mu.Unlock()
	run(ready)
}
