package stream

import "sync"

// dispatcher is a run-to-completion callback queue. All externally
// observable notifications (data, readable, end, drain, finish, error,
// close, write completions) and all collaborator invocations are funneled
// through one dispatcher per lifecycle: jobs enqueued while a job is
// running are appended and executed after it returns, never recursively.
// That keeps reentrant producer/consumer calls bounded in stack depth and
// preserves submission order.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// enqueue schedules fn. If no job is currently running, the calling
// goroutine drains the queue; otherwise fn runs once the active drain
// reaches it.
func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		next()
		d.mu.Lock()
	}
	d.running = false
	d.mu.Unlock()
}
