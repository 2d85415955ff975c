package download

import "sync"

// dispatcher delivers sink calls on its own goroutine, in order. The queue is
// unbounded so the control loop never blocks on a slow sink.
type dispatcher struct {
	sink Sink

	mu      sync.Mutex
	pending []func(Sink)
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

func newDispatcher(sink Sink) *dispatcher {
	return &dispatcher{
		sink:    sink,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (d *dispatcher) push(fn func(Sink)) {
	if d.sink == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			fn(d.sink)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-d.wake
		}
	}
}

// close delivers what is pending and then stops
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.stopped
}
