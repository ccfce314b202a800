package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled bool
	// BufferSize is the queue depth. Values below one are raised to one.
	BufferSize int
	// DropIfFull makes Emit non-blocking: an event that finds the queue
	// full is discarded and counted.
	DropIfFull bool
	// OnDrop runs on the emitting goroutine for each discarded event and
	// must not block.
	OnDrop func(Event)
}

// Dispatcher decouples request paths from a possibly slow Sink. A single
// worker goroutine delivers queued events in order.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	onDrop     func(Event)

	queue    chan Event
	stopping chan struct{}
	stopOnce sync.Once
	worker   sync.WaitGroup

	// mu guards sends against the queue being closed underneath them.
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

// NewDispatcher starts the delivery worker. A disabled config yields a nil
// *Dispatcher whose methods are no-ops.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		onDrop:     cfg.OnDrop,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stopping:   make(chan struct{}),
	}
	d.worker.Add(1)
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer d.worker.Done()
	// The queue is closed by Close, so ranging flushes everything accepted.
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit queues ev. Without DropIfFull it waits for room until ctx ends or
// the dispatcher starts closing. Events emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
			if d.onDrop != nil {
				d.onDrop(ev)
			}
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
	case <-d.stopping:
	}
}

// Close releases blocked emitters, delivers the remaining queue and waits
// for the sink to finish. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		close(d.stopping)

		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.worker.Wait()
	})
}

// Dropped counts events discarded under DropIfFull.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
