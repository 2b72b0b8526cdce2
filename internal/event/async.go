package event

import "sync"

// AsyncPublisher queues events and delivers them to a Bus on its own
// goroutine, so Publish never waits on a handler. Delivery order matches
// publish order. The queue is unbounded.
type AsyncPublisher struct {
	bus *Bus

	mu     sync.Mutex
	queue  []Event
	closed bool

	signal chan struct{}
	done   chan struct{}
}

// NewAsyncPublisher starts a delivery goroutine for bus. Call Close to
// flush and stop it.
func NewAsyncPublisher(bus *Bus) *AsyncPublisher {
	p := &AsyncPublisher{
		bus:    bus,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues an event. Events published after Close are dropped.
func (p *AsyncPublisher) Publish(e Event) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, e)
	// Signal under the lock so Close cannot close the channel first.
	select {
	case p.signal <- struct{}{}:
	default:
	}
	p.mu.Unlock()
}

// Close delivers every queued event and stops the delivery goroutine.
// It is safe to call more than once.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.signal)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for {
		_, open := <-p.signal
		for {
			p.mu.Lock()
			batch := p.queue
			p.queue = nil
			p.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				p.bus.Publish(e)
			}
		}
		if !open {
			return
		}
	}
}
