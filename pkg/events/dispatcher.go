package events

import (
	"sync"

	"go.uber.org/zap"
)

// Subscriber receives every published event. Subscribers must not block;
// slow consumers should hand off to their own goroutines.
type Subscriber func(Event)

// Dispatcher is an in-process Publisher that fans events out to subscribers
// on a single delivery goroutine, preserving publish order.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	closed      bool

	events  chan Event
	done    chan struct{}
	stopped chan struct{}

	logger *zap.Logger
}

// NewDispatcher creates a dispatcher and starts its delivery loop.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.Named("events"),
	}
	go d.run()
	return d
}

var _ Publisher = (*Dispatcher)(nil)

// Subscribe registers a subscriber for all subsequent events.
func (d *Dispatcher) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, s)
}

// Publish enqueues an event for delivery. Publication is fire-and-forget;
// if the dispatcher is closed or the buffer is full the event is dropped
// with a log line, never blocking the screening transaction.
func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		d.logger.Warn("Dropping event after dispatcher close", zap.String("event", event.EventName()))
		return
	}

	select {
	case d.events <- event:
	default:
		d.logger.Warn("Dropping event, dispatch buffer full", zap.String("event", event.EventName()))
	}
}

// Close stops the delivery loop after draining buffered events and waits for
// it to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)
	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		case <-d.done:
			// Drain whatever was buffered before the close.
			for {
				select {
				case event := <-d.events:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.logger.Debug("Delivering event", zap.String("event", event.EventName()))

	d.mu.RLock()
	subs := d.subscribers
	d.mu.RUnlock()

	for _, s := range subs {
		s(event)
	}
}
