package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Options struct {
	Workers int
	Buffer  int
	// Timeout bounds a single sink delivery.
	Timeout time.Duration
}

// Dispatcher fans events out to its sinks from a fixed worker pool. Notify
// never blocks: when the buffer is full the event is dropped and logged.
type Dispatcher struct {
	sinks   []Sink
	logger  *log.Logger
	timeout time.Duration
	jobs    chan Event
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(logger *log.Logger, opts Options, sinks ...Sink) *Dispatcher {
	if logger == nil {
		panic("logger is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	d := &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		timeout: opts.Timeout,
		jobs:    make(chan Event, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	names := make([]string, 0, len(sinks))
	for _, sink := range sinks {
		names = append(names, sink.Name())
	}
	logger.Infof("notification dispatcher started, workers: %d, buffer: %d, timeout: %v, sinks: %v", opts.Workers, opts.Buffer, opts.Timeout, names)
	return d
}

func (d *Dispatcher) Notify(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.eventLogger(event).Warn("notification dropped, dispatcher closed")
		return
	}
	select {
	case d.jobs <- event:
	default:
		d.eventLogger(event).Warn("notification dropped, queue full")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for event := range d.jobs {
		for _, sink := range d.sinks {
			if err := d.deliver(sink, event); err != nil {
				d.eventLogger(event).WithError(err).WithFields(log.Fields{
					"sink":   sink.Name(),
					"worker": id,
				}).Error("notification delivery failed")
			}
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return sink.Deliver(ctx, event)
}

func (d *Dispatcher) eventLogger(event Event) *log.Entry {
	return d.logger.WithFields(log.Fields{
		"event":     event.Type,
		"kind":      event.Kind,
		"entity_id": event.EntityID,
		"new_state": event.NewState,
	})
}
