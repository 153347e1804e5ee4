// Package events is a small in-process pub/sub used for fire-and-forget side
// effects of ingestion. Handlers run on a background goroutine; a failing or
// slow handler never blocks the mail pipeline.
package events

import (
	"log/slog"
	"sync"
)

// Event names emitted by the ingestion pipeline.
const (
	InboundReceived  = "inbound.received"
	AttachmentStored = "attachment.stored"
	RequestSent      = "request.sent"
)

// Event is one published occurrence.
type Event struct {
	Name    string
	Payload map[string]any
}

// Dispatcher publishes events to registered handlers.
type Dispatcher interface {
	Dispatch(event Event)
}

// Handler processes one event.
type Handler func(Event)

// AsyncDispatcher fans events out to handlers on a single worker goroutine.
// Dispatch never blocks: when the buffer is full the event is dropped and
// counted, which is acceptable for advisory notifications.
type AsyncDispatcher struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string][]Handler

	events  chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	dropped int64
}

// NewAsyncDispatcher creates a dispatcher with the given buffer size.
func NewAsyncDispatcher(logger *slog.Logger, buffer int) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncDispatcher{
		logger:   logger,
		handlers: make(map[string][]Handler),
		events:   make(chan Event, buffer),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler for an event name. Registration is expected
// during wiring, before Start.
func (d *AsyncDispatcher) Subscribe(name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], handler)
}

// Start launches the delivery goroutine.
func (d *AsyncDispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop drains nothing: pending events in the buffer are delivered, new
// dispatches after Stop are dropped.
func (d *AsyncDispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Dispatch publishes an event without blocking.
func (d *AsyncDispatcher) Dispatch(event Event) {
	select {
	case d.events <- event:
	case <-d.stopCh:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.logger.Warn("event dropped, dispatcher buffer full", "event", event.Name)
	}
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		case <-d.stopCh:
			// Deliver what is already buffered, then exit.
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

func (d *AsyncDispatcher) deliver(event Event) {
	d.mu.RLock()
	handlers := d.handlers[event.Name]
	d.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("event handler panic", "event", event.Name, "panic", r)
				}
			}()
			handler(event)
		}()
	}
}
