// Package uiadapter implements the spec's event-bus consumer (§6): a Sink
// interface any renderer can satisfy, a Dispatcher that filters the bus's
// best-effort duplicate deliveries before they reach it, a concrete tview
// TUI renderer, and a ShutdownController for signal/terminal cleanup.
package uiadapter

import (
	"context"
	"strings"
	"sync"

	"github.com/flokiorg/depinterm/events"
)

// Sink is the UIAdapter surface the event bus is rendered through. Every
// method must tolerate being called from a single dispatch goroutine, not
// necessarily the UI's own goroutine.
type Sink interface {
	OnMessage(p events.MessagePayload)
	OnPollComplete(p events.PollCompletePayload)
	OnPollError(message string)
	OnReconnected()
	OnBlockingErrors(messages []string)
	OnBlockingCleared()
}

// Dispatcher subscribes to a Bus and forwards events to a Sink, collapsing
// the duplicate deliveries the rest of the system is allowed to produce
// (e.g. a full resync replaying an already-seen message hash, or the
// Supervisor re-emitting an unchanged BlockingErrors set on every tick)
// into a single Sink call each.
type Dispatcher struct {
	bus  *events.Bus
	sink Sink

	mu             sync.Mutex
	seenHashes     map[string]bool
	lastBlocking   string
	blockingActive bool
	wasDisconnected bool
}

// NewDispatcher wires sink to receive deduplicated events from bus.
func NewDispatcher(bus *events.Bus, sink Sink) *Dispatcher {
	return &Dispatcher{
		bus:        bus,
		sink:       sink,
		seenHashes: make(map[string]bool),
	}
}

// Run subscribes and forwards events to the Sink until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ch, unsubscribe := d.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d.dispatch(ev)
		}
	}
}

func (d *Dispatcher) dispatch(ev *events.Event) {
	switch ev.Kind {
	case events.KindMessage:
		if ev.Message == nil {
			return
		}
		d.mu.Lock()
		if d.seenHashes[ev.Message.Hash] {
			d.mu.Unlock()
			return
		}
		d.seenHashes[ev.Message.Hash] = true
		d.mu.Unlock()
		d.sink.OnMessage(*ev.Message)

	case events.KindPollComplete:
		if ev.PollComplete == nil {
			return
		}
		d.sink.OnPollComplete(*ev.PollComplete)

	case events.KindPollError:
		if ev.PollError == nil {
			return
		}
		d.sink.OnPollError(ev.PollError.Message)

	case events.KindReconnected:
		d.mu.Lock()
		wasDown := d.wasDisconnected
		d.wasDisconnected = false
		d.mu.Unlock()
		if wasDown {
			d.sink.OnReconnected()
		}

	case events.KindBlockingErrors:
		if ev.BlockingErrors == nil {
			return
		}
		key := strings.Join(ev.BlockingErrors.Messages, "\n")
		d.mu.Lock()
		d.wasDisconnected = true
		dup := d.blockingActive && d.lastBlocking == key
		d.blockingActive = true
		d.lastBlocking = key
		d.mu.Unlock()
		if !dup {
			d.sink.OnBlockingErrors(ev.BlockingErrors.Messages)
		}

	case events.KindBlockingCleared:
		d.mu.Lock()
		wasActive := d.blockingActive
		d.blockingActive = false
		d.lastBlocking = ""
		d.mu.Unlock()
		if wasActive {
			d.sink.OnBlockingCleared()
		}
	}
}
