package transport

import (
	"encoding/json"
	"errors"

	evbus "github.com/asaskevich/EventBus"
)

// Emitter fans inbound events and lifecycle notifications out to listeners.
// Socket implementations embed it to provide On and OnLifecycle.
//
// Listeners run synchronously on the goroutine that dispatches the event (the
// socket's read loop), so they must not block and must not subscribe from
// inside a callback.
type Emitter struct {
	events    evbus.Bus
	lifecycle evbus.Bus
}

func NewEmitter() *Emitter {
	return &Emitter{
		events:    evbus.New(),
		lifecycle: evbus.New(),
	}
}

// On subscribes l to the named event. Several listeners may share one event.
func (e *Emitter) On(event string, l Listener) error {
	if l == nil {
		return errors.New("transport: nil listener")
	}
	return e.events.Subscribe(event, l)
}

// OnLifecycle subscribes fn to a lifecycle event.
func (e *Emitter) OnLifecycle(event string, fn LifecycleFunc) error {
	if fn == nil {
		return errors.New("transport: nil lifecycle callback")
	}
	return e.lifecycle.Subscribe(event, fn)
}

// HasListener reports whether anything listens to the named event.
func (e *Emitter) HasListener(event string) bool {
	return e.events.HasCallback(event)
}

// Dispatch delivers an inbound event to its listeners.
func (e *Emitter) Dispatch(event string, data json.RawMessage, reply Reply) {
	e.events.Publish(event, data, reply)
}

// PublishLifecycle delivers a lifecycle event to its listeners.
func (e *Emitter) PublishLifecycle(event string, arg any) {
	e.lifecycle.Publish(event, arg)
}
