package events

// CallbackEvent calls registered callbacks synchronously on Notify.
// Callbacks run outside the event's lock and may unregister themselves.
type CallbackEvent[T any] struct {
	reg *registry[T, func(T)]
}

// NewCallbackEvent creates a CallbackEvent. With sendLastEventOnListen a new
// callback is called right away with the last notified value.
func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{reg: newRegistry[T, func(T)](sendLastEventOnListen)}
}

// Listen registers callback and returns the function that removes it
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}
	id, last := e.reg.add(callback)
	if last != nil {
		callback(*last)
	}
	return func() { e.reg.remove(id) }
}

func (e *CallbackEvent[T]) Notify(value T) {
	for _, callback := range e.reg.record(value) {
		callback(value)
	}
}

func (e *CallbackEvent[T]) ListenerCount() int {
	return e.reg.count()
}
