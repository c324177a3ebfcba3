package events

// ChannelEvent delivers values to registered channels.
// Sends never block: a full channel misses the value.
type ChannelEvent[T any] struct {
	reg *registry[T, chan<- T]
}

// NewChannelEvent creates a ChannelEvent. With sendLastEventOnListen the last
// notified value is sent to a channel as soon as it starts listening.
func NewChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{reg: newRegistry[T, chan<- T](sendLastEventOnListen)}
}

// Listen registers ch and returns the function that removes it
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	id, last := e.reg.add(ch)
	if last != nil {
		trySend(ch, *last)
	}
	return func() { e.reg.remove(id) }
}

func (e *ChannelEvent[T]) Notify(value T) {
	for _, ch := range e.reg.record(value) {
		trySend(ch, value)
	}
}

func (e *ChannelEvent[T]) ListenerCount() int {
	return e.reg.count()
}

func trySend[T any](ch chan<- T, value T) {
	select {
	case ch <- value:
	default:
	}
}
