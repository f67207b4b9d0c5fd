package events

// Subscriber receives events from the event bus.
type Subscriber interface {
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}
