package domain

// Publisher hands an event to the broadcast machinery without waiting for delivery.
// Publish reports whether the event was accepted; false means it was dropped.
type Publisher interface {
	Publish(channel string, msg Message) bool
}
