// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

// Message is a pre-encoded JSON text frame.
type Message struct {
	Data []byte

	// Retain keeps the message as the hub's snapshot; clients that connect
	// later receive it first.
	Retain bool
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// NewSnapshot creates a retained JSON message.
func NewSnapshot(data []byte) Message {
	return Message{Data: data, Retain: true}
}
