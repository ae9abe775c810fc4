// Package core holds transport-neutral primitives shared by the registry,
// the room router and the websocket adapter.
package core

// Frame is a raw outbound payload, already marshaled.
type Frame []byte

// ConnID identifies one live transport connection.
type ConnID string

// Sink abstracts a connection's outbound side.
// Owned by the adapter; the adapter must Close() it.
type Sink interface {
	// TrySend enqueues a frame without blocking. Returns an error when the
	// peer's buffer is full or the connection is closed.
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []ConnID
}
