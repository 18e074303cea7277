// Package messagequeue defines the message queue port used by the
// optional event relay.
package messagequeue

import "context"

// Queue is the port interface for publishing relay messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool

	// Close shuts down the queue connection.
	Close() error
}

// SubjectEvents is the subject prefix for relayed hook events; the
// session id is appended as the final token.
const SubjectEvents = "events"
