package settle

import (
	"context"
	"log"
)

// Publisher delivers one settlement to the wallet side. Implementations
// must be idempotent: a crash between publish and outbox deletion
// replays the entry.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
}

// LogPublisher writes settlements to the process log. It stands in for
// a wallet integration in development and tests.
type LogPublisher struct{}

// Publish logs the entry and reports success.
func (LogPublisher) Publish(ctx context.Context, entry Entry) error {
	log.Printf("settlement: room=%s game=%s event=%s payload=%s",
		entry.RoomID, entry.GameType, entry.EventName, entry.Payload)

	return nil
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, entry Entry) error

// Publish calls the wrapped function.
func (f PublisherFunc) Publish(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

var (
	_ Publisher = LogPublisher{}
	_ Publisher = PublisherFunc(nil)
)
