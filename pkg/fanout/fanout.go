// Package fanout delivers incident change notifications from the
// change-stream bridge to downstream consumers (Kafka topics, in-process
// listeners) without feeding back into the core pipeline.
package fanout

import (
	"context"

	"aegismind-siem/pkg/changestream"
)

// Observer receives incident change notifications. Implementations must
// not block the caller for long; Publish failures are logged by the
// implementation, not surfaced to the bridge.
type Observer interface {
	Publish(ctx context.Context, notification changestream.Notification) error
	Start(ctx context.Context) error
	Stop() error
}

// ChannelObserver is an in-process Observer backed by a buffered channel,
// used in tests and for single-process deployments that don't need Kafka.
type ChannelObserver struct {
	ch chan changestream.Notification
}

// NewChannelObserver builds a ChannelObserver with the given buffer size.
func NewChannelObserver(buffer int) *ChannelObserver {
	return &ChannelObserver{ch: make(chan changestream.Notification, buffer)}
}

// Notifications exposes the receive side of the channel for consumers.
func (c *ChannelObserver) Notifications() <-chan changestream.Notification {
	return c.ch
}

// Start is a no-op; the channel is ready to use once constructed.
func (c *ChannelObserver) Start(ctx context.Context) error { return nil }

// Stop closes the channel, unblocking any Notifications() readers.
func (c *ChannelObserver) Stop() error {
	close(c.ch)
	return nil
}

// Publish enqueues the notification, dropping it if the buffer is full
// and the context has no deadline left to wait.
func (c *ChannelObserver) Publish(ctx context.Context, notification changestream.Notification) error {
	select {
	case c.ch <- notification:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
