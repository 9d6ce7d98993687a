// Package changestream bridges persisted incident mutations to fan-out
// observers: it watches a change-stream source for incident inserts,
// updates, and replaces, and invokes a callback with a JSON-ready
// notification per change.
package changestream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// reconnectDelay is the fixed backoff between a stream error and the next
// subscribe attempt. No resume token is kept across reconnects: delivery is
// at-most-once within a connection and duplicates across a reconnect are
// acceptable; consumers must be idempotent.
const reconnectDelay = 5 * time.Second

// Notification is the fan-out envelope emitted per change.
type Notification struct {
	Type      string      `json:"type"`
	Doc       interface{} `json:"doc"`
	Timestamp int64       `json:"timestamp"`
}

// Change is a single change-stream event as delivered by a ChangeSource.
type Change struct {
	OperationType string // "insert", "update", "replace", ...
	FullDocument  interface{}
	DocumentKey   interface{}
}

// ChangeSource is the persistence-side contract the bridge consumes. It
// mirrors MongoDB's change-stream semantics: Watch blocks, delivering
// changes on the returned channel until ctx is canceled or the stream
// errors, and errors are reported on err().
type ChangeSource interface {
	Watch(ctx context.Context) (<-chan Change, <-chan error)
}

// Callback is invoked per notification. Panics and errors from the callback
// are the caller's concern; the bridge only guards against the callback
// blocking the watch loop indefinitely being a non-goal — callers should
// keep callbacks fast or hand off internally.
type Callback func(Notification)

// Bridge is the change-stream bridge described in the component design: a
// background worker with an idempotent Start and a Stop that joins it.
type Bridge struct {
	source ChangeSource
	logger *logrus.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New constructs a Bridge over the given change source.
func New(source ChangeSource, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bridge{source: source, logger: logger}
}

// Start spawns the watch worker and invokes callback per notification.
// Idempotent: calling Start while already running is a silent no-op.
func (b *Bridge) Start(callback Callback) {
	if b.running.Load() {
		b.logger.WithField("component", "changestream").Warn("change_stream_already_running")
		return
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.running.Store(true)

	b.wg.Add(1)
	go b.watchLoop(callback)

	b.logger.WithField("component", "changestream").Info("change_stream_started")
}

// Stop signals termination and joins the worker. Returns once the worker has
// observed cancellation — at most one reconnect interval plus one
// outstanding notification, per the cancellation contract in the component
// design.
func (b *Bridge) Stop() {
	if !b.running.Load() {
		return
	}
	b.running.Store(false)
	b.cancel()
	b.wg.Wait()
	b.logger.WithField("component", "changestream").Info("change_stream_stopped")
}

// IsRunning reports whether the bridge's worker is active.
func (b *Bridge) IsRunning() bool {
	return b.running.Load()
}

func (b *Bridge) watchLoop(callback Callback) {
	defer b.wg.Done()

	for b.running.Load() {
		changes, errs := b.source.Watch(b.ctx)
		b.logger.WithField("component", "changestream").Info("change_stream_connected")

		streamErr := b.consume(changes, errs, callback)
		if !b.running.Load() {
			return
		}
		if streamErr != nil {
			b.logger.WithFields(logrus.Fields{
				"component": "changestream",
				"error":     streamErr.Error(),
			}).Error("change_stream_error")
		}

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(reconnectDelay):
			b.logger.WithField("component", "changestream").Info("change_stream_reconnecting")
		}
	}
}

// consume drains one connection's change channel until it closes, an error
// arrives, or the context is canceled.
func (b *Bridge) consume(changes <-chan Change, errs <-chan error, callback Callback) error {
	for {
		select {
		case <-b.ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			return err
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			notification := buildNotification(change)
			b.invokeCallback(callback, notification)
		}
	}
}

// invokeCallback runs callback, recovering a panic so a single misbehaving
// observer cannot take down the watch loop — "callback exception during
// fan-out" in the error table is caught, logged, and the stream continues.
func (b *Bridge) invokeCallback(callback Callback, notification Notification) {
	if callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"component": "changestream",
				"panic":     r,
			}).Error("change_stream_callback_panic")
		}
	}()
	callback(notification)
}

// buildNotification constructs {type, doc, timestamp} from a raw change,
// preferring the full post-image document and falling back to the document
// key (the only payload a delete carries).
func buildNotification(c Change) Notification {
	doc := c.FullDocument
	if doc == nil {
		doc = c.DocumentKey
	}
	return Notification{
		Type:      "incident." + c.OperationType,
		Doc:       doc,
		Timestamp: time.Now().Unix(),
	}
}
