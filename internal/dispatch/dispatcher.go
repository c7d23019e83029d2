// Package dispatch drives the event pipeline: it consumes the bus,
// decodes each message, resolves recipients, and fans notifications
// out through the connection registry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/filecloud/pushgate/internal/bus"
	"github.com/filecloud/pushgate/internal/event"
	"github.com/filecloud/pushgate/internal/metrics"
	"github.com/filecloud/pushgate/internal/user"
)

// NotificationToken is the fixed payload sent to clients. It carries no
// data; clients treat it as a trigger to re-poll the app.
const NotificationToken = "notify_storage_update"

// Bus yields raw pub/sub messages for a set of channels.
type Bus interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan bus.Message, error)
}

// AccessResolver maps a storage path to the users who can see it.
type AccessResolver interface {
	GetUsersForStoragePath(ctx context.Context, storage uint32, path string) ([]user.ID, error)
}

// Notifier delivers a message to every live connection of a user.
type Notifier interface {
	SendToUser(u user.ID, message string)
}

// Dispatcher subscribes to the event stream and routes each event to
// the affected users. Events are handled strictly sequentially.
type Dispatcher struct {
	bus      Bus
	mapping  AccessResolver
	notifier Notifier
	metrics  *metrics.Metrics

	testCookie atomic.Uint32
}

func New(b Bus, mapping AccessResolver, notifier Notifier, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		bus:      b,
		mapping:  mapping,
		notifier: notifier,
		metrics:  m,
	}
}

// TestCookie returns the most recent probe value seen on the bus.
func (d *Dispatcher) TestCookie() uint32 {
	return d.testCookie.Load()
}

// Run subscribes to the event stream and processes it until the stream
// terminates. A canceled context is a clean shutdown; a stream that
// ends on its own is reported as an error for the supervisor.
func (d *Dispatcher) Run(ctx context.Context) error {
	messages, err := d.bus.Subscribe(ctx, event.Channels()...)
	if err != nil {
		return fmt.Errorf("subscribe to event stream: %w", err)
	}

	for msg := range messages {
		d.handle(ctx, msg)
	}

	if ctx.Err() != nil {
		return nil
	}
	return errors.New("event stream terminated")
}

func (d *Dispatcher) handle(ctx context.Context, msg bus.Message) {
	d.metrics.EventsReceived.WithLabelValues(msg.Channel).Inc()

	decoded, err := event.Decode(msg.Channel, msg.Payload)
	if err != nil {
		d.metrics.DecodeFailures.Inc()
		slog.Warn("dropping undecodable event", "error", err)
		return
	}

	switch ev := decoded.(type) {
	case event.StorageUpdate:
		slog.Debug("received storage update", "storage", ev.Storage, "path", ev.Path)
		users, err := d.mapping.GetUsersForStoragePath(ctx, ev.Storage, ev.Path)
		if err != nil {
			slog.Error("dropping storage update", "storage", ev.Storage, "error", err)
			return
		}
		for _, u := range users {
			d.notifier.SendToUser(u, NotificationToken)
		}

	case event.GroupUpdate:
		slog.Debug("received group update", "user", ev.User)
		d.notifier.SendToUser(ev.User, NotificationToken)

	case event.ShareCreate:
		slog.Debug("received share create", "user", ev.User)
		d.notifier.SendToUser(ev.User, NotificationToken)

	case event.TestCookie:
		slog.Debug("received test cookie", "cookie", uint32(ev))
		d.testCookie.Store(uint32(ev))
	}
}
