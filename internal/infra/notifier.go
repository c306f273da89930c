package infra

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
)

const (
	wakeObjectPath = "/com/quietloop/shieldd"
	wakeInterface  = "com.quietloop.shieldd.Wake"
	wakeMember     = "StateChanged"
)

// DBusNotifier implements domain.Notifier by emitting a session-bus
// signal. The signal is fire-and-forget: delivery is not guaranteed, no
// reply is expected, and the foreground process treats it only as a hint
// to re-read shared state. Failures are logged, never propagated.
type DBusNotifier struct {
	conn   *dbus.Conn
	logger *zap.Logger
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier(logger *zap.Logger) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DBusNotifier{conn: conn, logger: logger}, nil
}

// Notify emits the wake signal with the event name as its only body.
func (n *DBusNotifier) Notify(event string) {
	if err := n.conn.Emit(wakeObjectPath, wakeInterface+"."+wakeMember, event); err != nil {
		n.logger.Warn("failed to emit wake signal",
			zap.String("event", event),
			zap.Error(err))
	}
}

// Close releases the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// WatchWake subscribes to wake signals and invokes onWake with the event
// name until the context is canceled. Used by the foreground loop; a
// missed signal is recovered by the next reconcile sweep.
func WatchWake(ctx context.Context, logger *zap.Logger, onWake func(event string)) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(wakeObjectPath),
		dbus.WithMatchInterface(wakeInterface),
		dbus.WithMatchMember(wakeMember),
	); err != nil {
		return fmt.Errorf("add match failed: %w", err)
	}

	c := make(chan *dbus.Signal, 10)
	conn.Signal(c)

	for {
		select {
		case sig := <-c:
			event := ""
			if len(sig.Body) > 0 {
				event, _ = sig.Body[0].(string)
			}
			logger.Debug("wake signal received", zap.String("event", event))
			onWake(event)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// NoopNotifier discards notifications. Used when no session bus is
// available; the reconcile sweep remains the authoritative recovery path.
type NoopNotifier struct{}

// Notify does nothing.
func (NoopNotifier) Notify(string) {}

// Ensure implementations satisfy domain.Notifier.
var (
	_ domain.Notifier = (*DBusNotifier)(nil)
	_ domain.Notifier = NoopNotifier{}
)
