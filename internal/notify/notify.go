// Package notify delivers detection and alert events to outbound
// collaborators. Delivery is at-most-once: failures are reported to the
// caller and never retried.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/cartvision/internal/events"
)

// Notifier receives one call per accepted detection and per alert.
type Notifier interface {
	NotifyDetection(ctx context.Context, d events.Detection) error
	NotifyAlert(ctx context.Context, a events.Alert) error
}

// SessionEndNotifier is implemented by notifiers that also want to know
// when a session ends, such as the live stream hub.
type SessionEndNotifier interface {
	NotifySessionEnded(ctx context.Context, sessionID string, at time.Time) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) NotifyDetection(context.Context, events.Detection) error { return nil }
func (Nop) NotifyAlert(context.Context, events.Alert) error         { return nil }

// Multi fans each event out to every notifier, attempting all of them even
// when some fail.
type Multi []Notifier

// NotifyDetection implements Notifier.
func (m Multi) NotifyDetection(ctx context.Context, d events.Detection) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyDetection(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyAlert implements Notifier.
func (m Multi) NotifyAlert(ctx context.Context, a events.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifySessionEnded forwards to every member implementing SessionEndNotifier.
func (m Multi) NotifySessionEnded(ctx context.Context, sessionID string, at time.Time) error {
	var errs []error
	for _, n := range m {
		if sn, ok := n.(SessionEndNotifier); ok {
			if err := sn.NotifySessionEnded(ctx, sessionID, at); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
