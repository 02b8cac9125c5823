// Package systemd reports service state to the systemd service manager.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/encodedeck/internal/logging"
)

// NotifyFunc sends a state string to the service manager. It reports false
// when no manager is listening.
type NotifyFunc func(unsetEnvironment bool, state string) (bool, error)

// WatchdogFunc returns the watchdog interval, or zero when disabled.
type WatchdogFunc func(unsetEnvironment bool) (time.Duration, error)

// Notifier handles sd_notify messages for a Type=notify service.
// Outside systemd every call is a no-op.
type Notifier struct {
	notify   NotifyFunc
	watchdog WatchdogFunc
	logger   logging.Logger
}

// NewNotifier creates a notifier backed by the NOTIFY_SOCKET of the process.
func NewNotifier() *Notifier {
	return &Notifier{
		notify:   daemon.SdNotify,
		watchdog: daemon.SdWatchdogEnabled,
		logger:   logging.GetLogger("systemd"),
	}
}

// Ready tells the manager that startup finished.
func (n *Notifier) Ready() {
	n.send(daemon.SdNotifyReady)
}

// Stopping tells the manager that shutdown began.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(status string) {
	n.send("STATUS=" + status)
}

// RunWatchdog pings the watchdog at half its interval until ctx is done.
// It returns right away when the unit has no WatchdogSec.
func (n *Notifier) RunWatchdog(ctx context.Context) {
	interval, err := n.watchdog(false)
	if err != nil {
		n.logger.Warn("Failed to read watchdog settings", "error", err)
		return
	}
	if interval <= 0 {
		return
	}

	n.logger.Debug("Watchdog enabled", "interval", interval)
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.logger.Warn("Failed to notify systemd", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("Notified systemd", "state", state)
	}
}
