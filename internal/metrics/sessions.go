package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Surface modes used as the mode label.
const (
	ModePinned    = "pinned"
	ModeAutoClose = "auto_close"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "encodedeck",
		Name:      "sessions_active",
		Help:      "Number of jobs with an open session",
	})

	surfacesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "encodedeck",
		Name:      "surfaces_active",
		Help:      "Number of open surfaces",
	})

	surfacesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "encodedeck",
		Name:      "surfaces_opened_total",
		Help:      "Surfaces opened by mode",
	}, []string{"mode"})

	processExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "encodedeck",
		Name:      "process_exits_total",
		Help:      "Encoder process exits by outcome",
	}, []string{"outcome"})
)

// SetSessionsActive sets the number of open job sessions.
func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}

// SetSurfacesActive sets the number of open surfaces.
func SetSurfacesActive(n int) {
	surfacesActive.Set(float64(n))
}

// IncSurfacesOpened counts an opened surface.
func IncSurfacesOpened(autoClose bool) {
	mode := ModePinned
	if autoClose {
		mode = ModeAutoClose
	}
	surfacesOpened.WithLabelValues(mode).Inc()
}

// IncProcessExit counts a process exit.
func IncProcessExit(exitCode int) {
	outcome := "success"
	switch {
	case exitCode == 137:
		outcome = "killed"
	case exitCode != 0:
		outcome = "failure"
	}
	processExits.WithLabelValues(outcome).Inc()
}
