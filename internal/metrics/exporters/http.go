// Package exporters provides HTTP and SSE exporters for metrics.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/encodedeck/internal/logging"
)

// HTTPHandler serves every promauto-registered metric in the Prometheus
// text or OpenMetrics format. Gathering errors are logged and the metrics
// that could be collected are still served.
func HTTPHandler() http.Handler {
	return HandlerFor(prometheus.DefaultGatherer)
}

// HandlerFor serves the metrics of g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:          promLogger{logger: logging.GetLogger("metrics")},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

// promLogger adapts a module logger to promhttp.Logger.
type promLogger struct {
	logger logging.Logger
}

func (l promLogger) Println(v ...any) {
	l.logger.Warn("Metrics gathering failed", "error", v)
}
