// Package metrics provides Prometheus metrics for encoder processes and
// display sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/encodedeck/internal/process"
)

var processLabels = []string{"job", "worker"}

var (
	processResident = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "encodedeck",
		Subsystem: "process",
		Name:      "resident_bytes",
		Help:      "Resident set size of the encoder process",
	}, processLabels)

	processPeakResident = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "encodedeck",
		Subsystem: "process",
		Name:      "peak_resident_bytes",
		Help:      "Peak resident set size of the encoder process",
	}, processLabels)

	processCPU = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "encodedeck",
		Subsystem: "process",
		Name:      "cpu_seconds",
		Help:      "Total processor time used by the encoder process",
	}, processLabels)

	processThreads = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "encodedeck",
		Subsystem: "process",
		Name:      "threads",
		Help:      "Thread count of the encoder process",
	}, processLabels)

	processHandles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "encodedeck",
		Subsystem: "process",
		Name:      "open_fds",
		Help:      "Open file descriptors of the encoder process",
	}, processLabels)

	// Local cache for SSE exporter access.
	processCache   = make(map[string]*ProcessMetrics)
	processCacheMu sync.RWMutex
)

// ProcessMetrics holds the latest sample of one worker process.
type ProcessMetrics struct {
	JobID             string
	ResidentBytes     float64
	PeakResidentBytes float64
	CPUSeconds        float64
	Threads           float64
	Handles           float64
}

// SetProcessMetrics records a counters sample for a worker.
func SetProcessMetrics(jobID, workerID string, c process.Counters) {
	m := ProcessMetrics{
		JobID:             jobID,
		ResidentBytes:     float64(c.WorkingSet),
		PeakResidentBytes: float64(c.PeakWorkingSet),
		CPUSeconds:        c.TotalProcessorTime.Seconds(),
		Threads:           float64(c.ThreadCount),
		Handles:           float64(c.HandleCount),
	}

	processResident.WithLabelValues(jobID, workerID).Set(m.ResidentBytes)
	processPeakResident.WithLabelValues(jobID, workerID).Set(m.PeakResidentBytes)
	processCPU.WithLabelValues(jobID, workerID).Set(m.CPUSeconds)
	processThreads.WithLabelValues(jobID, workerID).Set(m.Threads)
	processHandles.WithLabelValues(jobID, workerID).Set(m.Handles)

	processCacheMu.Lock()
	processCache[workerID] = &m
	processCacheMu.Unlock()
}

// DeleteProcessMetrics removes all metrics for a worker.
func DeleteProcessMetrics(jobID, workerID string) {
	processResident.DeleteLabelValues(jobID, workerID)
	processPeakResident.DeleteLabelValues(jobID, workerID)
	processCPU.DeleteLabelValues(jobID, workerID)
	processThreads.DeleteLabelValues(jobID, workerID)
	processHandles.DeleteLabelValues(jobID, workerID)

	processCacheMu.Lock()
	delete(processCache, workerID)
	processCacheMu.Unlock()
}

// GetProcessMetrics returns the latest sample of a worker.
func GetProcessMetrics(workerID string) *ProcessMetrics {
	processCacheMu.RLock()
	defer processCacheMu.RUnlock()
	if m, ok := processCache[workerID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllProcessMetrics returns the latest samples keyed by worker id.
func GetAllProcessMetrics() map[string]*ProcessMetrics {
	processCacheMu.RLock()
	defer processCacheMu.RUnlock()
	result := make(map[string]*ProcessMetrics, len(processCache))
	for id, m := range processCache {
		dup := *m
		result[id] = &dup
	}
	return result
}
