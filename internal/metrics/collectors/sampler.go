// Package collectors provides metrics collectors for encoder processes and
// display sessions.
package collectors

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/metrics"
	"github.com/smazurov/encodedeck/internal/process"
)

// DefaultSampleInterval is how often tracked processes are refreshed.
const DefaultSampleInterval = 5 * time.Second

type tracked struct {
	jobID  string
	handle process.Telemetry
}

// Sampler periodically refreshes tracked process handles and records their
// counters. It satisfies jobs.Tracker.
type Sampler struct {
	logger   logging.Logger
	interval time.Duration

	mu      sync.Mutex
	handles map[string]tracked

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSampler creates a sampler. A non-positive interval uses the default.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		logger:   logging.GetLogger("metrics"),
		interval: interval,
		handles:  make(map[string]tracked),
	}
}

// Track starts sampling h for workerID.
func (s *Sampler) Track(jobID, workerID string, h process.Telemetry) {
	s.mu.Lock()
	s.handles[workerID] = tracked{jobID: jobID, handle: h}
	s.mu.Unlock()
}

// Untrack stops sampling workerID and removes its metrics.
func (s *Sampler) Untrack(workerID string) {
	s.mu.Lock()
	t, ok := s.handles[workerID]
	delete(s.handles, workerID)
	s.mu.Unlock()

	if ok {
		metrics.DeleteProcessMetrics(t.jobID, workerID)
	}
}

// Start begins the sampling loop.
func (s *Sampler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop stops the sampling loop and waits for it to finish.
func (s *Sampler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Sampler) run() {
	defer s.wg.Done()
	s.logger.Info("Starting process sampling", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample refreshes every tracked handle once.
func (s *Sampler) Sample() {
	s.mu.Lock()
	snapshot := make(map[string]tracked, len(s.handles))
	for id, t := range s.handles {
		snapshot[id] = t
	}
	s.mu.Unlock()

	for workerID, t := range snapshot {
		if err := t.handle.Refresh(); err != nil {
			if !errors.Is(err, process.ErrNotStarted) {
				s.logger.Debug("Failed to refresh process", "worker", workerID, "error", err)
			}
			continue
		}
		if t.handle.HasExited() {
			continue
		}
		metrics.SetProcessMetrics(t.jobID, workerID, t.handle.Counters())
	}
}
