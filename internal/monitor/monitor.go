// Package monitor reports tracker health on an interval and on demand.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is a point-in-time view of the tracker.
type Status struct {
	SessionID   string
	SceneID     string
	Calibration string
	LiveTokens  int
	Resolved    int
	ChannelUp   bool
	Frames      uint64
	Pushed      uint64
	Evicted     uint64
}

// Format renders the status for the operator console.
func (s Status) Format() string {
	channel := "down"
	if s.ChannelUp {
		channel = "up"
	}
	return fmt.Sprintf(
		"session=%s scene=%s calibration=%s tokens=%d resolved=%d channel=%s frames=%d pushed=%d evicted=%d",
		s.SessionID, s.SceneID, s.Calibration, s.LiveTokens, s.Resolved,
		channel, s.Frames, s.Pushed, s.Evicted,
	)
}

// Service logs the tracker status on a fixed interval.
type Service struct {
	statusFn func() Status
	logger   *slog.Logger
	interval time.Duration

	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}
}

// NewService creates a monitor polling statusFn.
func NewService(statusFn func() Status, logger *slog.Logger, interval time.Duration) *Service {
	return &Service{
		statusFn: statusFn,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// IsRunning reports whether the periodic reporter is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot returns the current status without waiting for the ticker.
func (s *Service) Snapshot() Status {
	return s.statusFn()
}

// Start launches the periodic reporter. A second Start is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				st := s.statusFn()
				s.logger.Info("Tracker status",
					"session", st.SessionID,
					"calibration", st.Calibration,
					"tokens", st.LiveTokens,
					"resolved", st.Resolved,
					"channelUp", st.ChannelUp,
					"frames", st.Frames,
					"pushed", st.Pushed,
					"evicted", st.Evicted,
				)
			}
		}
	}()
}

// Stop halts the periodic reporter.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)
}
