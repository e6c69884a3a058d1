// Package storage persists session history: sessions, calibrations and
// token observations.
package storage

import (
	"time"

	"github.com/tabletrack/tracker/internal/model"
)

// Backend is the interface all history implementations must satisfy.
// RecordObservation only queues; writes happen on Flush or the backend's
// own schedule.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *model.TrackingSession) error
	EndSession(sessionID string, endedAt time.Time, frames, tokensSeen uint) error

	// History recording
	RecordCalibration(c *model.CalibrationRecord) error
	RecordObservation(o model.TokenObservation)
	Flush() error
}

// Noop is the backend used when history is disabled.
type Noop struct{}

func (Noop) Init() error  { return nil }
func (Noop) Close() error { return nil }
func (Noop) StartSession(*model.TrackingSession) error {
	return nil
}
func (Noop) EndSession(string, time.Time, uint, uint) error { return nil }
func (Noop) RecordCalibration(*model.CalibrationRecord) error {
	return nil
}
func (Noop) RecordObservation(model.TokenObservation) {}
func (Noop) Flush() error                             { return nil }
