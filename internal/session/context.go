// Package session holds the state shared across a tracking session: the
// active perspective mapper and the session identity.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabletrack/tracker/internal/geo"
)

// Context is the per-session shared state. The mapper is swapped as a
// whole on recalibration so in-flight frame processing keeps the mapper
// it started with.
type Context struct {
	mu        sync.RWMutex
	ID        string
	SceneID   string
	StartedAt time.Time
	mapper    *geo.Mapper
}

// NewContext starts a fresh, uncalibrated session for the given scene.
func NewContext(sceneID string) *Context {
	return &Context{
		ID:        uuid.NewString(),
		SceneID:   sceneID,
		StartedAt: time.Now(),
	}
}

// Mapper returns the active mapper, or nil before the first calibration.
func (sc *Context) Mapper() *geo.Mapper {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.mapper
}

// SetMapper installs a new mapper. Callers must only pass mappers from a
// successful calibration; a failed recalibration never reaches here.
func (sc *Context) SetMapper(m *geo.Mapper) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.mapper = m
}

// Calibrated reports whether a mapping has been established.
func (sc *Context) Calibrated() bool {
	return sc.Mapper() != nil
}
