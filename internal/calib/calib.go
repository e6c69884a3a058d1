// Package calib establishes the pixel-to-surface mapping, either
// automatically from the four reserved corner markers or from manual
// corner picks.
package calib

import (
	"errors"
	"sync"

	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/internal/geo"
	"github.com/tabletrack/tracker/pkg/core"
)

// State names the calibrator's current mode.
type State string

const (
	// StateUncalibrated means no mapping has ever been established.
	StateUncalibrated State = "uncalibrated"
	// StateAwaitingManual means a manual pick sequence is in progress.
	StateAwaitingManual State = "awaiting_manual"
	// StateCalibrated means a mapping is established and in use.
	StateCalibrated State = "calibrated"
)

var (
	// ErrNotReady means an auto-calibration attempt did not see all four
	// corner markers in the same frame. Attempts carry no cross-frame
	// memory; the next frame starts from scratch.
	ErrNotReady = errors.New("calib: corner markers incomplete")

	// ErrNotManual means a pick arrived outside a manual sequence.
	ErrNotManual = errors.New("calib: no manual calibration in progress")
)

// Calibrator turns corner sightings or operator picks into a geo.Mapper.
// It never hands out a mapper built from degenerate references; a failed
// attempt leaves the previous state untouched.
type Calibrator struct {
	mu      sync.Mutex
	markers config.MarkerConfig
	width   float64
	height  float64
	state   State
	picks   []core.PixelPoint

	// established records that some mapping has been built this session,
	// so an abandoned manual sequence falls back to the right state.
	established bool
}

// New returns an uncalibrated Calibrator targeting a width x height
// surface rectangle.
func New(markers config.MarkerConfig, width, height float64) *Calibrator {
	return &Calibrator{
		markers: markers,
		width:   width,
		height:  height,
		state:   StateUncalibrated,
	}
}

// State returns the current calibration state.
func (c *Calibrator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AttemptAuto tries to calibrate from one frame's detections. All four
// corner markers must appear in the same batch or it fails with
// ErrNotReady. Success returns a fresh mapper and moves the calibrator to
// StateCalibrated; auto attempts during a manual sequence are ignored.
func (c *Calibrator) AttemptAuto(detections []core.Detection) (*geo.Mapper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAwaitingManual {
		return nil, ErrNotReady
	}

	var ref [4]core.PixelPoint
	var seen [4]bool
	for _, d := range detections {
		for corner, id := range c.markers.CornerIDs {
			if d.MarkerID == id {
				// Last sighting wins if the detector reports a corner twice.
				ref[corner] = geo.Centroid(d.Polygon)
				seen[corner] = true
			}
		}
	}
	for _, ok := range seen {
		if !ok {
			return nil, ErrNotReady
		}
	}

	m, err := geo.NewMapper(ref, c.width, c.height)
	if err != nil {
		return nil, err
	}
	c.state = StateCalibrated
	c.established = true
	return m, nil
}

// BeginManual starts (or restarts) a manual pick sequence. Picks are
// expected in top-left, top-right, bottom-right, bottom-left order.
func (c *Calibrator) BeginManual() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateAwaitingManual
	c.picks = c.picks[:0]
}

// CancelManual abandons an in-progress pick sequence. A previously
// established mapping, if any, stays in effect.
func (c *Calibrator) CancelManual() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAwaitingManual {
		return
	}
	c.picks = nil
	c.state = c.fallbackState()
}

// fallbackState is the state to report when a manual sequence ends
// without producing a mapper. A mapping built earlier stays in effect.
func (c *Calibrator) fallbackState() State {
	if c.established {
		return StateCalibrated
	}
	return StateUncalibrated
}

// AddPick records one manual corner pick. The returned corner identifies
// the position just filled. On the fourth pick the mapper is built and
// returned; a degenerate pick set clears the sequence and reports the
// build error without touching any earlier mapping.
func (c *Calibrator) AddPick(p core.PixelPoint) (*geo.Mapper, core.Corner, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAwaitingManual {
		return nil, 0, ErrNotManual
	}

	corner := core.Corner(len(c.picks))
	c.picks = append(c.picks, p)
	if len(c.picks) < 4 {
		return nil, corner, nil
	}

	var ref [4]core.PixelPoint
	copy(ref[:], c.picks)
	c.picks = nil

	m, err := geo.NewMapper(ref, c.width, c.height)
	if err != nil {
		c.state = c.fallbackState()
		return nil, corner, err
	}
	c.state = StateCalibrated
	c.established = true
	return m, corner, nil
}

// PicksPending returns how many manual picks are still needed, or 0 when
// no manual sequence is active.
func (c *Calibrator) PicksPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAwaitingManual {
		return 0
	}
	return 4 - len(c.picks)
}
