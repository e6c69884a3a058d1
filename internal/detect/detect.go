// Package detect supplies marker detections to the tracker. The camera
// pipeline lives outside this process; sources here consume its output.
package detect

import (
	"time"

	"github.com/tabletrack/tracker/pkg/core"
)

// Frame is one batch of detections captured at the same instant.
type Frame struct {
	Seq        int              `json:"seq"`
	OffsetMs   int64            `json:"offsetMs"`
	Detections []core.Detection `json:"detections"`
}

// Source produces frames until it is exhausted or closed. The frames
// channel is closed by the source; Close may be called at any time to
// stop early.
type Source interface {
	Frames() <-chan Frame
	Close() error
}

// At returns the frame's capture time relative to a session start.
func (f Frame) At(start time.Time) time.Time {
	return start.Add(time.Duration(f.OffsetMs) * time.Millisecond)
}
