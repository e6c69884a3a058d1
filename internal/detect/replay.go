package detect

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

const replayChSize = 64

// Replay reads frames from a JSONL capture, one frame object per line.
// With pacing enabled it sleeps to reproduce the original frame timing;
// without it frames are delivered as fast as the consumer takes them.
type Replay struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewReplay opens path and starts streaming its frames.
func NewReplay(path string, pace bool, logger *slog.Logger) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	r := &Replay{
		frames: make(chan Frame, replayChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.run(f, pace)
	return r, nil
}

// Frames returns the frame stream. The channel closes at end of capture
// or on Close.
func (r *Replay) Frames() <-chan Frame {
	return r.frames
}

// Close stops the replay.
func (r *Replay) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

func (r *Replay) run(f io.ReadCloser, pace bool) {
	defer close(r.frames)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	seq := 0
	var lastOffset int64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			// A bad line spoils only itself.
			r.logger.Warn("Skipping malformed capture line", "line", seq+1, "error", err)
			continue
		}
		frame.Seq = seq
		seq++

		if pace && frame.OffsetMs > lastOffset {
			select {
			case <-time.After(time.Duration(frame.OffsetMs-lastOffset) * time.Millisecond):
			case <-r.done:
				return
			}
		}
		lastOffset = frame.OffsetMs

		select {
		case r.frames <- frame:
		case <-r.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Error("Capture read failed", "error", err)
	}
}
