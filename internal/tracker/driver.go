// Package tracker runs the tracking session: it consumes detection
// frames, keeps calibration and the token ledger current, and mirrors
// the result to the remote session, the snapshot file and history.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"gorm.io/datatypes"

	"github.com/tabletrack/tracker/internal/calib"
	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/internal/detect"
	"github.com/tabletrack/tracker/internal/geo"
	"github.com/tabletrack/tracker/internal/influx"
	"github.com/tabletrack/tracker/internal/ledger"
	"github.com/tabletrack/tracker/internal/model"
	"github.com/tabletrack/tracker/internal/monitor"
	"github.com/tabletrack/tracker/internal/remote"
	"github.com/tabletrack/tracker/internal/session"
	"github.com/tabletrack/tracker/internal/snapshot"
	"github.com/tabletrack/tracker/internal/storage"
	"github.com/tabletrack/tracker/pkg/core"
	"github.com/tabletrack/tracker/pkg/streaming"
)

const reconnectEvery = 5 * time.Second

// Dependencies holds everything the driver needs. Snapshot and Metrics
// may be nil when those outputs are disabled.
type Dependencies struct {
	Source     detect.Source
	Calibrator *calib.Calibrator
	Session    *session.Context
	Ledger     *ledger.Ledger
	Resolver   *remote.Resolver
	Channel    *remote.Channel
	Pusher     *remote.Pusher
	Snapshot   *snapshot.Writer
	History    storage.Backend
	Metrics    *influx.Manager
	Markers    config.MarkerConfig
	Tracking   config.TrackingConfig
	Logger     *slog.Logger
}

// Driver owns the per-frame cycle. Run blocks until the source ends or
// Stop is called; commands arrive concurrently through the exported
// methods.
type Driver struct {
	deps Dependencies

	frames  atomic.Uint64
	pushed  atomic.Uint64
	evicted atomic.Uint64

	framesCtr  metric.Int64Counter
	pushedCtr  metric.Int64Counter
	evictedCtr metric.Int64Counter

	recalibrate  atomic.Bool
	lastDial     time.Time
	lastSnapshot time.Time

	stopChan chan struct{}
	stopped  atomic.Bool

	now func() time.Time
}

// New creates a driver. Metrics ride the global OTel meter, which is a
// no-op unless a meter provider is installed.
func New(deps Dependencies) (*Driver, error) {
	d := &Driver{
		deps:     deps,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	m := meter()
	var err error
	if d.framesCtr, err = m.Int64Counter(
		"tracker.frames.processed",
		metric.WithDescription("Total detection frames processed"),
	); err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}
	if d.pushedCtr, err = m.Int64Counter(
		"tracker.updates.pushed",
		metric.WithDescription("Total token updates sent to the remote session"),
	); err != nil {
		return nil, fmt.Errorf("creating pushed counter: %w", err)
	}
	if d.evictedCtr, err = m.Int64Counter(
		"tracker.tokens.evicted",
		metric.WithDescription("Total tokens evicted after their timeout"),
	); err != nil {
		return nil, fmt.Errorf("creating evicted counter: %w", err)
	}
	return d, nil
}

// Run processes frames until the source is exhausted, the context ends
// or Stop is called. It owns the channel lifecycle, including scheduled
// reconnects.
func (d *Driver) Run(ctx context.Context) error {
	sc := d.deps.Session
	d.deps.Logger.Info("Tracking session starting", "session", sc.ID, "scene", sc.SceneID)

	if err := d.deps.History.StartSession(&model.TrackingSession{
		SessionID: sc.ID,
		SceneID:   sc.SceneID,
		StartedAt: sc.StartedAt,
	}); err != nil {
		d.deps.Logger.Warn("Failed to record session start", "error", err)
	}

	d.dialChannel()

	for {
		select {
		case <-ctx.Done():
			return d.finish(ctx.Err())
		case <-d.stopChan:
			return d.finish(nil)
		case frame, ok := <-d.deps.Source.Frames():
			if !ok {
				return d.finish(nil)
			}
			d.processFrame(ctx, frame)
		}
	}
}

// Stop ends the session. Safe to call more than once and from any
// goroutine.
func (d *Driver) Stop() {
	if d.stopped.CompareAndSwap(false, true) {
		close(d.stopChan)
	}
}

func (d *Driver) finish(cause error) error {
	now := d.now()
	_ = d.deps.Source.Close()

	if err := d.deps.History.Flush(); err != nil {
		d.deps.Logger.Warn("Final history flush failed", "error", err)
	}
	if err := d.deps.History.EndSession(d.deps.Session.ID, now,
		uint(d.frames.Load()), uint(d.deps.Resolver.Resolved())); err != nil {
		d.deps.Logger.Warn("Failed to record session end", "error", err)
	}
	if err := d.deps.Channel.Close(); err != nil {
		d.deps.Logger.Warn("Channel close failed", "error", err)
	}
	d.deps.Logger.Info("Tracking session ended",
		"session", d.deps.Session.ID,
		"frames", d.frames.Load(),
		"pushed", d.pushed.Load(),
		"evicted", d.evicted.Load(),
	)
	return cause
}

func (d *Driver) processFrame(ctx context.Context, frame detect.Frame) {
	now := d.now()
	start := now
	d.frames.Add(1)
	d.framesCtr.Add(ctx, 1)

	if d.deps.Session.Mapper() == nil || d.recalibrate.Load() {
		d.tryAutoCalibration(frame.Detections)
	}

	mapper := d.deps.Session.Mapper()
	if mapper == nil {
		return
	}

	touched := d.deps.Ledger.Ingest(frame.Detections, mapper, d.deps.Markers, d.deps.Tracking.AreaNorm, now)
	evicted := d.deps.Ledger.EvictStale(now, d.deps.Tracking.TokenTimeout)
	d.evicted.Add(uint64(len(evicted)))
	d.evictedCtr.Add(ctx, int64(len(evicted)))
	for _, id := range evicted {
		d.deps.Logger.Info("Token timed out", "markerId", id)
	}

	d.resolveNew(ctx, touched)
	d.recordObservations(ctx, touched, now)

	if !d.deps.Channel.Connected() && now.Sub(d.lastDial) >= reconnectEvery {
		d.dialChannel()
	}

	sent := d.deps.Pusher.Push(ctx, now, d.deps.Ledger.Snapshot())
	d.pushed.Add(uint64(sent))
	d.pushedCtr.Add(ctx, int64(sent))

	// The snapshot refreshes on the update cadence whether or not any
	// push went out; with the remote unreachable it is the only mirror
	// readers have.
	if d.deps.Snapshot != nil &&
		(len(evicted) > 0 || now.Sub(d.lastSnapshot) >= d.deps.Tracking.UpdateInterval) {
		d.lastSnapshot = now
		if err := d.deps.Snapshot.Write(now, d.deps.Ledger.Snapshot()); err != nil {
			d.deps.Logger.Warn("Snapshot write failed", "error", err)
		}
	}

	if d.deps.Metrics != nil {
		_ = d.deps.Metrics.WriteCyclePoint(ctx, d.deps.Session.ID,
			len(frame.Detections), d.deps.Ledger.Len(), sent, len(evicted), d.now().Sub(start))
	}
}

// tryAutoCalibration attempts calibration from the frame and installs the
// mapper on success. The previous mapping stays live until then.
func (d *Driver) tryAutoCalibration(detections []core.Detection) {
	m, err := d.deps.Calibrator.AttemptAuto(detections)
	if err != nil {
		if err != calib.ErrNotReady {
			d.deps.Logger.Warn("Auto calibration failed", "error", err)
		}
		return
	}
	d.installMapper(m, "auto", detections)
	d.recalibrate.Store(false)
}

func (d *Driver) installMapper(m *geo.Mapper, mode string, detections []core.Detection) {
	d.deps.Session.SetMapper(m)
	w, h := m.SurfaceSize()
	d.deps.Logger.Info("Surface calibrated", "mode", mode, "width", w, "height", h)

	refs, err := json.Marshal(detections)
	if err != nil {
		refs = []byte("null")
	}
	if err := d.deps.History.RecordCalibration(&model.CalibrationRecord{
		SessionID:     d.deps.Session.ID,
		Mode:          mode,
		RefPoints:     datatypes.JSON(refs),
		SurfaceWidth:  w,
		SurfaceHeight: h,
	}); err != nil {
		d.deps.Logger.Warn("Failed to record calibration", "error", err)
	}
}

// resolveNew finds or creates remote identities for tokens that lack one.
// A failure defers that marker to the next frame.
func (d *Driver) resolveNew(ctx context.Context, touched []int) {
	for _, id := range touched {
		tok, ok := d.deps.Ledger.Get(id)
		if !ok || tok.RemoteID != "" {
			continue
		}
		x, y := d.deps.Pusher.ScenePosition(tok)
		remoteID, err := d.deps.Resolver.Resolve(ctx, tok, x, y)
		if err != nil {
			d.deps.Logger.Warn("Identity resolution failed", "markerId", id, "error", err)
			continue
		}
		d.deps.Ledger.SetRemoteID(id, remoteID)
	}
}

func (d *Driver) recordObservations(ctx context.Context, touched []int, now time.Time) {
	for _, id := range touched {
		tok, ok := d.deps.Ledger.Get(id)
		if !ok {
			continue
		}
		d.deps.History.RecordObservation(model.TokenObservation{
			SessionID:  d.deps.Session.ID,
			MarkerID:   tok.MarkerID,
			Category:   string(tok.Category),
			RemoteID:   tok.RemoteID,
			X:          tok.SurfaceX,
			Y:          tok.SurfaceY,
			Confidence: tok.Confidence,
			SeenAt:     now,
		})
		if d.deps.Metrics != nil {
			_ = d.deps.Metrics.WriteTokenPoint(ctx, d.deps.Session.ID,
				tok.MarkerID, string(tok.Category), tok.SurfaceX, tok.SurfaceY, tok.Confidence)
		}
	}
}

func (d *Driver) dialChannel() {
	d.lastDial = d.now()
	err := d.deps.Channel.Connect(streaming.Handshake{
		SceneID: d.deps.Session.SceneID,
		Tracker: "tabletrack/" + d.deps.Session.ID,
	})
	if err != nil {
		d.deps.Logger.Warn("Channel dial failed", "error", err)
	}
}

// RequestRecalibration arms auto recalibration. The current mapping keeps
// serving frames until a complete corner set produces a new one.
func (d *Driver) RequestRecalibration() {
	d.recalibrate.Store(true)
	d.deps.Logger.Info("Recalibration requested")
}

// BeginManualCalibration starts the manual corner pick sequence.
func (d *Driver) BeginManualCalibration() {
	d.deps.Calibrator.BeginManual()
	d.deps.Logger.Info("Manual calibration started, pick corners in TL, TR, BR, BL order")
}

// AddManualPick records one manual corner pick; the fourth installs the
// new mapping.
func (d *Driver) AddManualPick(p core.PixelPoint) error {
	m, corner, err := d.deps.Calibrator.AddPick(p)
	if err != nil {
		return err
	}
	d.deps.Logger.Info("Corner picked", "corner", corner.String(), "x", p.X, "y", p.Y)
	if m != nil {
		d.installMapper(m, "manual", nil)
	}
	return nil
}

// CancelManualCalibration abandons an in-progress pick sequence.
func (d *Driver) CancelManualCalibration() {
	d.deps.Calibrator.CancelManual()
}

// Status reports the driver's current state.
func (d *Driver) Status() monitor.Status {
	return monitor.Status{
		SessionID:   d.deps.Session.ID,
		SceneID:     d.deps.Session.SceneID,
		Calibration: string(d.deps.Calibrator.State()),
		LiveTokens:  d.deps.Ledger.Len(),
		Resolved:    d.deps.Resolver.Resolved(),
		ChannelUp:   d.deps.Channel.Connected(),
		Frames:      d.frames.Load(),
		Pushed:      d.pushed.Load(),
		Evicted:     d.evicted.Load(),
	}
}
