package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletrack/tracker/internal/calib"
	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/internal/database"
	"github.com/tabletrack/tracker/internal/detect"
	"github.com/tabletrack/tracker/internal/ledger"
	"github.com/tabletrack/tracker/internal/model"
	"github.com/tabletrack/tracker/internal/remote"
	"github.com/tabletrack/tracker/internal/session"
	"github.com/tabletrack/tracker/internal/snapshot"
	gormstorage "github.com/tabletrack/tracker/internal/storage/gorm"
	"github.com/tabletrack/tracker/pkg/core"
	"github.com/tabletrack/tracker/pkg/streaming"
)

var testMarkers = config.MarkerConfig{
	CornerIDs:   [4]int{0, 1, 2, 3},
	PlayerRange: config.IDRange{Low: 10, High: 25},
	ItemRange:   config.IDRange{Low: 30, High: 61},
}

var testTracking = config.TrackingConfig{
	SurfaceWidth:   1000,
	SurfaceHeight:  1000,
	TokenTimeout:   40 * time.Millisecond,
	UpdateInterval: 5 * time.Millisecond,
	AreaNorm:       10000,
}

// frameSource feeds hand-built frames to the driver.
type frameSource struct {
	ch     chan detect.Frame
	closed atomic.Bool
}

func newFrameSource() *frameSource {
	return &frameSource{ch: make(chan detect.Frame, 64)}
}

func (s *frameSource) Frames() <-chan detect.Frame { return s.ch }

func (s *frameSource) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
	return nil
}

func (s *frameSource) push(dets ...core.Detection) {
	s.ch <- detect.Frame{Detections: dets}
}

func markerAt(id int, x, y float64) core.Detection {
	return core.Detection{
		MarkerID: id,
		Polygon: core.Quad{
			{X: x - 50, Y: y - 50}, {X: x + 50, Y: y - 50},
			{X: x + 50, Y: y + 50}, {X: x - 50, Y: y + 50},
		},
	}
}

func corners() []core.Detection {
	return []core.Detection{
		markerAt(0, 0, 0),
		markerAt(1, 1000, 0),
		markerAt(2, 1000, 1000),
		markerAt(3, 0, 1000),
	}
}

// testRemote bundles the fake REST API and WebSocket endpoint.
type testRemote struct {
	rest    *httptest.Server
	sock    *httptest.Server
	creates atomic.Int64
	msgCh   chan []byte
}

func newTestRemote(t *testing.T) *testRemote {
	t.Helper()
	tr := &testRemote{msgCh: make(chan []byte, 256)}

	tr.rest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode([]remote.RemoteToken{})
		case http.MethodPost:
			n := tr.creates.Add(1)
			var req remote.CreateTokenRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(remote.RemoteToken{ID: fmt.Sprintf("tok-%d", n), Name: req.Name, Flags: req.Flags})
		}
	}))
	t.Cleanup(tr.rest.Close)

	upgrader := ws.Upgrader{}
	tr.sock = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			tr.msgCh <- msg
		}
	}))
	t.Cleanup(tr.sock.Close)
	return tr
}

func (tr *testRemote) wsURL() string {
	return strings.Replace(tr.sock.URL, "http", "ws", 1)
}

func (tr *testRemote) recv(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-tr.msgCh:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for websocket message")
		return nil
	}
}

type testHarness struct {
	driver  *Driver
	source  *frameSource
	remote  *testRemote
	history *gormstorage.Backend
	sess    *session.Context
	snap    string
	runDone chan error
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	tr := newTestRemote(t)
	logger := slog.Default()

	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	history := gormstorage.New(db, logger)
	require.NoError(t, history.Init())
	t.Cleanup(func() { history.Close() })

	scene := config.SceneConfig{ID: "scene-1", Width: 4000, Height: 3000}
	client := remote.NewClient(tr.rest.URL, "key")
	channel := remote.NewChannel(tr.wsURL(), "key", logger)
	sess := session.NewContext(scene.ID)
	snapPath := filepath.Join(t.TempDir(), "tokens.json")

	d, err := New(Dependencies{
		Source:     newFrameSource(),
		Calibrator: calib.New(testMarkers, testTracking.SurfaceWidth, testTracking.SurfaceHeight),
		Session:    sess,
		Ledger:     ledger.New(),
		Resolver:   remote.NewResolver(client, testMarkers, scene.ID, logger),
		Channel:    channel,
		Pusher: remote.NewPusher(channel, client, scene,
			testTracking.SurfaceWidth, testTracking.SurfaceHeight, testTracking.UpdateInterval, logger),
		Snapshot: snapshot.NewWriter(snapPath, scene.ID,
			testTracking.SurfaceWidth, testTracking.SurfaceHeight, scene.Width, scene.Height),
		History:  history,
		Markers:  testMarkers,
		Tracking: testTracking,
		Logger:   logger,
	})
	require.NoError(t, err)

	h := &testHarness{
		driver:  d,
		source:  d.deps.Source.(*frameSource),
		remote:  tr,
		history: history,
		sess:    sess,
		snap:    snapPath,
		runDone: make(chan error, 1),
	}
	go func() { h.runDone <- d.Run(context.Background()) }()
	return h
}

func (h *testHarness) stop(t *testing.T) error {
	t.Helper()
	h.driver.Stop()
	select {
	case err := <-h.runDone:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop")
		return nil
	}
}

func TestDriver_EndToEnd(t *testing.T) {
	h := newHarness(t)

	// Handshake goes out as soon as the driver starts.
	var hs streaming.Handshake
	require.NoError(t, json.Unmarshal(h.remote.recv(t), &hs))
	assert.Equal(t, streaming.TypeHandshake, hs.Type)
	assert.Equal(t, "scene-1", hs.SceneID)

	// Frame 1: corners only. Calibration happens, no tokens yet.
	h.source.push(corners()...)
	require.Eventually(t, func() bool { return h.sess.Calibrated() },
		2*time.Second, 5*time.Millisecond)

	// Frame 2: a player token at the surface center.
	time.Sleep(2 * testTracking.UpdateInterval)
	h.source.push(append(corners(), markerAt(15, 500, 500))...)

	var upd streaming.TokenUpdate
	require.NoError(t, json.Unmarshal(h.remote.recv(t), &upd))
	assert.Equal(t, streaming.TypeTokenUpdate, upd.Type)
	assert.Equal(t, 15, upd.MarkerID)
	assert.Equal(t, "tok-1", upd.TokenID)
	assert.Equal(t, 2000, upd.X)
	assert.Equal(t, 1500, upd.Y)
	assert.EqualValues(t, 1, h.remote.creates.Load())

	// The snapshot mirrors the ledger in scene pixels.
	require.Eventually(t, func() bool {
		doc, err := snapshot.Read(h.snap)
		return err == nil && len(doc.Tokens) == 1 && doc.Tokens[0].TokenID == "tok-1"
	}, 2*time.Second, 5*time.Millisecond)
	doc, err := snapshot.Read(h.snap)
	require.NoError(t, err)
	assert.Equal(t, 2000, doc.Tokens[0].X)
	assert.Equal(t, 1500, doc.Tokens[0].Y)

	// Token unseen past the timeout: an empty frame evicts it.
	time.Sleep(2 * testTracking.TokenTimeout)
	h.source.push(corners()...)
	require.Eventually(t, func() bool {
		doc, err := snapshot.Read(h.snap)
		return err == nil && len(doc.Tokens) == 0
	}, 2*time.Second, 5*time.Millisecond)

	st := h.driver.Status()
	assert.EqualValues(t, 3, st.Frames)
	assert.EqualValues(t, 1, st.Evicted)
	assert.Equal(t, 0, st.LiveTokens)
	assert.Equal(t, 1, st.Resolved, "identity survives eviction")

	require.NoError(t, h.stop(t))
}

func TestDriver_NoPushBeforeCalibration(t *testing.T) {
	h := newHarness(t)
	h.remote.recv(t) // handshake

	// Tokens without a corner set: nothing must reach the remote.
	h.source.push(markerAt(15, 500, 500))
	h.source.push(markerAt(16, 600, 600))

	require.Eventually(t, func() bool { return h.driver.Status().Frames == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.False(t, h.sess.Calibrated())
	assert.EqualValues(t, 0, h.remote.creates.Load())
	assert.Equal(t, 0, h.driver.Status().LiveTokens)

	require.NoError(t, h.stop(t))
}

func TestDriver_ResolutionFailureDefers(t *testing.T) {
	tr := newTestRemote(t)
	// Start with the REST API erroring.
	var failing atomic.Bool
	failing.Store(true)
	restURL := tr.rest.URL
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		req, err := http.NewRequest(r.Method, restURL+r.URL.Path, r.Body)
		require.NoError(t, err)
		resp, err := http.DefaultTransport.RoundTrip(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		var raw json.RawMessage
		if json.NewDecoder(resp.Body).Decode(&raw) == nil {
			w.Write(raw)
		}
	}))
	defer proxy.Close()

	logger := slog.Default()
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	history := gormstorage.New(db, logger)
	require.NoError(t, history.Init())
	defer history.Close()

	scene := config.SceneConfig{ID: "scene-1", Width: 4000, Height: 3000}
	client := remote.NewClient(proxy.URL, "")
	channel := remote.NewChannel(tr.wsURL(), "", logger)
	src := newFrameSource()

	d, err := New(Dependencies{
		Source:     src,
		Calibrator: calib.New(testMarkers, 1000, 1000),
		Session:    session.NewContext(scene.ID),
		Ledger:     ledger.New(),
		Resolver:   remote.NewResolver(client, testMarkers, scene.ID, logger),
		Channel:    channel,
		Pusher:     remote.NewPusher(channel, client, scene, 1000, 1000, testTracking.UpdateInterval, logger),
		History:    history,
		Markers:    testMarkers,
		Tracking:   testTracking,
		Logger:     logger,
	})
	require.NoError(t, err)
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(context.Background()) }()
	tr.recv(t) // handshake

	src.push(append(corners(), markerAt(20, 300, 300))...)
	require.Eventually(t, func() bool { return d.Status().Frames == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, d.Status().Resolved)

	// API recovers; the next sighting resolves.
	failing.Store(false)
	time.Sleep(2 * testTracking.UpdateInterval)
	src.push(append(corners(), markerAt(20, 300, 300))...)
	require.Eventually(t, func() bool { return d.Status().Resolved == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, tr.creates.Load())

	d.Stop()
	require.NoError(t, <-runDone)
}

func TestDriver_SnapshotDuringRemoteOutage(t *testing.T) {
	// Every remote surface is down: REST errors, the socket is
	// unreachable. The snapshot file must still track the ledger.
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer rest.Close()

	logger := slog.Default()
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	history := gormstorage.New(db, logger)
	require.NoError(t, history.Init())
	defer history.Close()

	scene := config.SceneConfig{ID: "scene-1", Width: 4000, Height: 3000}
	client := remote.NewClient(rest.URL, "")
	channel := remote.NewChannel("ws://127.0.0.1:1", "", logger)
	src := newFrameSource()
	snapPath := filepath.Join(t.TempDir(), "tokens.json")

	d, err := New(Dependencies{
		Source:     src,
		Calibrator: calib.New(testMarkers, 1000, 1000),
		Session:    session.NewContext(scene.ID),
		Ledger:     ledger.New(),
		Resolver:   remote.NewResolver(client, testMarkers, scene.ID, logger),
		Channel:    channel,
		Pusher:     remote.NewPusher(channel, client, scene, 1000, 1000, testTracking.UpdateInterval, logger),
		Snapshot:   snapshot.NewWriter(snapPath, scene.ID, 1000, 1000, scene.Width, scene.Height),
		History:    history,
		Markers:    testMarkers,
		Tracking:   testTracking,
		Logger:     logger,
	})
	require.NoError(t, err)
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(context.Background()) }()

	src.push(append(corners(), markerAt(20, 300, 300))...)

	// Nothing resolved, nothing pushed, yet the snapshot appears with
	// the unresolved token in scene pixels.
	require.Eventually(t, func() bool {
		doc, err := snapshot.Read(snapPath)
		return err == nil && len(doc.Tokens) == 1
	}, 2*time.Second, 5*time.Millisecond)
	doc, err := snapshot.Read(snapPath)
	require.NoError(t, err)
	assert.Empty(t, doc.Tokens[0].TokenID)
	assert.Equal(t, 1200, doc.Tokens[0].X)
	assert.Equal(t, 900, doc.Tokens[0].Y)
	assert.EqualValues(t, 0, d.Status().Pushed)
	assert.False(t, d.Status().ChannelUp)

	d.Stop()
	require.NoError(t, <-runDone)
}

func TestDriver_SessionRecordedInHistory(t *testing.T) {
	h := newHarness(t)
	h.remote.recv(t)

	h.source.push(corners()...)
	time.Sleep(2 * testTracking.UpdateInterval)
	h.source.push(append(corners(), markerAt(15, 500, 500))...)
	h.remote.recv(t)

	require.NoError(t, h.stop(t))

	var sess model.TrackingSession
	require.NoError(t, h.history.DB().Where("session_id = ?", h.sess.ID).First(&sess).Error)
	assert.True(t, sess.EndedAt.Valid)
	assert.EqualValues(t, 2, sess.Frames)

	var calCount int64
	require.NoError(t, h.history.DB().Model(&model.CalibrationRecord{}).Count(&calCount).Error)
	assert.EqualValues(t, 1, calCount)

	var obsCount int64
	require.NoError(t, h.history.DB().Model(&model.TokenObservation{}).Count(&obsCount).Error)
	assert.GreaterOrEqual(t, obsCount, int64(1))
}

func TestDriver_ManualCalibration(t *testing.T) {
	h := newHarness(t)
	h.remote.recv(t)

	h.driver.BeginManualCalibration()
	picks := []core.PixelPoint{{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 1000, Y: 1000}, {X: 0, Y: 1000}}
	for _, p := range picks {
		require.NoError(t, h.driver.AddManualPick(p))
	}
	assert.True(t, h.sess.Calibrated())

	require.NoError(t, h.stop(t))
}
