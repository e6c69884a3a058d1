// Package ledger keeps the authoritative in-memory set of tokens
// currently on the surface.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/internal/geo"
	"github.com/tabletrack/tracker/pkg/core"
)

// Ledger owns the live token set, keyed by marker ID. All mutation goes
// through Ingest, EvictStale and SetRemoteID; readers get copies.
type Ledger struct {
	mu     sync.RWMutex
	tokens map[int]*core.Token
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{tokens: make(map[int]*core.Token)}
}

// Ingest folds one frame's detections into the ledger. Corner markers are
// reference geometry, not tokens, and are skipped. Re-sighting a known
// marker refreshes its position, confidence and last-seen time while
// keeping its resolved remote identity. Returns the marker IDs touched,
// in detection order, each at most once; a marker the detector reports
// twice in one frame keeps the last sighting.
func (l *Ledger) Ingest(detections []core.Detection, m *geo.Mapper, markers config.MarkerConfig, areaNorm float64, now time.Time) []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	touched := make([]int, 0, len(detections))
	seen := make(map[int]bool, len(detections))
	for _, d := range detections {
		if markers.IsCorner(d.MarkerID) {
			continue
		}
		s := m.ToSurface(geo.Centroid(d.Polygon))

		tok, ok := l.tokens[d.MarkerID]
		if !ok {
			tok = &core.Token{
				MarkerID: d.MarkerID,
				Category: markers.Categorize(d.MarkerID),
			}
			l.tokens[d.MarkerID] = tok
		}
		tok.SurfaceX = s.X
		tok.SurfaceY = s.Y
		tok.Confidence = geo.Confidence(d.Polygon, areaNorm)
		tok.LastSeen = now
		tok.Polygon = d.Polygon
		if !seen[d.MarkerID] {
			seen[d.MarkerID] = true
			touched = append(touched, d.MarkerID)
		}
	}
	return touched
}

// EvictStale removes tokens not seen for longer than timeout and returns
// their marker IDs. A token seen exactly timeout ago is retained.
func (l *Ledger) EvictStale(now time.Time, timeout time.Duration) []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var evicted []int
	for id, tok := range l.tokens {
		if now.Sub(tok.LastSeen) > timeout {
			delete(l.tokens, id)
			evicted = append(evicted, id)
		}
	}
	sort.Ints(evicted)
	return evicted
}

// SetRemoteID records the remote session identity for a marker. A token
// evicted between resolution start and finish is gone; the ID is dropped
// and will be re-resolved on the next sighting.
func (l *Ledger) SetRemoteID(markerID int, remoteID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.tokens[markerID]
	if !ok {
		return false
	}
	tok.RemoteID = remoteID
	return true
}

// Get returns a copy of one token.
func (l *Ledger) Get(markerID int) (core.Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tok, ok := l.tokens[markerID]
	if !ok {
		return core.Token{}, false
	}
	return *tok, true
}

// Snapshot returns copies of all live tokens sorted by marker ID.
func (l *Ledger) Snapshot() []core.Token {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]core.Token, 0, len(l.tokens))
	for _, tok := range l.tokens {
		out = append(out, *tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarkerID < out[j].MarkerID })
	return out
}

// Len returns the live token count.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tokens)
}
