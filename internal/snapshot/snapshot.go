// Package snapshot persists the live token set to a JSON file that
// overlay tools and session scripts poll.
package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/tabletrack/tracker/pkg/core"
)

// File is the on-disk document. Every write replaces the whole file so
// readers never see partial state.
type File struct {
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	SceneID   string  `json:"scene_id"`
	Tokens    []Entry `json:"tokens"`
}

// Entry is one token in the snapshot. Positions are scene pixels, the
// same coordinate space the live channel pushes, so readers need no
// further conversion.
type Entry struct {
	MarkerID   int     `json:"marker_id"`
	TokenID    string  `json:"token_id,omitempty"`
	Category   string  `json:"category"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Confidence float64 `json:"confidence"`
	LastSeen   int64   `json:"last_seen"` // unix milliseconds
}

// Writer serializes token sets to a fixed path, scaling surface
// coordinates onto the scene.
type Writer struct {
	path    string
	sceneID string
	surfW   float64
	surfH   float64
	sceneW  int
	sceneH  int
}

// NewWriter creates a writer targeting path.
func NewWriter(path, sceneID string, surfaceW, surfaceH float64, sceneW, sceneH int) *Writer {
	return &Writer{
		path:    path,
		sceneID: sceneID,
		surfW:   surfaceW,
		surfH:   surfaceH,
		sceneW:  sceneW,
		sceneH:  sceneH,
	}
}

// Write replaces the snapshot file with the given token set. The file is
// written to a temp name in the same directory and renamed into place, so
// a crash mid-write leaves the previous snapshot intact.
func (w *Writer) Write(now time.Time, tokens []core.Token) error {
	doc := File{
		Timestamp: now.UnixMilli(),
		SceneID:   w.sceneID,
		Tokens:    make([]Entry, 0, len(tokens)),
	}
	for _, tok := range tokens {
		doc.Tokens = append(doc.Tokens, Entry{
			MarkerID:   tok.MarkerID,
			TokenID:    tok.RemoteID,
			Category:   string(tok.Category),
			X:          int(math.Round(tok.SurfaceX / w.surfW * float64(w.sceneW))),
			Y:          int(math.Round(tok.SurfaceY / w.surfH * float64(w.sceneH))),
			Confidence: tok.Confidence,
			LastSeen:   tok.LastSeen.UnixMilli(),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Read loads a snapshot file. Mostly useful for tools and tests.
func Read(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var doc File
	if err := json.Unmarshal(data, &doc); err != nil {
		return File{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return doc, nil
}
