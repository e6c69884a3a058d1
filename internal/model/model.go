// Package model defines the database schema for session history.
package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseModels lists every struct that maps to a table, in migration
// order.
var DatabaseModels = []interface{}{
	&TrackingSession{},
	&CalibrationRecord{},
	&TokenObservation{},
}

// TrackingSession is one run of the tracker against a scene.
type TrackingSession struct {
	gorm.Model
	SessionID  string `json:"sessionId" gorm:"size:64;uniqueIndex"`
	SceneID    string `json:"sceneId" gorm:"size:64;index"`
	StartedAt  time.Time
	EndedAt    sql.NullTime
	Frames     uint `json:"frames"`
	TokensSeen uint `json:"tokensSeen"`
}

func (*TrackingSession) TableName() string {
	return "tracking_sessions"
}

// CalibrationRecord stores each established surface mapping, including
// recalibrations, with the raw reference points for later inspection.
type CalibrationRecord struct {
	gorm.Model
	SessionID     string         `json:"sessionId" gorm:"size:64;index"`
	Mode          string         `json:"mode" gorm:"size:16"` // "auto" or "manual"
	RefPoints     datatypes.JSON `json:"refPoints"`
	SurfaceWidth  float64        `json:"surfaceWidth"`
	SurfaceHeight float64        `json:"surfaceHeight"`
}

func (*CalibrationRecord) TableName() string {
	return "calibration_records"
}

// TokenObservation is one recorded token position. Observations are
// written in batches; SeenAt is the ingest time, not the write time.
type TokenObservation struct {
	ID         uint      `gorm:"primarykey"`
	SessionID  string    `json:"sessionId" gorm:"size:64;index"`
	MarkerID   int       `json:"markerId" gorm:"index"`
	Category   string    `json:"category" gorm:"size:16"`
	RemoteID   string    `json:"remoteId" gorm:"size:64"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Confidence float64   `json:"confidence"`
	SeenAt     time.Time `json:"seenAt" gorm:"index"`
}

func (*TokenObservation) TableName() string {
	return "token_observations"
}
