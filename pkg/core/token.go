// pkg/core/token.go
package core

import "time"

// Category classifies a marker by configured ID-range membership.
type Category string

const (
	CategoryCorner Category = "corner"
	CategoryPlayer Category = "player"
	CategoryItem   Category = "item"
	CategoryCustom Category = "custom"
)

// PixelPoint is a camera-space coordinate.
type PixelPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SurfacePoint is a coordinate in calibrated surface space.
type SurfacePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is a detected marker outline: four pixel-space vertices in the
// order the detector reported them.
type Quad [4]PixelPoint

// Detection is one marker sighting in a single frame.
type Detection struct {
	MarkerID int  `json:"markerId"`
	Polygon  Quad `json:"polygon"`
}

// Token represents one physical marker currently believed present on the
// surface. Tokens are owned exclusively by the ledger; the identity
// resolver reads and writes RemoteID through the ledger's API only.
type Token struct {
	MarkerID   int
	Category   Category
	SurfaceX   float64
	SurfaceY   float64
	Confidence float64
	LastSeen   time.Time
	Polygon    Quad // raw pixel quad, kept for overlay/debug consumers

	// RemoteID is the remote session's token identifier, empty until
	// resolved. It survives re-ingest of the same marker.
	RemoteID string
}

// Corner names one of the four surface reference positions.
type Corner int

const (
	CornerTL Corner = iota
	CornerTR
	CornerBR
	CornerBL
)

func (c Corner) String() string {
	switch c {
	case CornerTL:
		return "top-left"
	case CornerTR:
		return "top-right"
	case CornerBR:
		return "bottom-right"
	case CornerBL:
		return "bottom-left"
	}
	return "unknown"
}
