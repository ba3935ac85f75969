// Package montage implements automated large-area SEM acquisition: tile grid
// planning, boustrophedon traversal, bounded autofocus stabilization, the
// per-tile capture pipeline, and session lifecycle management.
//
// All instrument access goes through the capability interfaces in package
// sem; the engine itself is synchronous and single-threaded because the
// instrument has one stage and one beam.
package montage

import (
	"math"

	"github.com/cmss-ltu/semontage/sem"
)

// The SU7000 relates magnification to the physical image footprint through
// the photo size number: width = 127000 * ps / mag, height = 95250 * ps / mag,
// in nanometres.
const (
	photoWidthScale  = 127000
	photoHeightScale = 95250
)

// FieldOfView is the physical area captured by one image, in nanometres.
type FieldOfView struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FieldOfViewAt derives the field of view from a magnification and the
// instrument photo size number.
func FieldOfViewAt(mag, photoSize float64) FieldOfView {
	return FieldOfView{
		W: photoWidthScale * photoSize / mag,
		H: photoHeightScale * photoSize / mag,
	}
}

// TilePosition is one grid cell: its (row, col) index, the absolute stage
// position of its center-anchor, and the sequence index assigned in
// traversal order (used for output numbering).
type TilePosition struct {
	Row int `json:"row"`
	Col int `json:"col"`
	Seq int `json:"seq"`

	Pos sem.StagePosition `json:"pos"`
}

// TileGrid is the derived acquisition plan.  After Sequence, Tiles is in
// traversal order and sequence indices are assigned.
type TileGrid struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`

	// PitchX and PitchY are the effective tile footprints, field of view
	// scaled down by the overlap fraction
	PitchX float64 `json:"pitchX"`
	PitchY float64 `json:"pitchY"`

	Tiles []TilePosition `json:"tiles"`
}

// PlanGrid computes the tile grid covering a width x height area anchored at
// start (the bottom-left tile sits at start itself).  Tile counts round up
// so the union of tile footprints covers the full requested rectangle.
func PlanGrid(start sem.StagePosition, width, height, overlap float64, fov FieldOfView) (TileGrid, error) {
	var g TileGrid
	switch {
	case width <= 0:
		return g, InvalidConfigurationError{Field: "width", Reason: "must be positive"}
	case height <= 0:
		return g, InvalidConfigurationError{Field: "height", Reason: "must be positive"}
	case overlap < 0 || overlap >= 1:
		return g, InvalidConfigurationError{Field: "overlap", Reason: "must be in [0, 1)"}
	case fov.W <= 0 || fov.H <= 0:
		return g, InvalidConfigurationError{Field: "fieldOfView", Reason: "must be positive"}
	}

	g.PitchX = fov.W * (1 - overlap)
	g.PitchY = fov.H * (1 - overlap)
	g.Cols = int(math.Ceil(width / g.PitchX))
	g.Rows = int(math.Ceil(height / g.PitchY))

	g.Tiles = make([]TilePosition, 0, g.Rows*g.Cols)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			g.Tiles = append(g.Tiles, TilePosition{
				Row: row,
				Col: col,
				Pos: sem.StagePosition{
					X: start.X + float64(col)*g.PitchX,
					Y: start.Y + float64(row)*g.PitchY,
				},
			})
		}
	}
	return g, nil
}
