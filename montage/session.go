package montage

import (
	"context"
	"log"

	"github.com/cmss-ltu/semontage/imgrec"
	"github.com/cmss-ltu/semontage/sem"
)

// Request is the full configuration for one montage session.
type Request struct {
	// Start anchors the bottom-left tile; nil means the current stage
	// position at session start
	Start *sem.StagePosition `json:"start,omitempty"`

	// Width and Height are the requested area, nm
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	// Overlap is the fraction of overlap between adjacent tiles, [0, 1)
	Overlap float64 `json:"overlap"`

	// Mag is the survey magnification; zero means the current one
	Mag float64 `json:"mag,omitempty"`

	// Exposure selects the exposure correction scope
	Exposure sem.ExposureScope `json:"exposure"`

	// AutoFocus enables the focus stabilizer
	AutoFocus bool `json:"autoFocus"`

	// FocusThreshold is the acceptable autofocus error figure
	FocusThreshold float64 `json:"focusThreshold"`

	// MaxFocusAttempts caps focus retries per tile, >= 1
	MaxFocusAttempts int `json:"maxFocusAttempts"`

	// FocusMag is the dedicated autofocus magnification; applied per tile
	// only when it exceeds the survey magnification, zero disables it
	FocusMag float64 `json:"focusMag,omitempty"`

	// Astigmatism enables the per-tile astigmatism correction
	Astigmatism bool `json:"astigmatism"`

	// Detectors selects single- or all-detector capture
	Detectors DetectorMode `json:"detectors"`

	// BaseFilename is the prefix for output files
	BaseFilename string `json:"baseFilename"`

	// Shutdown turns the electron source off after a fully completed
	// session
	Shutdown bool `json:"shutdown"`

	// StrictFocus aborts the session on focus exhaustion instead of
	// flagging the tile and continuing
	StrictFocus bool `json:"strictFocus"`

	// StrictWrite aborts the session on a persistence failure
	StrictWrite bool `json:"strictWrite"`
}

// Validate checks everything that can be checked without touching the
// instrument.  It runs before any driver call so a malformed request has no
// side effects.
func (r Request) Validate() error {
	switch {
	case r.Width <= 0:
		return InvalidConfigurationError{Field: "width", Reason: "must be positive"}
	case r.Height <= 0:
		return InvalidConfigurationError{Field: "height", Reason: "must be positive"}
	case r.Overlap < 0 || r.Overlap >= 1:
		return InvalidConfigurationError{Field: "overlap", Reason: "must be in [0, 1)"}
	case r.Mag < 0:
		return InvalidConfigurationError{Field: "mag", Reason: "must not be negative"}
	case r.AutoFocus && r.MaxFocusAttempts < 1:
		return InvalidConfigurationError{Field: "maxFocusAttempts", Reason: "must be >= 1"}
	case r.BaseFilename == "":
		return InvalidConfigurationError{Field: "baseFilename", Reason: "must not be empty"}
	}
	return nil
}

// Summary is the session outcome returned to the caller.
type Summary struct {
	// Tiles holds per-tile outcomes in traversal order
	Tiles []TileResult `json:"tiles"`

	// Attempted is the number of tiles processed (== len(Tiles))
	Attempted int `json:"attempted"`

	Rows int `json:"rows"`
	Cols int `json:"cols"`

	// RestoredTo is the stage position the session returned to
	RestoredTo sem.StagePosition `json:"restoredTo"`

	// Restored reports whether the final restore move succeeded
	Restored bool `json:"restored"`

	// GunShutdown reports whether the electron source was shut down
	GunShutdown bool `json:"gunShutdown"`
}

// Session drives a full montage acquisition against one exclusively-owned
// instrument connection.
type Session struct {
	Drv sem.Controller
	Rec *imgrec.Recorder
	Req Request

	// OnTile, when non-nil, is called after each tile completes; used for
	// progress reporting
	OnTile func(done, total int, res TileResult)
}

// Run executes the session.  The initial stage position is restored on every
// exit path, including errors and cancellation; the source is shut down
// exactly once, only when requested and only after all tiles were processed
// and the stage restored.  Cancellation is observed between tiles.
func (s *Session) Run(ctx context.Context) (sum Summary, err error) {
	if err = s.Req.Validate(); err != nil {
		return sum, err
	}

	initial, err := s.Drv.GetStagePosition()
	if err != nil {
		return sum, InstrumentError{Op: "get stage position", Err: err}
	}
	mag := s.Req.Mag
	if mag == 0 {
		mag, err = s.Drv.GetMagnification()
		if err != nil {
			return sum, InstrumentError{Op: "get magnification", Err: err}
		}
	}
	start := initial
	if s.Req.Start != nil {
		start = *s.Req.Start
	}

	// past this point there is instrument state to clean up
	completed := false
	defer func() {
		sum.RestoredTo = initial
		if rerr := s.Drv.MoveStage(initial); rerr != nil {
			log.Printf("montage: stage restore failed: %v", rerr)
		} else {
			sum.Restored = true
		}
		if completed && s.Req.Shutdown {
			if derr := s.Drv.ShutdownSource(); derr != nil {
				log.Printf("montage: source shutdown failed: %v", derr)
			} else {
				sum.GunShutdown = true
			}
		}
	}()

	if err = s.Drv.SetMagnification(mag); err != nil {
		return sum, InstrumentError{Op: "set magnification", Err: err}
	}
	if err = s.Drv.GunOn(); err != nil {
		return sum, InstrumentError{Op: "gun on", Err: err}
	}
	ps, err := s.Drv.GetPhotoSize()
	if err != nil {
		return sum, InstrumentError{Op: "get photo size", Err: err}
	}
	fov := FieldOfViewAt(mag, ps)

	grid, err := PlanGrid(start, s.Req.Width, s.Req.Height, s.Req.Overlap, fov)
	if err != nil {
		return sum, err
	}
	grid = Sequence(grid)
	sum.Rows = grid.Rows
	sum.Cols = grid.Cols

	orch := &Orchestrator{
		Drv:         s.Drv,
		Rec:         s.Rec,
		Exposure:    s.Req.Exposure,
		SurveyMag:   mag,
		FocusMag:    s.Req.FocusMag,
		Astigmatism: s.Req.Astigmatism,
		Detectors:   s.Req.Detectors,
		StrictFocus: s.Req.StrictFocus,
		StrictWrite: s.Req.StrictWrite,
	}
	if s.Req.AutoFocus {
		orch.Focus = &FocusStabilizer{
			Threshold:   s.Req.FocusThreshold,
			MaxAttempts: s.Req.MaxFocusAttempts,
			Step:        0.1 * fov.W,
		}
	}

	total := len(grid.Tiles)
	for _, tile := range grid.Tiles {
		select {
		case <-ctx.Done():
			return sum, ctx.Err()
		default:
		}
		res, terr := orch.CaptureTile(tile)
		sum.Tiles = append(sum.Tiles, res)
		sum.Attempted++
		if s.OnTile != nil {
			s.OnTile(sum.Attempted, total, res)
		}
		if terr != nil {
			return sum, terr
		}
	}
	completed = true
	return sum, nil
}
