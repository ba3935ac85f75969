package montage

import (
	"github.com/astrogo/fitsio"

	"github.com/cmss-ltu/semontage/imgrec"
	"github.com/cmss-ltu/semontage/sem"
)

// DetectorMode selects which detector channels are captured per tile.
type DetectorMode int

const (
	// DetectorSingle captures the active detector only
	DetectorSingle DetectorMode = iota

	// DetectorAll captures every active detector
	DetectorAll
)

// TileStatus is the per-tile outcome recorded in the session summary.
type TileStatus int

const (
	TileCaptured TileStatus = iota
	TileFocusExhausted
	TileFailed
)

func (s TileStatus) String() string {
	switch s {
	case TileCaptured:
		return "captured"
	case TileFocusExhausted:
		return "focus-exhausted"
	case TileFailed:
		return "failed"
	}
	return "unknown"
}

// TileResult records what happened to one tile.
type TileResult struct {
	Seq int `json:"seq"`
	Row int `json:"row"`
	Col int `json:"col"`

	Status TileStatus `json:"status"`

	// FocusScore and FocusAttempts are zero when autofocus is disabled
	FocusScore    float64 `json:"focusScore"`
	FocusAttempts int     `json:"focusAttempts"`

	// Files holds the paths written, in detector order
	Files []string `json:"files"`

	Err string `json:"err,omitempty"`
}

// Orchestrator runs the per-tile pipeline: move, exposure correction, focus
// stabilization, astigmatism correction, capture, persist.  All steps are
// synchronous; side effects land strictly in traversal order.
type Orchestrator struct {
	Drv sem.Controller
	Rec *imgrec.Recorder

	// Exposure selects the exposure correction scope (off disables it)
	Exposure sem.ExposureScope

	// Focus is nil when autofocus is disabled
	Focus *FocusStabilizer

	// SurveyMag is the magnification tiles are captured at
	SurveyMag float64

	// FocusMag, when greater than SurveyMag, is applied for the focus
	// routine and SurveyMag restored before capture
	FocusMag float64

	// Astigmatism gates the post-focus astigmatism correction
	Astigmatism bool

	Detectors DetectorMode

	// StrictFocus promotes focus exhaustion to a session-fatal error
	StrictFocus bool

	// StrictWrite promotes persistence failures to session-fatal errors
	StrictWrite bool
}

// CaptureTile processes one tile.  A non-nil error aborts the session; the
// recoverable outcomes (focus exhaustion, write failure under the default
// lenient policies) are reported through the TileResult instead.
func (o *Orchestrator) CaptureTile(t TilePosition) (TileResult, error) {
	res := TileResult{Seq: t.Seq, Row: t.Row, Col: t.Col, Status: TileCaptured}

	if err := o.Drv.MoveStage(t.Pos); err != nil {
		res.Status = TileFailed
		return res, InstrumentError{Op: "move to tile", Err: err}
	}

	if o.Exposure != sem.ExposureOff {
		if err := o.Drv.AdjustExposure(o.Exposure); err != nil {
			res.Status = TileFailed
			return res, InstrumentError{Op: "exposure correction", Err: err}
		}
	}

	if o.Focus != nil {
		if err := o.stabilizeFocus(t, &res); err != nil {
			return res, err
		}
	}

	if o.Astigmatism {
		if err := o.Drv.AutoCorrectAstigmatism(); err != nil {
			res.Status = TileFailed
			return res, InstrumentError{Op: "astigmatism correction", Err: err}
		}
	}

	err := o.capture(t, &res)
	return res, err
}

// stabilizeFocus runs the focus stabilizer, bracketing it with the dedicated
// focus magnification when one is configured above the survey magnification.
func (o *Orchestrator) stabilizeFocus(t TilePosition, res *TileResult) error {
	bracketed := o.FocusMag > o.SurveyMag
	if bracketed {
		if err := o.Drv.SetMagnification(o.FocusMag); err != nil {
			res.Status = TileFailed
			return InstrumentError{Op: "set focus magnification", Err: err}
		}
	}
	fr, err := o.Focus.Stabilize(o.Drv, t.Pos)
	res.FocusScore = fr.Score
	res.FocusAttempts = fr.Attempts
	if bracketed {
		if merr := o.Drv.SetMagnification(o.SurveyMag); merr != nil && err == nil {
			err = InstrumentError{Op: "restore magnification", Err: merr}
		}
	}
	if err != nil {
		res.Status = TileFailed
		return err
	}
	if fr.State == FocusExhausted {
		res.Status = TileFocusExhausted
		exhausted := FocusExhaustedError{Attempts: fr.Attempts, Score: fr.Score}
		res.Err = exhausted.Error()
		if o.StrictFocus {
			return exhausted
		}
	}
	return nil
}

// capture digitizes and persists the configured detector channels.
func (o *Orchestrator) capture(t TilePosition, res *TileResult) error {
	detectors := []string{""}
	if o.Detectors == DetectorAll {
		var err error
		detectors, err = o.Drv.ListDetectors()
		if err != nil {
			res.Status = TileFailed
			return InstrumentError{Op: "list detectors", Err: err}
		}
	}

	for _, det := range detectors {
		frame, err := o.Drv.CaptureImage(det)
		if err != nil {
			res.Status = TileFailed
			return InstrumentError{Op: "capture", Err: err}
		}
		fn, err := o.Rec.SaveTile(frame, t.Seq, det, o.tileCards(t, det))
		if err != nil {
			werr := FileWriteError{Path: fn, Err: err}
			if o.StrictWrite {
				res.Status = TileFailed
				res.Err = werr.Error()
				return werr
			}
			// partially failed tile; keep going so one bad write does
			// not cost the remaining detectors or tiles
			res.Status = TileFailed
			res.Err = werr.Error()
			continue
		}
		res.Files = append(res.Files, fn)
	}
	return nil
}

func (o *Orchestrator) tileCards(t TilePosition, det string) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "TILESEQ", Value: t.Seq, Comment: "traversal sequence index"},
		{Name: "TILEROW", Value: t.Row},
		{Name: "TILECOL", Value: t.Col},
		{Name: "STAGEX", Value: t.Pos.X, Comment: "stage x, nm"},
		{Name: "STAGEY", Value: t.Pos.Y, Comment: "stage y, nm"},
		{Name: "MAG", Value: o.SurveyMag},
	}
	if det != "" {
		cards = append(cards, fitsio.Card{Name: "DETECTOR", Value: det})
	}
	return cards
}
