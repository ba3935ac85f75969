package montage

import (
	"github.com/cmss-ltu/semontage/sem"
)

// FocusState is a state of the focus stabilizer machine.
type FocusState int

const (
	FocusIdle FocusState = iota
	FocusFocusing
	FocusRetrying
	FocusSuccess
	FocusExhausted
)

func (s FocusState) String() string {
	switch s {
	case FocusIdle:
		return "idle"
	case FocusFocusing:
		return "focusing"
	case FocusRetrying:
		return "retrying"
	case FocusSuccess:
		return "success"
	case FocusExhausted:
		return "exhausted"
	}
	return "unknown"
}

// FocusResult is the terminal outcome of a stabilization run.
type FocusResult struct {
	// State is FocusSuccess or FocusExhausted
	State FocusState

	// Score is the final autofocus error figure
	Score float64

	// Attempts is how many times the autofocus routine ran
	Attempts int

	// Offset is the cumulative lateral offset applied across retries, nm
	Offset float64
}

// focusDriver is the capability subset the stabilizer needs.
type focusDriver interface {
	sem.Focuser
	sem.StageMover
}

// FocusStabilizer repeatedly invokes the autofocus primitive until its error
// figure clears Threshold or MaxAttempts is reached.  Between attempts it
// restores the previous coarse focus and nudges the stage a fixed Step along
// +X, so a featureless or problematic field does not defeat focusing.
//
// The attempt cap is mandatory: a stage or optics fault can make the
// threshold permanently unreachable, and an uncapped nudge-and-retry loop
// would walk the stage off the sample forever.
type FocusStabilizer struct {
	// Threshold is the acceptable error figure; a score <= Threshold is a
	// successful focus
	Threshold float64

	// MaxAttempts caps the number of autofocus invocations, >= 1
	MaxAttempts int

	// Step is the lateral nudge between attempts, nm
	Step float64
}

// Stabilize runs the retry machine at the given tile anchor.  The stage is
// returned to the anchor before Stabilize returns, whether focusing
// succeeded, exhausted its attempts, or failed on a driver error.  A failed
// restore move is itself an error: capturing one nudge off the anchor would
// silently image the wrong field.
func (fs FocusStabilizer) Stabilize(drv focusDriver, anchor sem.StagePosition) (res FocusResult, err error) {
	res = FocusResult{State: FocusIdle}
	if fs.MaxAttempts < 1 {
		return res, InvalidConfigurationError{Field: "maxFocusAttempts", Reason: "must be >= 1"}
	}

	var offset float64
	defer func() {
		if offset > 0 {
			if merr := drv.MoveStage(anchor); merr != nil && err == nil {
				err = InstrumentError{Op: "anchor restore move", Err: merr}
			}
		}
	}()

	for attempt := 1; attempt <= fs.MaxAttempts; attempt++ {
		res.Attempts = attempt
		res.State = FocusFocusing

		prior, err := drv.GetFocus()
		if err != nil {
			return res, InstrumentError{Op: "get focus", Err: err}
		}
		score, err := drv.AutoFocus()
		if err != nil {
			return res, InstrumentError{Op: "autofocus", Err: err}
		}
		res.Score = score
		if score <= fs.Threshold {
			res.State = FocusSuccess
			res.Offset = offset
			return res, nil
		}

		// the attempt failed: the autofocus routine may have walked the
		// coarse focus somewhere useless, put it back before trying again
		if err := drv.SetFocus(prior); err != nil {
			return res, InstrumentError{Op: "restore focus", Err: err}
		}
		if attempt == fs.MaxAttempts {
			break
		}

		res.State = FocusRetrying
		offset += fs.Step
		next := anchor
		next.X += offset
		if err := drv.MoveStage(next); err != nil {
			return res, InstrumentError{Op: "focus retry move", Err: err}
		}
	}

	res.State = FocusExhausted
	res.Offset = offset
	return res, nil
}
