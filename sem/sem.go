// Package sem defines narrow capability interfaces for a scanning electron
// microscope and the value types shared by drivers and the acquisition engine.
//
// Drivers (real or mock) satisfy some or all of the interfaces; consumers
// accept only the capabilities they use, so planning and retry logic can be
// tested without hardware.
package sem

import "fmt"

// StagePosition is an (x, y) stage coordinate in the instrument's native
// units (nanometres on the SU7000).
type StagePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p StagePosition) String() string {
	return fmt.Sprintf("(%.0f, %.0f)", p.X, p.Y)
}

// Frame is a single detector image, 16-bit grayscale, row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []uint16
}

// ExposureScope selects which detector channels an exposure correction
// (auto brightness/contrast) applies to.
type ExposureScope int

const (
	// ExposureOff disables exposure correction.
	ExposureOff ExposureScope = iota

	// ExposureSingle corrects the active detector only.
	ExposureSingle

	// ExposureAll corrects every active detector.
	ExposureAll
)

func (s ExposureScope) String() string {
	switch s {
	case ExposureOff:
		return "off"
	case ExposureSingle:
		return "single"
	case ExposureAll:
		return "all"
	}
	return fmt.Sprintf("ExposureScope(%d)", int(s))
}

// StageMover can move the stage and report where it is.
type StageMover interface {
	// MoveStage moves the stage to an absolute position and blocks until
	// the motion completes
	MoveStage(StagePosition) error

	// GetStagePosition returns the current stage position
	GetStagePosition() (StagePosition, error)
}

// Magnifier controls the scan magnification.
type Magnifier interface {
	// SetMagnification sets the magnification
	SetMagnification(float64) error

	// GetMagnification gets the magnification
	GetMagnification() (float64, error)

	// GetPhotoSize returns the instrument photo size number, the scale
	// factor relating magnification to the physical field of view
	GetPhotoSize() (float64, error)
}

// Focuser exposes the autofocus routine and manual coarse focus access.
type Focuser interface {
	// AutoFocus runs the hardware autofocus routine and returns its error
	// figure, the working distance shift in micrometres.  Smaller is better.
	AutoFocus() (float64, error)

	// GetFocus returns the coarse focus value
	GetFocus() (float64, error)

	// SetFocus sets the coarse focus value
	SetFocus(float64) error
}

// Stigmator exposes the automatic astigmatism correction routine.
type Stigmator interface {
	AutoCorrectAstigmatism() error
}

// ExposureCorrector exposes automatic brightness/contrast correction.
type ExposureCorrector interface {
	AdjustExposure(ExposureScope) error
}

// FrameCapturer digitizes detector signals.
type FrameCapturer interface {
	// CaptureImage captures a frame from the named detector.  The empty
	// string captures from the active detector.
	CaptureImage(detector string) (Frame, error)

	// ListDetectors returns the identifiers of the active detectors
	ListDetectors() ([]string, error)
}

// GunController controls the electron source.
type GunController interface {
	// GunOn enables the high voltage supply to the electron source
	GunOn() error

	// ShutdownSource turns the electron source off
	ShutdownSource() error
}

// Controller is the full capability set the montage engine drives.
type Controller interface {
	StageMover
	Magnifier
	Focuser
	Stigmator
	ExposureCorrector
	FrameCapturer
	GunController
}
