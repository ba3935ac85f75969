package sem

import (
	"fmt"
	"sync"
)

// Mock is an in-memory Controller with deterministic behavior, used for
// tests and dry runs.  Autofocus scores are scripted: each AutoFocus call
// consumes the next value from FocusScores, and a perfect score of zero is
// returned once the script is exhausted.
//
// Every driver call is appended to Calls so tests can assert on ordering.
type Mock struct {
	sync.Mutex

	// FocusScores is the script of autofocus error figures to play back
	FocusScores []float64

	// Calls is the ordered trace of driver invocations
	Calls []string

	// FrameWidth and FrameHeight size the synthetic frames
	FrameWidth, FrameHeight int

	pos       StagePosition
	mag       float64
	photoSize float64
	focus     float64
	detectors []string
	gunOn     bool
	focusIdx  int
}

// NewMock returns a Mock with plausible idle-instrument state.
func NewMock() *Mock {
	return &Mock{
		FrameWidth:  8,
		FrameHeight: 6,
		mag:         1000,
		photoSize:   40,
		focus:       5.0,
		detectors:   []string{"se", "bse"},
	}
}

func (m *Mock) record(format string, args ...interface{}) {
	m.Calls = append(m.Calls, fmt.Sprintf(format, args...))
}

// CallsTo returns how many recorded calls begin with the given verb.
func (m *Mock) CallsTo(verb string) int {
	m.Lock()
	defer m.Unlock()
	n := 0
	for _, c := range m.Calls {
		if len(c) >= len(verb) && c[:len(verb)] == verb {
			n++
		}
	}
	return n
}

func (m *Mock) MoveStage(p StagePosition) error {
	m.Lock()
	defer m.Unlock()
	m.record("MoveStage %s", p)
	m.pos = p
	return nil
}

func (m *Mock) GetStagePosition() (StagePosition, error) {
	m.Lock()
	defer m.Unlock()
	m.record("GetStagePosition")
	return m.pos, nil
}

func (m *Mock) SetMagnification(v float64) error {
	m.Lock()
	defer m.Unlock()
	m.record("SetMagnification %.0f", v)
	m.mag = v
	return nil
}

func (m *Mock) GetMagnification() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.record("GetMagnification")
	return m.mag, nil
}

func (m *Mock) GetPhotoSize() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.record("GetPhotoSize")
	return m.photoSize, nil
}

func (m *Mock) AutoFocus() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.record("AutoFocus")
	if m.focusIdx < len(m.FocusScores) {
		s := m.FocusScores[m.focusIdx]
		m.focusIdx++
		return s, nil
	}
	return 0, nil
}

func (m *Mock) GetFocus() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.record("GetFocus")
	return m.focus, nil
}

func (m *Mock) SetFocus(v float64) error {
	m.Lock()
	defer m.Unlock()
	m.record("SetFocus %.2f", v)
	m.focus = v
	return nil
}

func (m *Mock) AutoCorrectAstigmatism() error {
	m.Lock()
	defer m.Unlock()
	m.record("AutoCorrectAstigmatism")
	return nil
}

func (m *Mock) AdjustExposure(s ExposureScope) error {
	m.Lock()
	defer m.Unlock()
	m.record("AdjustExposure %s", s)
	return nil
}

// SetDetectors overrides the active detector list.
func (m *Mock) SetDetectors(ds []string) {
	m.Lock()
	defer m.Unlock()
	m.detectors = ds
}

func (m *Mock) ListDetectors() ([]string, error) {
	m.Lock()
	defer m.Unlock()
	m.record("ListDetectors")
	out := make([]string, len(m.detectors))
	copy(out, m.detectors)
	return out, nil
}

func (m *Mock) CaptureImage(detector string) (Frame, error) {
	m.Lock()
	defer m.Unlock()
	m.record("CaptureImage %s", detector)
	f := Frame{Width: m.FrameWidth, Height: m.FrameHeight}
	f.Pix = make([]uint16, f.Width*f.Height)
	// a flat field keyed to the stage position, so identical requests
	// produce identical files
	fill := uint16(int(m.pos.X+m.pos.Y) & 0xFFFF)
	for i := range f.Pix {
		f.Pix[i] = fill
	}
	return f, nil
}

func (m *Mock) GunOn() error {
	m.Lock()
	defer m.Unlock()
	m.record("GunOn")
	m.gunOn = true
	return nil
}

func (m *Mock) ShutdownSource() error {
	m.Lock()
	defer m.Unlock()
	m.record("ShutdownSource")
	m.gunOn = false
	return nil
}
