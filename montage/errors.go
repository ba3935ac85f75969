package montage

import "fmt"

// InvalidConfigurationError is returned for malformed requests.  It is
// raised before any instrument interaction.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// InstrumentError wraps a failed driver primitive.  The session controller
// performs best-effort cleanup and re-raises it.
type InstrumentError struct {
	Op  string
	Err error
}

func (e InstrumentError) Error() string {
	return fmt.Sprintf("instrument communication error during %s: %v", e.Op, e.Err)
}

func (e InstrumentError) Unwrap() error { return e.Err }

// FocusExhaustedError is reported when the focus stabilizer used all of its
// attempts without clearing the threshold.  Non-fatal unless the request
// sets StrictFocus.
type FocusExhaustedError struct {
	Attempts int
	Score    float64
}

func (e FocusExhaustedError) Error() string {
	return fmt.Sprintf("autofocus exhausted after %d attempts, final score %.2f", e.Attempts, e.Score)
}

// FileWriteError is a persistence failure for a captured tile.  Non-fatal
// unless the request sets StrictWrite.
type FileWriteError struct {
	Path string
	Err  error
}

func (e FileWriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e FileWriteError) Unwrap() error { return e.Err }
