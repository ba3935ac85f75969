// Package su7000 provides a Go interface to the external-control port of the
// Hitachi SU7000 field emission SEM.  It implements the capability
// interfaces in package sem over CRC16-framed telegrams carried on TCP or
// RS232.
package su7000

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/cmss-ltu/semontage/comm"
	"github.com/cmss-ltu/semontage/sem"
)

// command bytes understood by the external-control port
const (
	cmdStagePosition = 0x10
	cmdStageMove     = 0x11
	cmdMagnification = 0x20
	cmdSetMag        = 0x21
	cmdPhotoSize     = 0x22
	cmdAutoFocus     = 0x30
	cmdFocus         = 0x31
	cmdSetFocus      = 0x32
	cmdAutoStigma    = 0x33
	cmdAutoExposure  = 0x34
	cmdCapture       = 0x40
	cmdDetectors     = 0x41
	cmdGun           = 0x50
)

// statusCodes maps response status bytes to error strings
var statusCodes = map[byte]string{
	1: "INSTRUMENT BUSY",
	2: "PARAMETER OUT OF RANGE",
	3: "STAGE LIMIT REACHED",
	4: "COLUMN NOT READY",
	5: "HIGH VOLTAGE OFF",
	6: "AUTOFOCUS ROUTINE FAILED",
	7: "COMMAND DOES NOT EXIST",
}

// StatusError is a non-OK status byte returned by the instrument.
type StatusError byte

func (e StatusError) Error() string {
	if s, ok := statusCodes[byte(e)]; ok {
		return fmt.Sprintf("su7000: status %d: %s", byte(e), s)
	}
	return fmt.Sprintf("su7000: unknown status %d", byte(e))
}

// makeSerConf makes a serial.Config with the external-control port settings.
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 10 * time.Minute}
}

// Controller talks to one SU7000.  It satisfies sem.Controller.
type Controller struct {
	*comm.RemoteDevice

	// limiter paces commands; the external-control firmware drops
	// messages if they arrive faster than its service loop
	limiter *rate.Limiter
}

// NewController returns a fully configured Controller.  Stage moves and
// capture block for a long time over slow links, so the comm timeout is
// generous.
func NewController(addr string, connectSerial bool) *Controller {
	terms := comm.Terminators{Rx: telEnd, Tx: telEnd}
	rd := comm.NewRemoteDevice(addr, connectSerial, &terms, makeSerConf(addr))
	rd.Timeout = 10 * time.Minute
	return &Controller{
		RemoteDevice: &rd,
		limiter:      rate.NewLimiter(rate.Every(50*time.Millisecond), 1)}
}

// txn performs one command/response exchange and returns the payload.
func (c *Controller) txn(cmd byte, data []byte) ([]byte, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	c.Lock()
	defer func() {
		c.Unlock()
		c.CloseEventually()
	}()
	if err := c.Open(); err != nil {
		return nil, err
	}
	resp, err := c.SendRecv(MakeTelegram(cmd, data))
	if err != nil {
		return nil, err
	}
	echo, status, payload, err := DecodeTelegram(resp)
	if err != nil {
		return nil, err
	}
	if echo != cmd {
		return nil, fmt.Errorf("su7000: response echoes command %#x, sent %#x", echo, cmd)
	}
	if status != 0 {
		return nil, StatusError(status)
	}
	return payload, nil
}

func (c *Controller) txnFloat(cmd byte, data []byte) (float64, error) {
	payload, err := c.txn(cmd, data)
	if err != nil {
		return 0, err
	}
	fs, err := unpackFloats(payload, 1)
	if err != nil {
		return 0, err
	}
	return fs[0], nil
}

// MoveStage moves the stage to an absolute position and blocks until the
// instrument acknowledges the motion complete.
func (c *Controller) MoveStage(p sem.StagePosition) error {
	_, err := c.txn(cmdStageMove, packFloats(p.X, p.Y))
	return err
}

// GetStagePosition returns the current stage position.
func (c *Controller) GetStagePosition() (sem.StagePosition, error) {
	payload, err := c.txn(cmdStagePosition, nil)
	if err != nil {
		return sem.StagePosition{}, err
	}
	fs, err := unpackFloats(payload, 2)
	if err != nil {
		return sem.StagePosition{}, err
	}
	return sem.StagePosition{X: fs[0], Y: fs[1]}, nil
}

// SetMagnification sets the scan magnification.
func (c *Controller) SetMagnification(v float64) error {
	_, err := c.txn(cmdSetMag, packFloats(v))
	return err
}

// GetMagnification gets the scan magnification.
func (c *Controller) GetMagnification() (float64, error) {
	return c.txnFloat(cmdMagnification, nil)
}

// GetPhotoSize returns the instrument photo size number.
func (c *Controller) GetPhotoSize() (float64, error) {
	return c.txnFloat(cmdPhotoSize, nil)
}

// AutoFocus runs the hardware autofocus routine and returns the working
// distance shift it produced, in micrometres.
func (c *Controller) AutoFocus() (float64, error) {
	return c.txnFloat(cmdAutoFocus, nil)
}

// GetFocus returns the coarse focus value.
func (c *Controller) GetFocus() (float64, error) {
	return c.txnFloat(cmdFocus, nil)
}

// SetFocus sets the coarse focus value.
func (c *Controller) SetFocus(v float64) error {
	_, err := c.txn(cmdSetFocus, packFloats(v))
	return err
}

// AutoCorrectAstigmatism runs the automatic astigmatism correction routine.
func (c *Controller) AutoCorrectAstigmatism() error {
	_, err := c.txn(cmdAutoStigma, nil)
	return err
}

// AdjustExposure runs auto brightness/contrast with the given scope.
func (c *Controller) AdjustExposure(scope sem.ExposureScope) error {
	_, err := c.txn(cmdAutoExposure, []byte{byte(scope)})
	return err
}

// CaptureImage captures a frame from the named detector; the empty string
// captures from the active detector.
func (c *Controller) CaptureImage(detector string) (sem.Frame, error) {
	payload, err := c.txn(cmdCapture, []byte(detector))
	if err != nil {
		return sem.Frame{}, err
	}
	if len(payload) < 4 {
		return sem.Frame{}, fmt.Errorf("su7000: capture payload too short, %d bytes", len(payload))
	}
	f := sem.Frame{
		Width:  int(dataOrder.Uint16(payload[0:])),
		Height: int(dataOrder.Uint16(payload[2:])),
	}
	payload = payload[4:]
	want := f.Width * f.Height
	if len(payload) < 2*want {
		return sem.Frame{}, fmt.Errorf("su7000: frame truncated, want %d pixels got %d bytes", want, len(payload))
	}
	f.Pix = make([]uint16, want)
	for i := range f.Pix {
		f.Pix[i] = dataOrder.Uint16(payload[2*i:])
	}
	return f, nil
}

// ListDetectors returns the identifiers of the active detectors.
func (c *Controller) ListDetectors() ([]string, error) {
	payload, err := c.txn(cmdDetectors, nil)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return []string{}, nil
	}
	return strings.Split(string(payload), ","), nil
}

// GunOn enables the high voltage supply to the electron source.
func (c *Controller) GunOn() error {
	_, err := c.txn(cmdGun, []byte{1})
	return err
}

// ShutdownSource turns the electron source off.
func (c *Controller) ShutdownSource() error {
	_, err := c.txn(cmdGun, []byte{0})
	return err
}
