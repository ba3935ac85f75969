/*Package comm provides an embeddable remote-device type for communication
with lab hardware over TCP or RS232.

Usage boils down to:
 1. embed *RemoteDevice in a type that represents your instrument
 2. pass the right Terminators and, for serial links, a serial.Config
 3. write methods on top of Send/Recv/SendRecv

The device serializes transactions with its embedded mutex; callers hold the
lock for a full command/response exchange so responses cannot interleave.
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when IsSerial is true and no serial
	// config was provided
	ErrNoSerialConf = errors.New("comm: serial device without serial config")

	// ErrNotConnected is generated when Conn is nil and Send or Recv is called
	ErrNotConnected = errors.New("comm: conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not
	// found in a response
	ErrTerminatorNotFound = errors.New("comm: termination byte not found")
)

// Terminators holds the transmit and receive termination bytes for a device.
type Terminators struct {
	Rx, Tx byte
}

/*RemoteDevice has an address and holds a connection to the hardware there.

It is concurrent safe; embedders should Lock around multi-message
transactions.  If KeepAlive is false the connection is dropped by
CloseEventually after each transaction, which suits instruments that dislike
long-lived idle connections.
*/
type RemoteDevice struct {
	sync.Mutex

	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser

	// Timeout applies to connect, read, and write on TCP links
	Timeout time.Duration

	// KeepAlive leaves the connection open between transactions
	KeepAlive bool

	terms  Terminators
	serCfg *serial.Config
}

// NewRemoteDevice creates a new RemoteDevice.  terms may be nil for the
// default carriage-return terminators.
func NewRemoteDevice(addr string, isSerial bool, terms *Terminators, serCfg *serial.Config) RemoteDevice {
	t := Terminators{Rx: '\r', Tx: '\r'}
	if terms != nil {
		t = *terms
	}
	return RemoteDevice{
		Addr:     addr,
		IsSerial: isSerial,
		Timeout:  3 * time.Second,
		terms:    t,
		serCfg:   serCfg}
}

// Open the connection, setting the Conn variable.  Connection attempts are
// retried with exponential backoff; some instrument front-ends refuse
// thrashed connections.  Open is a no-op when already connected.
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}

	// backoff ceases on a timeout so we don't wait forever; check
	// err != nil || wasTimeout afterward
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("comm: connection timeout to %s", rd.Addr)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.serCfg)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable.
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
	}
	return err
}

// CloseEventually closes the connection unless KeepAlive is set.  Call it
// (deferred) at the end of each transaction.
func (rd *RemoteDevice) CloseEventually() error {
	if rd.KeepAlive {
		return nil
	}
	return rd.Close()
}

// TxTerminator returns the transmission termination byte.
func (rd *RemoteDevice) TxTerminator() byte { return rd.terms.Tx }

// RxTerminator returns the receipt termination byte.
func (rd *RemoteDevice) RxTerminator() byte { return rd.terms.Rx }

// Send writes data to the remote, appending the Tx terminator.
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	b = append(b, rd.terms.Tx)
	_, err := rd.Conn.Write(b)
	return err
}

// Recv receives data from the remote and strips the Rx terminator.
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.terms.Rx
	buf, err := bufio.NewReader(rd.Conn).ReadBytes(term)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a buffer after appending the Tx terminator, then returns
// the response with the Rx terminator stripped.
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if err := rd.Send(b); err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read,
// and write.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
