package comm

import (
	"bytes"
	"errors"
	"testing"
)

type fakeConn struct {
	bytes.Buffer
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestSendAppendsTerminator(t *testing.T) {
	fc := &fakeConn{}
	rd := NewRemoteDevice("fake", false, nil, nil)
	rd.Conn = fc
	if err := rd.Send([]byte("abc")); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := fc.String(); got != "abc\r" {
		t.Errorf("expected abc\\r on the wire, got %q", got)
	}
}

func TestRecvStripsTerminator(t *testing.T) {
	fc := &fakeConn{}
	fc.WriteString("xyz\r")
	rd := NewRemoteDevice("fake", false, nil, nil)
	rd.Conn = fc
	got, err := rd.Recv()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if string(got) != "xyz" {
		t.Errorf("expected xyz, got %q", got)
	}
}

func TestCustomTerminators(t *testing.T) {
	fc := &fakeConn{}
	fc.Write([]byte{0x41, 0x03})
	rd := NewRemoteDevice("fake", false, &Terminators{Rx: 0x03, Tx: 0x03}, nil)
	rd.Conn = fc
	got, err := rd.Recv()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !bytes.Equal(got, []byte{0x41}) {
		t.Errorf("expected 0x41, got % x", got)
	}
	if rd.TxTerminator() != 0x03 || rd.RxTerminator() != 0x03 {
		t.Error("terminators not carried")
	}
}

func TestNotConnected(t *testing.T) {
	rd := NewRemoteDevice("fake", false, nil, nil)
	if err := rd.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected from Send, got %v", err)
	}
	if _, err := rd.Recv(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected from Recv, got %v", err)
	}
}

func TestCloseEventually(t *testing.T) {
	fc := &fakeConn{}
	rd := NewRemoteDevice("fake", false, nil, nil)
	rd.Conn = fc
	rd.KeepAlive = true
	if err := rd.CloseEventually(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if fc.closed {
		t.Error("keep-alive connection was closed")
	}
	rd.KeepAlive = false
	if err := rd.CloseEventually(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !fc.closed || rd.Conn != nil {
		t.Error("connection not torn down")
	}
}

func TestSerialWithoutConfig(t *testing.T) {
	rd := NewRemoteDevice("/dev/ttyS9", true, nil, nil)
	if err := rd.open(); !errors.Is(err, ErrNoSerialConf) {
		t.Errorf("expected ErrNoSerialConf, got %v", err)
	}
}
