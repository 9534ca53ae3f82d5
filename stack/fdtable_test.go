package stack

import (
	"testing"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/tcp"
)

func newTestFDTable() *FDTable {
	return NewFDTable([4]byte{192, 168, 1, 10}, tcp.NewTable())
}

func TestFDTableUDPSendRecv(t *testing.T) {
	ft := newTestFDTable()
	fd := ft.Socket(SockUDP)
	if err := ft.Bind(fd, 5353); err != nil {
		t.Fatal(err)
	}

	peer := rawstack.ConnKey{
		LocalIP: [4]byte{192, 168, 1, 10}, LocalPort: 5353,
		RemoteIP: [4]byte{192, 168, 1, 20}, RemotePort: 9999,
		Proto: rawstack.IPProtoUDP,
	}
	ft.DeliverUDP(peer, []byte("hello"))

	payload, fromIP, fromPort, err := ft.RecvFrom(fd)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "hello" {
		t.Fatalf("got payload %q", payload)
	}
	if fromIP != peer.RemoteIP || fromPort != peer.RemotePort {
		t.Fatalf("got sender %v:%d", fromIP, fromPort)
	}
}

func TestFDTableUDPNonblockingEmptyRead(t *testing.T) {
	ft := newTestFDTable()
	fd := ft.Socket(SockUDP)
	if err := ft.Bind(fd, 0); err != nil {
		t.Fatal(err)
	}
	if err := ft.SetNonblocking(fd, true); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := ft.RecvFrom(fd); err != ErrWouldBlock {
		t.Fatalf("want ErrWouldBlock, got %v", err)
	}
}

func TestFDTableEphemeralPortsDontCollide(t *testing.T) {
	ft := newTestFDTable()
	fd1 := ft.Socket(SockUDP)
	fd2 := ft.Socket(SockUDP)
	if err := ft.Bind(fd1, 0); err != nil {
		t.Fatal(err)
	}
	if err := ft.Bind(fd2, 0); err != nil {
		t.Fatal(err)
	}
	key1, _ := ft.Lookup(fd1)
	key2, _ := ft.Lookup(fd2)
	if key1.LocalPort == key2.LocalPort {
		t.Fatalf("expected distinct ephemeral ports, got %d twice", key1.LocalPort)
	}
}

func TestFDTableBindPortInUse(t *testing.T) {
	ft := newTestFDTable()
	fd1 := ft.Socket(SockUDP)
	fd2 := ft.Socket(SockUDP)
	if err := ft.Bind(fd1, 4242); err != nil {
		t.Fatal(err)
	}
	if err := ft.Bind(fd2, 4242); err != ErrPortInUse {
		t.Fatalf("want ErrPortInUse, got %v", err)
	}
}

func TestFDTableCloseRejectsFurtherUse(t *testing.T) {
	ft := newTestFDTable()
	fd := ft.Socket(SockUDP)
	if err := ft.Bind(fd, 1234); err != nil {
		t.Fatal(err)
	}
	if err := ft.Close(fd); err != nil {
		t.Fatal(err)
	}
	if _, err := ft.Read(fd); err != ErrBadFD {
		t.Fatalf("want ErrBadFD after close, got %v", err)
	}
}
