package tcp

import (
	"testing"
	"time"

	"github.com/soypat/rawstack"
)

func key() rawstack.ConnKey {
	return rawstack.ConnKey{
		LocalIP: [4]byte{10, 0, 0, 1}, LocalPort: 8888,
		RemoteIP: [4]byte{10, 0, 0, 2}, RemotePort: 5000,
		Proto: rawstack.IPProtoTCP,
	}
}

// TestPassiveOpenAndDataExchange mirrors spec.md's seed vectors 4 and 5:
// peer SYN(seq=1000) -> SYN+ACK(ack=1001) -> peer ACK(seq=1001,ack=S+1)
// establishes the connection; peer then sends PSH+ACK "ping" and we reply
// with "pong".
func TestPassiveOpenAndDataExchange(t *testing.T) {
	l, err := NewListener([4]byte{10, 0, 0, 1}, 8888, 10)
	if err != nil {
		t.Fatal(err)
	}
	rk := key()
	synAck, ok := l.HandleSyn(rk, 5000, 1000)
	if !ok {
		t.Fatal("SYN rejected")
	}
	if synAck.Seq != 5000 || synAck.Ack != 1001 || !synAck.Flags.Has(FlagSYN|FlagACK) {
		t.Fatalf("bad SYN+ACK: %+v", synAck)
	}

	conn, act, ok := l.HandleAck(rk, Segment{Seq: 1001, Ack: 5001, Flags: FlagACK})
	if !ok {
		t.Fatal("expected half-open entry")
	}
	_ = act
	if conn.State != StateEstablished {
		t.Fatalf("want ESTABLISHED, got %s", conn.State)
	}

	accepted, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}
	if accepted != conn {
		t.Fatal("accepted connection does not match established one")
	}

	dataAct := conn.Recv(Segment{Seq: 1001, Ack: 5001, Flags: FlagPSH | FlagACK, Payload: []byte("ping")})
	if string(dataAct.Deliver) != "ping" {
		t.Fatalf("want delivered payload ping, got %q", dataAct.Deliver)
	}
	if !dataAct.Send || dataAct.SendSeg.Ack != 1005 {
		t.Fatalf("want ACK of 1005, got %+v", dataAct.SendSeg)
	}

	seg, err := conn.Send([]byte("pong"))
	if err != nil {
		t.Fatal(err)
	}
	if seg.Seq != 5001 || seg.Ack != 1005 || !seg.Flags.Has(FlagPSH|FlagACK) {
		t.Fatalf("unexpected outbound segment: %+v", seg)
	}
}

func TestActiveCloseFullPath(t *testing.T) {
	conn := &Conn{Key: key(), State: StateEstablished, sndNxt: 100, rcvNxt: 200}

	fin, err := conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if conn.State != StateFinWait1 || !fin.Flags.Has(FlagFIN|FlagACK) {
		t.Fatalf("want FIN_WAIT_1 with FIN+ACK, got state=%s seg=%+v", conn.State, fin)
	}

	act := conn.Recv(Segment{Seq: 200, Ack: 101, Flags: FlagACK})
	if conn.State != StateFinWait2 {
		t.Fatalf("want FIN_WAIT_2, got %s", conn.State)
	}
	_ = act

	act = conn.Recv(Segment{Seq: 200, Ack: 101, Flags: FlagFIN | FlagACK})
	if conn.State != StateTimeWait {
		t.Fatalf("want TIME_WAIT, got %s", conn.State)
	}
	if !act.Send || act.SendSeg.Ack != 201 {
		t.Fatalf("want final ACK of peer FIN, got %+v", act.SendSeg)
	}
	if conn.TimeWaitExpired(conn.timeWaitDeadline.Add(-time.Second)) {
		t.Error("TIME_WAIT should not be expired before its deadline")
	}
	if !conn.TimeWaitExpired(conn.timeWaitDeadline) {
		t.Error("TIME_WAIT should be expired at its deadline")
	}
}

func TestPassiveCloseFullPath(t *testing.T) {
	conn := &Conn{Key: key(), State: StateEstablished, sndNxt: 100, rcvNxt: 200}

	act := conn.Recv(Segment{Seq: 200, Ack: 100, Flags: FlagFIN | FlagACK})
	if conn.State != StateCloseWait {
		t.Fatalf("want CLOSE_WAIT, got %s", conn.State)
	}
	if !act.Send || act.SendSeg.Ack != 201 {
		t.Fatalf("want ACK of peer FIN, got %+v", act.SendSeg)
	}

	fin, err := conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if conn.State != StateLastAck || !fin.Flags.Has(FlagFIN|FlagACK) {
		t.Fatalf("want LAST_ACK with FIN+ACK, got state=%s seg=%+v", conn.State, fin)
	}

	act = conn.Recv(Segment{Seq: 201, Ack: 101, Flags: FlagACK})
	if conn.State != StateClosed || !act.Drop {
		t.Fatalf("want CLOSED+Drop, got state=%s act=%+v", conn.State, act)
	}
}

func TestSimultaneousClose(t *testing.T) {
	a := &Conn{Key: key(), State: StateEstablished, sndNxt: 100, rcvNxt: 200}
	b := &Conn{Key: key(), State: StateEstablished, sndNxt: 200, rcvNxt: 100}

	finA, _ := a.Close()
	finB, _ := b.Close()

	actA := a.Recv(Segment{Seq: finB.Seq, Ack: finB.Ack, Flags: finB.Flags})
	if a.State != StateClosing {
		t.Fatalf("want CLOSING, got %s", a.State)
	}
	_ = actA

	actA2 := a.Recv(Segment{Seq: finB.Seq + 1, Ack: finA.Seq + 1, Flags: FlagACK})
	if a.State != StateTimeWait {
		t.Fatalf("want TIME_WAIT after simultaneous close, got %s", a.State)
	}
	_ = actA2
}
