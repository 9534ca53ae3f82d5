package looptest

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/soypat/rawstack/ethernet"
)

func TestWireDeliversInOrder(t *testing.T) {
	w := NewWire(4)
	a, b := w.EndA(), w.EndB()

	a.Send([]byte("first"))
	a.Send([]byte("second"))

	var got [][]byte
	b.Drain(func(frame []byte) {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		got = append(got, cp)
	})
	if len(got) != 2 || string(got[0]) != "first" || string(got[1]) != "second" {
		t.Fatalf("got %q", got)
	}
	if _, ok := b.Recv(); ok {
		t.Fatal("expected wire drained")
	}
}

func TestWireDropsWhenFull(t *testing.T) {
	w := NewWire(1)
	a, b := w.EndA(), w.EndB()
	a.Send([]byte("kept"))
	a.Send([]byte("dropped"))
	frame, ok := b.Recv()
	if !ok || string(frame) != "kept" {
		t.Fatalf("got %q, %v", frame, ok)
	}
	if _, ok := b.Recv(); ok {
		t.Fatal("expected second frame to have been dropped")
	}
}

func TestPacketGenBuildsValidFrame(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	gen := PacketGen{
		SrcMAC: [6]byte{1, 2, 3, 4, 5, 6}, DstMAC: [6]byte{6, 5, 4, 3, 2, 1},
		SrcIP: [4]byte{10, 0, 0, 1}, DstIP: [4]byte{10, 0, 0, 2},
		SrcPort: 1234, DstPort: 80,
	}
	buf := gen.AppendIPv4TCP(nil, rng, Segment{Seq: 100, Window: 0xffff, DataLen: 32})
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	if efrm.EtherTypeOrSize() != ethernet.TypeIPv4 {
		t.Fatalf("want IPv4 ethertype, got %v", efrm.EtherTypeOrSize())
	}
	if len(efrm.Payload()) != sizeIP+sizeTCP+32 {
		t.Fatalf("unexpected payload length %d", len(efrm.Payload()))
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	frames := [][]byte{[]byte("hello"), []byte("world!")}
	for i, f := range frames {
		if err := w.WritePacket(f, uint32(i), 0); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReader(&buf)
	for i, want := range frames {
		got, tsSec, _, err := r.ReadPacket()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: got %q want %q", i, got, want)
		}
		if tsSec != uint32(i) {
			t.Fatalf("frame %d: got ts %d", i, tsSec)
		}
	}
	if _, _, _, err := r.ReadPacket(); err == nil {
		t.Fatal("expected EOF after last frame")
	}
}
