package arp

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestHandlerRequestReply(t *testing.T) {
	mac1 := [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x00}
	ip1 := [4]byte{192, 168, 1, 1}
	mac2 := [6]byte{0xc0, 0xff, 0xee, 0xc0, 0xff, 0xee}
	ip2 := [4]byte{192, 168, 1, 2}

	h1 := NewHandler(mac1, ip1, rate.Inf, 4)
	h2 := NewHandler(mac2, ip2, rate.Inf, 4)

	var buf [sizeHeaderv4]byte
	req, err := h1.BuildRequest(buf[:], ip2)
	if err != nil {
		t.Fatal(err)
	}
	if req.Operation() != OpRequest {
		t.Fatalf("want OpRequest, got %s", req.Operation())
	}

	// h2 receives the request over the wire: re-view the same bytes.
	rx, err := NewFrame(req.RawData())
	if err != nil {
		t.Fatal(err)
	}
	if !h2.IsRequestForUs(rx) {
		t.Fatal("h2 should recognize request for its own address")
	}
	senderIP, senderMAC := h2.Observe(rx)
	if senderIP != ip1 || senderMAC != mac1 {
		t.Fatalf("h2 observed wrong sender: ip=%v mac=%v", senderIP, senderMAC)
	}

	h2.BuildReply(rx)
	if rx.Operation() != OpReply {
		t.Fatal("expected reply opcode after BuildReply")
	}
	if *rx.SenderProto() != ip2 || *rx.SenderHW() != mac2 {
		t.Fatal("reply sender fields should be h2's own address")
	}
	if *rx.TargetProto() != ip1 || *rx.TargetHW() != mac1 {
		t.Fatal("reply target fields should be the original sender")
	}

	// h1 observes the reply.
	gotIP, gotMAC := h1.Observe(rx)
	if gotIP != ip2 || gotMAC != mac2 {
		t.Fatalf("h1 observed wrong neighbor: ip=%v mac=%v", gotIP, gotMAC)
	}
}

func TestHandlerProbeThrottled(t *testing.T) {
	h := NewHandler([6]byte{1, 2, 3, 4, 5, 6}, [4]byte{10, 0, 0, 1}, 0, 1)
	var buf [sizeHeaderv4]byte
	if _, err := h.BuildRequest(buf[:], [4]byte{10, 0, 0, 2}); err != nil {
		t.Fatal("first probe should be allowed by the burst budget:", err)
	}
	if _, err := h.BuildRequest(buf[:], [4]byte{10, 0, 0, 3}); err == nil {
		t.Fatal("second immediate probe should be rate limited")
	}
}

func TestIsRequestForUsIgnoresOtherTargets(t *testing.T) {
	h := NewHandler([6]byte{1, 2, 3, 4, 5, 6}, [4]byte{10, 0, 0, 1}, rate.Inf, 4)
	other := NewHandler([6]byte{6, 5, 4, 3, 2, 1}, [4]byte{10, 0, 0, 9}, rate.Inf, 4)
	var buf [sizeHeaderv4]byte
	req, err := other.BuildRequest(buf[:], [4]byte{10, 0, 0, 2})
	if err != nil {
		t.Fatal(err)
	}
	if h.IsRequestForUs(req) {
		t.Fatal("request targeting an unrelated address should not match h")
	}
}
