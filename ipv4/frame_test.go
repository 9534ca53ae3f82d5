package ipv4

import (
	"math/rand"
	"testing"

	"github.com/soypat/rawstack"
)

func TestFrame(t *testing.T) {
	var buf [128]byte
	ifrm, err := NewFrame(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	v := new(rawstack.Validator)
	for i := 0; i < 50; i++ {
		wantPayloadLen := rng.Intn(100)
		ifrm.SetVersionAndIHL(4, 5)
		ifrm.SetTotalLength(uint16(sizeHeader + wantPayloadLen))
		ifrm.SetTTL(64)
		ifrm.SetProtocol(rawstack.IPProtoUDP)
		src := ifrm.SourceAddr()
		rng.Read(src[:])
		dst := ifrm.DestinationAddr()
		rng.Read(dst[:])
		ifrm.ValidateExceptCRC(v)
		if v.Err() != nil {
			t.Fatal(v.Err())
		}
		payload := ifrm.Payload()
		if len(payload) != wantPayloadLen {
			t.Errorf("want payload length %d, got %d", wantPayloadLen, len(payload))
		}
		ifrm.SetCRC(ifrm.CalculateHeaderCRC())
		if ifrm.CRC() == 0 {
			t.Error("checksum computed as zero over non-trivial header")
		}
	}
}

func TestReassembleRoundTrip(t *testing.T) {
	for _, mtu := range []int{576, 1500, 9000} {
		for _, n := range []int{0, 1, 7, 8, 500, 4000, 20000} {
			payload := make([]byte, n)
			rand.New(rand.NewSource(int64(n + mtu))).Read(payload)

			pieces, err := Plan(n, mtu)
			if err != nil {
				t.Fatal(err)
			}
			key := FragKey{SrcIP: [4]byte{10, 0, 0, 1}, DstIP: [4]byte{10, 0, 0, 2}, ID: 42, Proto: rawstack.IPProtoUDP}
			r := NewReassembler()
			var got []byte
			var done bool
			for _, p := range pieces {
				got, done = r.Add(key, p.Offset, p.More, payload[p.Offset:p.Offset+p.Len])
			}
			if !done {
				t.Fatalf("mtu=%d n=%d: reassembly never completed", mtu, n)
			}
			if string(got) != string(payload) {
				t.Fatalf("mtu=%d n=%d: reassembled payload mismatch", mtu, n)
			}
		}
	}
}
