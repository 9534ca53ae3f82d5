package udp

import (
	"testing"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/ipv4"
)

func TestChecksumRoundTrip(t *testing.T) {
	var ipBuf [20 + 8 + 5]byte
	ifrm, err := ipv4.NewFrame(ipBuf[:])
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(ipBuf)))
	*ifrm.SourceAddr() = [4]byte{192, 168, 1, 1}
	*ifrm.DestinationAddr() = [4]byte{192, 168, 1, 2}

	ufrm, err := NewFrame(ipBuf[20:])
	if err != nil {
		t.Fatal(err)
	}
	ufrm.SetSourcePort(5000)
	ufrm.SetDestinationPort(53)
	ufrm.SetLength(13)
	copy(ufrm.Payload(), "hello")

	ufrm.SetCRC(ufrm.CalculateIPv4Checksum(ifrm))
	if ufrm.CRC() == 0 {
		t.Error("checksum folded to zero unexpectedly for non-trivial datagram")
	}

	// Receiver side: summing the pseudo-header and the whole datagram with
	// the carried checksum in place folds to zero for an intact datagram.
	var crc rawstack.CRC791
	ifrm.CRCWriteUDPPseudo(&crc)
	crc.AddUint16(ufrm.Length())
	crc.WriteLast(ufrm.RawData()[:ufrm.Length()])
	if got := crc.Sum16(); got != 0 {
		t.Errorf("carried checksum does not verify: sum %#04x, want 0", got)
	}
}
