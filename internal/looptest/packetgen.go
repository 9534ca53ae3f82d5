package looptest

import (
	"math/rand"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/ethernet"
	"github.com/soypat/rawstack/ipv4"
	"github.com/soypat/rawstack/tcp"
)

// Segment is the subset of a TCP segment a generated packet needs; callers
// supply payload length rather than bytes since PacketGen fills payload
// with pseudo-random data itself.
type Segment struct {
	Seq, Ack tcp.Value
	Window   uint16
	Flags    tcp.Flags
	DataLen  int
}

// PacketGen builds well-formed, checksummed Ethernet+IPv4+TCP frames with
// pseudo-random addressing and payload, for tests that want literal wire
// bytes rather than hand-built byte literals. Grounded on the teacher's
// ltesto.PacketGen, trimmed to this stack's fixed 20-byte TCP/IP headers
// (no VLAN tag, no IP/TCP options — this stack never emits either).
type PacketGen struct {
	SrcMAC, DstMAC   [6]byte
	SrcIP, DstIP     [4]byte
	SrcPort, DstPort uint16
}

// RandomizeAddrs fills every address/port field with rng output.
func (gen *PacketGen) RandomizeAddrs(rng *rand.Rand) {
	rng.Read(gen.SrcMAC[:])
	rng.Read(gen.DstMAC[:])
	rng.Read(gen.SrcIP[:])
	rng.Read(gen.DstIP[:])
	ports := rng.Uint32()
	gen.SrcPort = uint16(ports)
	gen.DstPort = uint16(ports >> 16)
}

const (
	sizeEth = 14
	sizeIP  = 20
	sizeTCP = 20
)

// AppendIPv4TCP appends one complete, checksummed Ethernet frame carrying a
// TCP segment with the given control fields and seg.DataLen bytes of
// pseudo-random payload to dst, returning the grown slice.
func (gen *PacketGen) AppendIPv4TCP(dst []byte, rng *rand.Rand, seg Segment) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, sizeEth+sizeIP+sizeTCP+seg.DataLen)...)

	efrm, err := ethernet.NewFrame(dst[off:])
	if err != nil {
		panic(err)
	}
	*efrm.DestinationHardwareAddr() = gen.DstMAC
	*efrm.SourceHardwareAddr() = gen.SrcMAC
	efrm.SetEtherType(ethernet.TypeIPv4)

	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		panic(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(sizeIP + sizeTCP + seg.DataLen))
	ifrm.SetID(uint16(rng.Uint32()))
	ifrm.SetTTL(64)
	ifrm.SetProtocol(rawstack.IPProtoTCP)
	*ifrm.SourceAddr() = gen.SrcIP
	*ifrm.DestinationAddr() = gen.DstIP
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		panic(err)
	}
	tfrm.SetHeader(gen.SrcPort, gen.DstPort, seg.Seq, seg.Ack, seg.Flags)
	tfrm.SetWindowSize(seg.Window)
	if seg.DataLen > 0 {
		rng.Read(tfrm.Payload())
	}
	tfrm.SetCRC(tfrm.CalculateIPv4Checksum(ifrm))
	return dst
}
