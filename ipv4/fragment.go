package ipv4

import (
	"errors"

	"github.com/soypat/rawstack"
)

// FragmentParams holds the header fields shared across every fragment of
// one outbound datagram.
type FragmentParams struct {
	SrcIP, DstIP [4]byte
	ID           uint16
	TTL          uint8
	Proto        rawstack.IPProto
	ToS          ToS
}

// Piece describes one fragment's slice of the original payload.
type Piece struct {
	Offset int // byte offset into the original payload
	Len    int
	More   bool
}

var errMTUTooSmall = errors.New("ipv4: MTU too small to carry a header and at least 8 bytes of payload")

// MaxFragmentPayload returns the largest payload, in bytes, that fits one
// fragment under mtu: rounded down to a multiple of 8, as RFC 791 fragment
// offsets are counted in 8-byte units.
func MaxFragmentPayload(mtu int) int {
	return ((mtu - sizeHeader) / 8) * 8
}

// Plan splits a payload of length n into the ordered Pieces slow-path
// fragmentation would emit for the given MTU. A single Piece covering the
// whole payload is returned when n already fits.
func Plan(n, mtu int) ([]Piece, error) {
	maxPayload := MaxFragmentPayload(mtu)
	if maxPayload <= 0 {
		return nil, errMTUTooSmall
	}
	if n <= maxPayload && n <= mtu-sizeHeader {
		return []Piece{{Offset: 0, Len: n, More: false}}, nil
	}
	var pieces []Piece
	off := 0
	for off < n {
		l := maxPayload
		if n-off < l {
			l = n - off
		}
		pieces = append(pieces, Piece{Offset: off, Len: l, More: off+l < n})
		off += l
	}
	return pieces, nil
}

// BuildFragment stamps a 20-byte IPv4 header (no options) at the front of
// buf for one fragment whose payload (length payloadLen) already sits at
// buf[20:20+payloadLen], and returns the completed Frame with header
// checksum filled in. buf must be at least 20+payloadLen bytes.
func BuildFragment(buf []byte, p FragmentParams, piece Piece) (Frame, error) {
	f, err := NewFrame(buf[:sizeHeader+piece.Len])
	if err != nil {
		return Frame{}, err
	}
	f.ClearHeader()
	f.SetVersionAndIHL(4, 5)
	f.SetToS(p.ToS)
	f.SetTotalLength(uint16(sizeHeader + piece.Len))
	f.SetID(p.ID)
	f.SetFlags(fragFlags(false, piece.More, uint16(piece.Offset/8)))
	f.SetTTL(p.TTL)
	f.SetProtocol(p.Proto)
	*f.SourceAddr() = p.SrcIP
	*f.DestinationAddr() = p.DstIP
	f.SetCRC(f.CalculateHeaderCRC())
	return f, nil
}
