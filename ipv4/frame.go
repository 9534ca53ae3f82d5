package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/soypat/rawstack"
)

var errShortBuf = errors.New("ipv4: short buffer")

// NewFrame wraps buf as an IPv4 Frame. An error is returned if buf is
// shorter than the fixed 20-byte header; call ValidateSize before trusting
// Payload/Options on a frame built from untrusted input.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShortBuf
	}
	return Frame{buf: buf}, nil
}

// Frame views an IPv4 header and payload (RFC 791) over a caller-owned
// slice, without copying.
type Frame struct {
	buf []byte
}

func (ifrm Frame) RawData() []byte { return ifrm.buf }

// HeaderLength returns the header length in bytes, options included.
func (ifrm Frame) HeaderLength() int { return int(ifrm.ihl()) * 4 }

func (ifrm Frame) ihl() uint8     { return ifrm.buf[0] & 0xf }
func (ifrm Frame) version() uint8 { return ifrm.buf[0] >> 4 }

func (ifrm Frame) VersionAndIHL() (version, ihl uint8) {
	v := ifrm.buf[0]
	return v >> 4, v & 0xf
}

func (ifrm Frame) SetVersionAndIHL(version, ihl uint8) { ifrm.buf[0] = version<<4 | ihl&0xf }

func (ifrm Frame) ToS() ToS             { return ToS(ifrm.buf[1]) }
func (ifrm Frame) SetToS(tos ToS)       { ifrm.buf[1] = byte(tos) }

// TotalLength is the entire datagram size, header and payload, in bytes.
func (ifrm Frame) TotalLength() uint16         { return binary.BigEndian.Uint16(ifrm.buf[2:4]) }
func (ifrm Frame) SetTotalLength(tl uint16)    { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID identifies the group of fragments of a single datagram.
func (ifrm Frame) ID() uint16      { return binary.BigEndian.Uint16(ifrm.buf[4:6]) }
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

func (ifrm Frame) Flags() Flags             { return Flags(binary.BigEndian.Uint16(ifrm.buf[6:8])) }
func (ifrm Frame) SetFlags(flags Flags)     { binary.BigEndian.PutUint16(ifrm.buf[6:8], uint16(flags)) }

func (ifrm Frame) TTL() uint8        { return ifrm.buf[8] }
func (ifrm Frame) SetTTL(ttl uint8)  { ifrm.buf[8] = ttl }

func (ifrm Frame) Protocol() rawstack.IPProto        { return rawstack.IPProto(ifrm.buf[9]) }
func (ifrm Frame) SetProtocol(proto rawstack.IPProto) { ifrm.buf[9] = uint8(proto) }

func (ifrm Frame) CRC() uint16        { return binary.BigEndian.Uint16(ifrm.buf[10:12]) }
func (ifrm Frame) SetCRC(cs uint16)   { binary.BigEndian.PutUint16(ifrm.buf[10:12], cs) }

// CalculateHeaderCRC computes the header checksum over every header field
// except the CRC field itself.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc rawstack.CRC791
	crc.Write(ifrm.buf[0:10])
	crc.Write(ifrm.buf[12:20])
	return crc.Sum16()
}

// CRCWriteTCPPseudo feeds the TCP pseudo-header fields into crc, ahead of
// the TCP segment itself, per RFC 793 §3.1.
func (ifrm Frame) CRCWriteTCPPseudo(crc *rawstack.CRC791) {
	crc.Write(ifrm.SourceAddr()[:])
	crc.Write(ifrm.DestinationAddr()[:])
	crc.AddUint16(ifrm.TotalLength() - 4*uint16(ifrm.ihl()))
	crc.AddUint16(uint16(ifrm.Protocol()))
}

// CRCWriteUDPPseudo feeds the UDP pseudo-header fields into crc.
func (ifrm Frame) CRCWriteUDPPseudo(crc *rawstack.CRC791) {
	crc.Write(ifrm.SourceAddr()[:])
	crc.Write(ifrm.DestinationAddr()[:])
	crc.AddUint16(uint16(ifrm.Protocol()))
}

func (ifrm Frame) SourceAddr() *[4]byte      { return (*[4]byte)(ifrm.buf[12:16]) }
func (ifrm Frame) DestinationAddr() *[4]byte { return (*[4]byte)(ifrm.buf[16:20]) }

// Payload returns the datagram's contents after the header, bounded by
// TotalLength. Call ValidateSize first to avoid a panic on malformed input.
func (ifrm Frame) Payload() []byte {
	off := ifrm.HeaderLength()
	l := ifrm.TotalLength()
	return ifrm.buf[off:l]
}

// Options returns the variable-length options portion of the header.
func (ifrm Frame) Options() []byte {
	off := ifrm.HeaderLength()
	return ifrm.buf[sizeHeader:off]
}

// ClearHeader zeros the fixed 20-byte header.
func (ifrm Frame) ClearHeader() {
	for i := range ifrm.buf[:sizeHeader] {
		ifrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's size fields against the actual buffer.
func (ifrm Frame) ValidateSize(v *rawstack.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if tl < sizeHeader {
		v.AddError(errBadTL)
	} else if int(tl) < int(ihl)*4 {
		v.AddError(errBadTL)
	}
	if int(tl) > len(ifrm.RawData()) {
		v.AddError(errShort)
	}
	if ihl < 5 {
		v.AddError(errBadIHL)
	}
}

// ValidateExceptCRC runs ValidateSize plus version checking, skipping the
// header checksum so callers can batch that separately (it requires a full
// pass over the header that ValidateSize's callers may not want to pay for
// on every single frame, e.g. in a fast loopback path).
func (ifrm Frame) ValidateExceptCRC(v *rawstack.Validator) {
	ifrm.ValidateSize(v)
	if ifrm.version() != 4 {
		v.AddError(errBadVersion)
	}
}

func (ifrm Frame) String() string {
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	src := netip.AddrFrom4(*ifrm.SourceAddr())
	hl := ifrm.HeaderLength()
	tl := int(ifrm.TotalLength())
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d OPT=%d TTL=%d ID=%d ToS=0x%x",
		ifrm.Protocol(), src, dst, tl, hl-sizeHeader, ifrm.TTL(), ifrm.ID(), ifrm.ToS())
}
