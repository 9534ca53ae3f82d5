package udp

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/ipv4"
)

// NewFrame wraps buf as a UDP Frame. An error is returned if buf is shorter
// than the fixed 8-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame views a UDP datagram (RFC 768) over a caller-owned slice.
type Frame struct {
	buf []byte
}

func (ufrm Frame) RawData() []byte { return ufrm.buf }

func (ufrm Frame) SourcePort() uint16      { return binary.BigEndian.Uint16(ufrm.buf[0:2]) }
func (ufrm Frame) SetSourcePort(src uint16) { binary.BigEndian.PutUint16(ufrm.buf[0:2], src) }

func (ufrm Frame) DestinationPort() uint16     { return binary.BigEndian.Uint16(ufrm.buf[2:4]) }
func (ufrm Frame) SetDestinationPort(dst uint16) { binary.BigEndian.PutUint16(ufrm.buf[2:4], dst) }

// Length is the UDP header+payload length in bytes, minimum 8.
func (ufrm Frame) Length() uint16         { return binary.BigEndian.Uint16(ufrm.buf[4:6]) }
func (ufrm Frame) SetLength(length uint16) { binary.BigEndian.PutUint16(ufrm.buf[4:6], length) }

func (ufrm Frame) CRC() uint16         { return binary.BigEndian.Uint16(ufrm.buf[6:8]) }
func (ufrm Frame) SetCRC(checksum uint16) { binary.BigEndian.PutUint16(ufrm.buf[6:8], checksum) }

// Payload returns the datagram's payload, bounded by Length.
func (ufrm Frame) Payload() []byte {
	l := ufrm.Length()
	return ufrm.buf[sizeHeader:l]
}

// ClearHeader zeros the fixed 8-byte header.
func (ufrm Frame) ClearHeader() {
	for i := range ufrm.buf[:sizeHeader] {
		ufrm.buf[i] = 0
	}
}

// CalculateIPv4Checksum computes the UDP checksum over the IPv4
// pseudo-header plus header plus payload, treating the checksum field as
// zero, per RFC 768.
func (ufrm Frame) CalculateIPv4Checksum(ifrm ipv4.Frame) uint16 {
	var crc rawstack.CRC791
	ifrm.CRCWriteUDPPseudo(&crc)
	crc.AddUint16(ufrm.Length())
	crc.AddUint16(ufrm.SourcePort())
	crc.AddUint16(ufrm.DestinationPort())
	crc.AddUint16(ufrm.Length())
	crc.WriteLast(ufrm.Payload())
	return rawstack.NeverZeroChecksum(crc.Sum16())
}

// ValidateSize checks the frame's length field against the actual buffer.
func (ufrm Frame) ValidateSize(v *rawstack.Validator) {
	ul := ufrm.Length()
	if ul < sizeHeader {
		v.AddError(errBadLen)
	}
	if int(ul) > len(ufrm.RawData()) {
		v.AddError(errShort)
	}
}

func (ufrm Frame) String() string {
	return fmt.Sprintf("UDP SPORT=%d DPORT=%d LEN=%d", ufrm.SourcePort(), ufrm.DestinationPort(), ufrm.Length())
}
