package icmp

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/rawstack"
)

// NewFrame wraps buf as an ICMP echo Frame. An error is returned if buf is
// shorter than the fixed 8-byte echo header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

// Frame views an ICMP echo request/reply header and payload.
type Frame struct {
	buf []byte
}

func (f Frame) RawData() []byte { return f.buf }

func (f Frame) Type() Type     { return Type(f.buf[0]) }
func (f Frame) SetType(t Type) { f.buf[0] = uint8(t) }

func (f Frame) Code() uint8        { return f.buf[1] }
func (f Frame) SetCode(code uint8) { f.buf[1] = code }

func (f Frame) CRC() uint16      { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) SetCRC(c uint16)  { binary.BigEndian.PutUint16(f.buf[2:4], c) }

func (f Frame) Identifier() uint16      { return binary.BigEndian.Uint16(f.buf[4:6]) }
func (f Frame) SetIdentifier(id uint16) { binary.BigEndian.PutUint16(f.buf[4:6], id) }

func (f Frame) SequenceNumber() uint16      { return binary.BigEndian.Uint16(f.buf[6:8]) }
func (f Frame) SetSequenceNumber(s uint16)  { binary.BigEndian.PutUint16(f.buf[6:8], s) }

// Data returns the echo payload following the 8-byte header.
func (f Frame) Data() []byte { return f.buf[sizeHeader:] }

// CalculateCRC computes the checksum over [type|code|0|id|seq|data], per
// RFC 792: the checksum field itself is treated as zero.
func (f Frame) CalculateCRC() uint16 {
	var crc rawstack.CRC791
	crc.AddUint16(binary.BigEndian.Uint16(f.buf[0:2]))
	crc.WriteLast(f.buf[4:])
	return crc.Sum16()
}

// ValidateSize checks buf is at least the 8-byte echo header.
func (f Frame) ValidateSize(v *rawstack.Validator) {
	if len(f.buf) < sizeHeader {
		v.AddError(errShortFrame)
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("ICMP %s id=%d seq=%d len=%d", f.Type(), f.Identifier(), f.SequenceNumber(), len(f.Data()))
}
