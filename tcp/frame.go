package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/ipv4"
)

// NewFrame wraps buf as a TCP Frame. An error is returned if buf is shorter
// than the fixed 20-byte header (options-free, which is all this stack ever
// emits; ValidateSize must still be called before trusting Payload/Options
// derived from a peer segment, which may carry options).
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame views a TCP segment (RFC 793 header layout) over a caller-owned
// slice.
type Frame struct {
	buf []byte
}

func (tfrm Frame) RawData() []byte { return tfrm.buf }

func (tfrm Frame) SourcePort() uint16      { return binary.BigEndian.Uint16(tfrm.buf[0:2]) }
func (tfrm Frame) SetSourcePort(p uint16)  { binary.BigEndian.PutUint16(tfrm.buf[0:2], p) }
func (tfrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[2:4]) }
func (tfrm Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[2:4], p) }

func (tfrm Frame) Seq() Value     { return Value(binary.BigEndian.Uint32(tfrm.buf[4:8])) }
func (tfrm Frame) SetSeq(v Value) { binary.BigEndian.PutUint32(tfrm.buf[4:8], uint32(v)) }

func (tfrm Frame) Ack() Value     { return Value(binary.BigEndian.Uint32(tfrm.buf[8:12])) }
func (tfrm Frame) SetAck(v Value) { binary.BigEndian.PutUint32(tfrm.buf[8:12], uint32(v)) }

// OffsetAndFlags returns the data-offset (in 32-bit words) and control bits.
func (tfrm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	v := binary.BigEndian.Uint16(tfrm.buf[12:14])
	return uint8(v >> 12), Flags(v).Mask()
}

func (tfrm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	v := uint16(offset)<<12 | uint16(flags.Mask())
	binary.BigEndian.PutUint16(tfrm.buf[12:14], v)
}

// HeaderLength is the offset field converted to bytes, options included.
func (tfrm Frame) HeaderLength() int {
	offset, _ := tfrm.OffsetAndFlags()
	return 4 * int(offset)
}

func (tfrm Frame) WindowSize() uint16     { return binary.BigEndian.Uint16(tfrm.buf[14:16]) }
func (tfrm Frame) SetWindowSize(w uint16) { binary.BigEndian.PutUint16(tfrm.buf[14:16], w) }

func (tfrm Frame) CRC() uint16       { return binary.BigEndian.Uint16(tfrm.buf[16:18]) }
func (tfrm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(tfrm.buf[16:18], crc) }

func (tfrm Frame) UrgentPtr() uint16      { return binary.BigEndian.Uint16(tfrm.buf[18:20]) }
func (tfrm Frame) SetUrgentPtr(up uint16) { binary.BigEndian.PutUint16(tfrm.buf[18:20], up) }

// Payload returns the segment's data, after the header and any options.
func (tfrm Frame) Payload() []byte { return tfrm.buf[tfrm.HeaderLength():] }

// Options returns the variable-length option bytes, if any.
func (tfrm Frame) Options() []byte { return tfrm.buf[sizeHeader:tfrm.HeaderLength()] }

// ClearHeader zeros the fixed 20-byte header.
func (tfrm Frame) ClearHeader() {
	for i := range tfrm.buf[:sizeHeader] {
		tfrm.buf[i] = 0
	}
}

// SetHeader stamps the full fixed header this stack ever sends: 20 bytes,
// no options, window fixed at 0xFFFF per spec.md's no-window-scaling rule.
func (tfrm Frame) SetHeader(localPort, remotePort uint16, seq, ack Value, flags Flags) {
	tfrm.ClearHeader()
	tfrm.SetSourcePort(localPort)
	tfrm.SetDestinationPort(remotePort)
	tfrm.SetSeq(seq)
	tfrm.SetAck(ack)
	tfrm.SetOffsetAndFlags(5, flags)
	tfrm.SetWindowSize(0xFFFF)
}

// CalculateIPv4Checksum computes the TCP checksum over the IPv4
// pseudo-header, the 20-byte header (checksum field as zero) and payload.
func (tfrm Frame) CalculateIPv4Checksum(ifrm ipv4.Frame) uint16 {
	var crc rawstack.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	hdr := tfrm.buf[:tfrm.HeaderLength()]
	crc.Write(hdr[0:16])
	crc.AddUint16(0) // checksum field treated as zero
	crc.Write(hdr[18:])
	crc.WriteLast(tfrm.Payload())
	return crc.Sum16()
}

// ValidateSize checks the header-length field against the actual buffer.
func (tfrm Frame) ValidateSize(v *rawstack.Validator) {
	off := tfrm.HeaderLength()
	if off < sizeHeader || off > len(tfrm.RawData()) {
		v.AddError(ErrBadHeaderLen)
	}
}

func (tfrm Frame) String() string {
	_, flags := tfrm.OffsetAndFlags()
	return fmt.Sprintf("TCP :%d -> :%d SEQ=%d ACK=%d WND=%d %s LEN=%d",
		tfrm.SourcePort(), tfrm.DestinationPort(), tfrm.Seq(), tfrm.Ack(), tfrm.WindowSize(), flags, len(tfrm.Payload()))
}
