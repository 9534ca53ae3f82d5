package ethernet

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/rawstack"
)

var errShort = errors.New("ethernet: buffer shorter than 14-byte header")

// Frame views a 14-byte-minimum Ethernet II header and its payload over a
// caller-owned byte slice. It never copies; all accessors index directly
// into the slice NewFrame was given.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. An error is returned if buf is shorter
// than the fixed 14-byte header; callers still must call ValidateSize
// before trusting Payload on a VLAN-tagged frame.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderNoVLAN {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the full backing slice, header and payload together.
func (f Frame) RawData() []byte { return f.buf }

// DestinationHardwareAddr returns the frame's destination MAC field.
func (f Frame) DestinationHardwareAddr() *[6]byte { return (*[6]byte)(f.buf[0:6]) }

// SourceHardwareAddr returns the frame's source MAC field.
func (f Frame) SourceHardwareAddr() *[6]byte { return (*[6]byte)(f.buf[6:12]) }

// IsBroadcast reports whether the destination address is ff:ff:ff:ff:ff:ff.
func (f Frame) IsBroadcast() bool {
	d := f.buf[0:6]
	for _, b := range d {
		if b != 0xff {
			return false
		}
	}
	return true
}

// EtherTypeOrSize returns the raw 12:14 field; call IsSize to tell a
// protocol tag apart from an 802.3 length.
func (f Frame) EtherTypeOrSize() Type { return Type(binary.BigEndian.Uint16(f.buf[12:14])) }

// SetEtherType writes the 12:14 field.
func (f Frame) SetEtherType(t Type) { binary.BigEndian.PutUint16(f.buf[12:14], uint16(t)) }

// HeaderLength returns 14, or 18 if this is a single-tagged VLAN frame.
func (f Frame) HeaderLength() int {
	if f.IsVLAN() {
		return 18
	}
	return sizeHeaderNoVLAN
}

// IsVLAN reports whether the EtherType field is the VLAN TPID 0x8100.
func (f Frame) IsVLAN() bool { return f.EtherTypeOrSize() == TypeVLAN }

// Payload returns the frame's data after the (possibly VLAN-tagged)
// header, trimmed to the 802.3 length field if the EtherType field was
// actually a size rather than a protocol tag.
func (f Frame) Payload() []byte {
	hl := f.HeaderLength()
	if sz := f.EtherTypeOrSize(); sz.IsSize() {
		return f.buf[hl : hl+int(sz)]
	}
	return f.buf[hl:]
}

var (
	errShortFrame = errors.New("ethernet: frame shorter than declared 802.3 size")
	errShortVLAN  = errors.New("ethernet: VLAN-tagged frame shorter than 18 bytes")
)

// ValidateSize checks the frame's size-derived fields against the actual
// buffer length, recording any mismatch on v.
func (f Frame) ValidateSize(v *rawstack.Validator) {
	sz := f.EtherTypeOrSize()
	if sz.IsSize() && len(f.buf) < sizeHeaderNoVLAN+int(sz) {
		v.AddError(errShortFrame)
	}
	if sz == TypeVLAN && len(f.buf) < 18 {
		v.AddError(errShortVLAN)
	}
}
