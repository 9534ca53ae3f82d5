package arp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/ethernet"
)

var errShort = errors.New("arp: buffer too short for IPv4-over-Ethernet header")

// Frame views a fixed 28-byte IPv4-over-Ethernet ARP packet (RFC 826,
// hardware type Ethernet, protocol type IPv4: 6-byte MAC + 4-byte IPv4
// addresses). This stack never originates or answers any other
// hardware/protocol combination, so unlike a general-purpose ARP codec
// this Frame does not support variable address lengths.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an ARP Frame. An error is returned if buf is
// shorter than the fixed 28-byte IPv4-over-Ethernet header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderv4 {
		return Frame{}, errShort
	}
	return Frame{buf: buf[:sizeHeaderv4]}, nil
}

// RawData returns the 28-byte backing slice.
func (f Frame) RawData() []byte { return f.buf }

// HardwareType returns the link-layer protocol type field (1 for Ethernet).
func (f Frame) HardwareType() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }

// SetHardwareType writes the link-layer protocol type field.
func (f Frame) SetHardwareType(v uint16) { binary.BigEndian.PutUint16(f.buf[0:2], v) }

// ProtocolType returns the internetwork protocol type field.
func (f Frame) ProtocolType() ethernet.Type {
	return ethernet.Type(binary.BigEndian.Uint16(f.buf[2:4]))
}

// SetProtocolType writes the internetwork protocol type field.
func (f Frame) SetProtocolType(t ethernet.Type) { binary.BigEndian.PutUint16(f.buf[2:4], uint16(t)) }

// HardwareLen returns the declared hardware address length field (offset 4).
func (f Frame) HardwareLen() uint8 { return f.buf[4] }

// ProtocolLen returns the declared protocol address length field (offset 5).
func (f Frame) ProtocolLen() uint8 { return f.buf[5] }

// SetAddrLens writes the fixed IPv4-over-Ethernet address lengths (6, 4)
// this codec always uses.
func (f Frame) SetAddrLens() { f.buf[4] = 6; f.buf[5] = 4 }

// Operation returns the opcode field: request or reply.
func (f Frame) Operation() Operation { return Operation(binary.BigEndian.Uint16(f.buf[6:8])) }

// SetOperation writes the opcode field.
func (f Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(f.buf[6:8], uint16(op)) }

// SenderHW returns the sender hardware (MAC) address field.
func (f Frame) SenderHW() *[6]byte { return (*[6]byte)(f.buf[8:14]) }

// SenderProto returns the sender protocol (IPv4) address field.
func (f Frame) SenderProto() *[4]byte { return (*[4]byte)(f.buf[14:18]) }

// TargetHW returns the target hardware (MAC) address field.
func (f Frame) TargetHW() *[6]byte { return (*[6]byte)(f.buf[18:24]) }

// TargetProto returns the target protocol (IPv4) address field.
func (f Frame) TargetProto() *[4]byte { return (*[4]byte)(f.buf[24:28]) }

// ClearHeader zeros every field.
func (f Frame) ClearHeader() {
	for i := range f.buf {
		f.buf[i] = 0
	}
}

// SwapSenderTarget exchanges the sender and target hardware/protocol
// fields, the first step in turning a request into the matching reply.
func (f Frame) SwapSenderTarget() {
	*f.SenderHW(), *f.TargetHW() = *f.TargetHW(), *f.SenderHW()
	*f.SenderProto(), *f.TargetProto() = *f.TargetProto(), *f.SenderProto()
}

var errBadAddrLen = errors.New("arp: hardware or protocol address length mismatch for IPv4-over-Ethernet")

// ValidateSize checks the frame is large enough and declares the hardware
// and protocol address lengths this codec assumes (6-byte MAC, 4-byte
// IPv4). Any other combination is rejected rather than silently
// misinterpreted.
func (f Frame) ValidateSize(v *rawstack.Validator) {
	if len(f.buf) < sizeHeaderv4 {
		v.AddError(errShortARP)
		return
	}
	hlen := f.HardwareLen()
	plen := f.ProtocolLen()
	if hlen != 6 || plen != 4 {
		v.AddError(errBadAddrLen)
	}
}

func (f Frame) String() string {
	sender := netip.AddrFrom4(*f.SenderProto())
	target := netip.AddrFrom4(*f.TargetProto())
	return fmt.Sprintf("ARP %s sender=%s/%s target=%s/%s",
		f.Operation(), net.HardwareAddr(f.SenderHW()[:]), sender,
		net.HardwareAddr(f.TargetHW()[:]), target)
}
