// Package ethernet implements Ethernet II frame parsing and construction,
// the link-layer codec the device adapter uses to strip/add the 14-byte
// header around every ARP and IPv4 payload this stack carries.
package ethernet

import "strconv"

const sizeHeaderNoVLAN = 14

// Type is the EtherType field of an Ethernet II frame.
type Type uint16

// IsSize reports whether the field value should be interpreted as the
// 802.3 payload length rather than an EtherType: values <= 1500 are a
// length, not a protocol tag.
func (t Type) IsSize() bool { return t <= 1500 }

func (t Type) String() string {
	switch t {
	case TypeIPv4:
		return "IPv4"
	case TypeARP:
		return "ARP"
	case TypeVLAN:
		return "VLAN"
	default:
		return "EtherType(0x" + strconv.FormatUint(uint64(t), 16) + ")"
	}
}

const (
	TypeIPv4 Type = 0x0800
	TypeARP  Type = 0x0806
	TypeVLAN Type = 0x8100
)

// BroadcastAddr returns the all-ones Ethernet broadcast address.
func BroadcastAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// AppendAddr appends the colon-separated hex text form of a MAC address.
func AppendAddr(dst []byte, addr [6]byte) []byte {
	for i, b := range addr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}
