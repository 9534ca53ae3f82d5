// Package ipv4 implements RFC 791 IPv4: header codec, fragment reassembly
// and outbound fragmentation. It knows nothing of sockets or connections —
// the stack façade feeds reassembled payloads to icmp/udp/tcp and asks this
// package to fragment outbound payloads that exceed the device MTU.
package ipv4

import "errors"

const sizeHeader = 20

// ToS is the Type of Service / Differentiated Services + ECN byte.
type ToS uint8

func (tos ToS) DS() uint8  { return uint8(tos) >> 2 }
func (tos ToS) ECN() uint8 { return uint8(tos & 0b11) }

// Flags is the 16-bit flags+fragment-offset field.
type Flags uint16

func (f Flags) DontFragment() bool     { return f&0x4000 != 0 }
func (f Flags) MoreFragments() bool    { return f&0x2000 != 0 }
func (f Flags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }

// fragFlags builds the flags+offset field for one outbound fragment.
// offset is in 8-byte units, as the wire format requires.
func fragFlags(df, mf bool, offset8 uint16) Flags {
	var f uint16
	if df {
		f |= 0x4000
	}
	if mf {
		f |= 0x2000
	}
	f |= offset8 & 0x1fff
	return Flags(f)
}

var (
	errBadTL      = errors.New("ipv4: bad total length")
	errShort      = errors.New("ipv4: short data")
	errBadIHL     = errors.New("ipv4: bad IHL")
	errBadVersion = errors.New("ipv4: bad version")
)
