// Package tcp implements the RFC 793 connection state machine this stack
// requires: the three-way handshake (active and passive), steady-state
// cumulative-ACK data transfer, and the full close path (active, passive
// and simultaneous) ending in a 2MSL TIME_WAIT. Retransmission timers,
// congestion control, window scaling and SACK are not modeled — segments
// are assumed to arrive in order and duplicate ACKs are tolerated but not
// specially handled.
package tcp

import (
	"errors"
	"math/bits"
	"time"
)

const sizeHeader = 20

// MSL is the maximum segment lifetime TIME_WAIT is held for, doubled.
// RFC 793 leaves the exact value to the implementation; 30s (60s total)
// is the common BSD default and is conservative enough for a LAN-attached
// stack with no real routers in the path.
const MSL = 30 * time.Second

// Value is a TCP sequence/ack number: 32-bit, wraps around, compared with
// modular arithmetic rather than plain integer order.
type Value uint32

// Size is a count of octets in sequence-number space.
type Size uint32

// Add returns v+n in sequence-number space.
func Add(v Value, n Size) Value { return v + Value(n) }

// LessThan reports whether a precedes b in sequence space, per RFC 793's
// modular "SEG.SEQ < RCV.NXT" style comparisons.
func LessThan(a, b Value) bool { return int32(a-b) < 0 }

// InWindow reports whether v falls in [start, start+size).
func InWindow(v, start Value, size Size) bool {
	return !LessThan(v, start) && LessThan(v, Add(start, size))
}

// Flags is the TCP header's control bit field.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

const flagMask = 0x3f

func (f Flags) Mask() Flags      { return f & flagMask }
func (f Flags) Has(mask Flags) bool { return f&mask == mask }
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "[]"
	}
	const names = "FINSYNRSTPSHACKURG"
	buf := make([]byte, 0, 2+4*bits.OnesCount16(uint16(f)))
	buf = append(buf, '[')
	first := true
	for i := 0; i < 6; i++ {
		if f&(1<<i) == 0 {
			continue
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = append(buf, names[i*3:i*3+3]...)
	}
	buf = append(buf, ']')
	return string(buf)
}

// State enumerates the RFC 793 connection states this package implements.
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "INVALID"
	}
}

// IsClosed reports whether the connection has no more protocol work to do
// and can be reclaimed once its TIME_WAIT timer (if any) fires.
func (s State) IsClosed() bool { return s == StateClosed }

var (
	ErrNotOpen       = errors.New("tcp: connection not open")
	ErrAlreadyOpen   = errors.New("tcp: connection already open")
	ErrBadState      = errors.New("tcp: segment not valid in current state")
	ErrConnReset     = errors.New("tcp: connection reset by peer")
	ErrShortBuffer   = errors.New("tcp: buffer shorter than 20-byte header")
	ErrBadHeaderLen  = errors.New("tcp: header length field inconsistent with buffer")
	ErrZeroPort      = errors.New("tcp: zero source or destination port")
)
