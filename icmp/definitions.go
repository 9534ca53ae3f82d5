// Package icmp implements the ICMPv4 echo request/reply pair (RFC 792 types
// 0 and 8). Other ICMP message types exist on the wire but this stack never
// originates or answers them, so they are not modeled.
package icmp

import "errors"

const sizeHeader = 8

// Type is the ICMP message type field.
type Type uint8

const (
	TypeEchoReply Type = 0
	TypeEcho      Type = 8
)

func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "echo-reply"
	case TypeEcho:
		return "echo"
	default:
		return "unknown"
	}
}

var errShortFrame = errors.New("icmp: short frame")
