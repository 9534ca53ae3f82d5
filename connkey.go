package rawstack

import (
	"fmt"

	"github.com/soypat/rawstack/internal"
)

// IPProto identifies an IPv4 payload protocol (the Protocol field of an
// IPv4 header). Only the handful of values this stack speaks are named;
// anything else is still representable and simply goes unhandled.
type IPProto uint8

const (
	IPProtoICMP IPProto = 1
	IPProtoTCP  IPProto = 6
	IPProtoUDP  IPProto = 17
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return fmt.Sprintf("IPProto(%d)", uint8(p))
	}
}

// ConnKey is the 5-tuple identifying a flow: (local_ip, local_port,
// remote_ip, remote_port, transport_protocol). Equality is deliberately
// asymmetric, matching a BSD wildcard bind/listen: a zero LocalIP, RemoteIP
// or RemotePort in the *stored* key (typically a listening or unconnected
// socket's key) matches any concrete value in the key being looked up.
// LocalPort is never a wildcard — every socket in the tables is bound to a
// concrete local port by the time it is registered.
type ConnKey struct {
	LocalIP    [4]byte
	LocalPort  uint16
	RemoteIP   [4]byte
	RemotePort uint16
	Proto      IPProto
}

func (k ConnKey) String() string {
	return fmt.Sprintf("%s %d.%d.%d.%d:%d<-%d.%d.%d.%d:%d",
		k.Proto,
		k.LocalIP[0], k.LocalIP[1], k.LocalIP[2], k.LocalIP[3], k.LocalPort,
		k.RemoteIP[0], k.RemoteIP[1], k.RemoteIP[2], k.RemoteIP[3], k.RemotePort)
}

func isZero4(ip [4]byte) bool { return ip == [4]byte{} }

// Matches reports whether the stored key k accepts an inbound flow
// identified by concrete (equality is checked field by field so a zero
// field in k acts as a wildcard; a zero field in concrete never matches a
// non-zero field in k, since concrete flows are always fully specified).
func (k ConnKey) Matches(concrete ConnKey) bool {
	if k.Proto != concrete.Proto || k.LocalPort != concrete.LocalPort {
		return false
	}
	if !isZero4(k.LocalIP) && k.LocalIP != concrete.LocalIP {
		return false
	}
	if !isZero4(k.RemoteIP) && k.RemoteIP != concrete.RemoteIP {
		return false
	}
	if k.RemotePort != 0 && k.RemotePort != concrete.RemotePort {
		return false
	}
	return true
}

// IsWildcard reports whether k has at least one wildcard field, i.e. it can
// match more than one concrete flow.
func (k ConnKey) IsWildcard() bool {
	return isZero4(k.LocalIP) || isZero4(k.RemoteIP) || k.RemotePort == 0
}

// HashNonWildcard returns a hash computed only over fields that can never
// be a wildcard in a lookup key (LocalPort and Proto), so that a wildcard
// stored key and the concrete key it ought to match land in the same hash
// bucket. Callers must still re-check Matches against candidates in that
// bucket — this is deliberately a coarser hash than the full tuple would
// give, to avoid false misses against wildcard entries (see ConnKey docs).
func (k ConnKey) HashNonWildcard() uint32 {
	var buf [3]byte
	buf[0] = byte(k.LocalPort >> 8)
	buf[1] = byte(k.LocalPort)
	buf[2] = byte(k.Proto)
	return internal.JenkinsOneAtATime(buf[:])
}
