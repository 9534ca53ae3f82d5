package icmp

import "errors"

var errNotEcho = errors.New("icmp: not an echo request")

// BuildReply turns an echo request frame into the matching echo reply in
// place: same identifier, sequence number and data, type changed to
// echo-reply, checksum recomputed. f must be an echo request; callers
// dispatch on Type() before calling this, mirroring the ARP handler's
// IsRequestForUs/BuildReply split.
func BuildReply(f Frame) error {
	if f.Type() != TypeEcho {
		return errNotEcho
	}
	f.SetType(TypeEchoReply)
	f.SetCode(0)
	f.SetCRC(0)
	f.SetCRC(f.CalculateCRC())
	return nil
}
