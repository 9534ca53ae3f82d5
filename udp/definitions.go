// Package udp implements RFC 768 UDP: header codec and pseudo-header
// checksum. Demultiplexing by connection key (including wildcard matching)
// lives in the stack façade, not here.
package udp

import "errors"

const sizeHeader = 8

var (
	errBadLen = errors.New("udp: bad UDP length")
	errShort  = errors.New("udp: short buffer")
)
