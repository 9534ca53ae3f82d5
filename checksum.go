package rawstack

import "encoding/binary"

// CRC791 accumulates the RFC 1071 / RFC 791 Internet checksum: the 16-bit
// ones'-complement of the ones'-complement sum of all 16-bit words in the
// region, with an odd trailing byte treated as LSB-padded with a zero byte.
// The zero value is ready to use. IPv4, ICMP, UDP and TCP headers all use
// this same algorithm, differing only in what gets summed (TCP/UDP prepend
// a pseudo-header that never goes on the wire).
type CRC791 struct {
	sum uint32
}

// Reset zeros the running sum so the CRC791 can be reused for another frame.
func (c *CRC791) Reset() { c.sum = 0 }

// AddUint16 folds a single big-endian 16-bit value into the running sum.
func (c *CRC791) AddUint16(v uint16) { c.sum += uint32(v) }

// AddUint32 folds a 32-bit value into the running sum as two 16-bit words.
func (c *CRC791) AddUint32(v uint32) {
	c.AddUint16(uint16(v >> 16))
	c.AddUint16(uint16(v))
}

// Write folds an even-length byte slice into the running sum. It panics if
// given an odd length; callers with a possibly-odd trailing region should
// use WriteLast for the final call.
func (c *CRC791) Write(buf []byte) {
	if len(buf)%2 != 0 {
		panic("rawstack: CRC791.Write requires even length; use WriteLast for odd-length input")
	}
	c.sum = sumWords(c.sum, buf)
}

// WriteLast folds buf into the running sum, correctly handling an odd final
// byte as if followed by a zero byte per RFC 1071. Use this for the last
// (or only) call against a region whose length may be odd.
func (c *CRC791) WriteLast(buf []byte) {
	even := len(buf) &^ 1
	c.sum = sumWords(c.sum, buf[:even])
	if len(buf)%2 != 0 {
		c.sum += uint32(buf[len(buf)-1]) << 8
	}
}

// Sum16 folds the running 32-bit sum down to its ones'-complement 16-bit
// checksum, ready to be written to the wire in network byte order.
func (c *CRC791) Sum16() uint16 {
	sum := c.sum
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + sum>>16
	}
	return ^uint16(sum)
}

func sumWords(sum uint32, buf []byte) uint32 {
	for i := 0; i < len(buf); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buf[i:]))
	}
	return sum
}

// NeverZeroChecksum rewrites a zero checksum as the equivalent all-ones
// value: 0x0000 and 0xffff represent the same quantity in ones'-complement
// arithmetic, but UDP reserves an on-wire zero checksum to mean "no
// checksum computed".
func NeverZeroChecksum(sum16 uint16) uint16 {
	if sum16 == 0 {
		return 0xffff
	}
	return sum16
}

// Checksum computes the RFC 1071 Internet checksum of buf directly, for
// callers that don't need to accumulate across several non-contiguous
// regions (e.g. a pseudo-header followed by a payload — use CRC791 for
// that case instead).
func Checksum(buf []byte) uint16 {
	var c CRC791
	c.WriteLast(buf)
	return c.Sum16()
}
