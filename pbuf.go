package rawstack

import "fmt"

// DeviceHandle is the non-owning reference a PacketBuffer keeps to the
// device it arrived on (for RX) or is destined for (for TX), used to route
// ARP replies and ICMP/UDP/TCP responses back out the interface a request
// came in on. It is implemented by stack.Device; kept as a minimal
// interface here so the packet-buffer package does not import the device
// adapter package (which in turn must import this one).
type DeviceHandle interface {
	// Name returns the interface name the device is bound to, used only
	// for logging/diagnostics.
	Name() string
}

// StackHandle is the non-owning reference a PacketBuffer keeps to the
// façade that allocated it, for the rare handler that needs to reach back
// into stack-wide state (e.g. the neighbor table) from a PB it's holding.
type StackHandle interface {
	ClaimedAddr() [4]byte
}

// PacketBuffer is a single contiguous byte region with four movable
// cursors, shared unmodified between the RX queue, every protocol handler
// on the way up, and the TX queue on the way down. No operation below ever
// reallocates or copies the backing array; push/put/pull only move
// cursors, which is what lets one buffer carry a frame through Ethernet,
// IP, and transport framing without a copy at each layer.
//
// Cursor invariant, enforced after every mutating call:
//
//	0 <= head <= dataBegin <= dataTail <= blockEnd <= len(block)
type PacketBuffer struct {
	block     []byte
	head      int
	dataBegin int
	dataTail  int
	blockEnd  int

	// Proto is the next-layer protocol tag: an EtherType value on a
	// freshly-received frame, re-tagged to an IPProto once the Ethernet
	// header has been pulled. Untyped on purpose (see ethernet/ipv4
	// packages) so this package does not depend on either.
	Proto uint16
	// MTU is a hint carried from the originating device, consulted by the
	// IP framer to decide whether to fragment on TX.
	MTU int

	LocalMAC  [6]byte
	RemoteMAC [6]byte
	LocalIP   [4]byte
	LocalPort uint16
	RemoteIP  [4]byte
	RemotePort uint16

	// Key is populated by a transport handler once it has parsed enough of
	// the segment/datagram to identify the flow; zero value until then.
	Key ConnKey

	Device DeviceHandle
	Stack  StackHandle

	// Fragments holds the sibling PacketBuffers for every IP fragment
	// beyond the first, when an outbound datagram exceeded the device MTU
	// and had to be split (see ipv4.Plan/BuildFragment in
	// stack.sendIPv4WithChecksum). A single TXQueue.Push of the first
	// fragment carries the rest along with it; RunTX walks this slice
	// after writing the parent so the whole datagram reaches the wire in
	// fragment order from one enqueue.
	Fragments []*PacketBuffer

	// next links PacketBuffers into an intrusive singly-linked queue (see
	// stack.pbQueue). A PB enqueued on more than one queue at a time would
	// corrupt both; the contract is strictly single-owner-at-a-time.
	next *PacketBuffer
}

// NewPacketBuffer allocates a PacketBuffer with the given capacity: head,
// dataBegin and dataTail at 0, blockEnd at capacity. Callers that know their final header stack up front should follow
// with Reserve so that each layer's framer only ever needs to Push, never
// grow the backing array.
func NewPacketBuffer(capacity int) *PacketBuffer {
	return &PacketBuffer{
		block:    make([]byte, capacity),
		blockEnd: capacity,
	}
}

// NewPacketBufferFrom wraps an existing byte slice (e.g. one just read from
// a device) as a PacketBuffer with the live window spanning the whole
// slice and no head/tail room reserved.
func NewPacketBufferFrom(buf []byte) *PacketBuffer {
	return &PacketBuffer{
		block:     buf,
		dataBegin: 0,
		dataTail:  len(buf),
		blockEnd:  len(buf),
	}
}

func (pb *PacketBuffer) checkInvariant() {
	if !(0 <= pb.head && pb.head <= pb.dataBegin && pb.dataBegin <= pb.dataTail && pb.dataTail <= pb.blockEnd && pb.blockEnd <= len(pb.block)) {
		panic(fmt.Sprintf("rawstack: packet buffer cursor invariant violated: head=%d dataBegin=%d dataTail=%d blockEnd=%d cap=%d",
			pb.head, pb.dataBegin, pb.dataTail, pb.blockEnd, len(pb.block)))
	}
}

// Capacity returns the size of the backing allocation.
func (pb *PacketBuffer) Capacity() int { return len(pb.block) }

// Len returns the length of the live payload window [dataBegin, dataTail).
func (pb *PacketBuffer) Len() int { return pb.dataTail - pb.dataBegin }

// Data returns the live payload window. The returned slice aliases the
// backing array; callers must not retain it past the next mutating call.
func (pb *PacketBuffer) Data() []byte { return pb.block[pb.dataBegin:pb.dataTail] }

// HeadRoom returns the number of bytes available for a Push before the
// buffer's head boundary would be crossed.
func (pb *PacketBuffer) HeadRoom() int { return pb.dataBegin - pb.head }

// TailRoom returns the number of bytes available for a Put before the
// buffer's tail boundary would be crossed.
func (pb *PacketBuffer) TailRoom() int { return pb.blockEnd - pb.dataTail }

// Push reserves n bytes of header space immediately in front of the live
// window by moving dataBegin back, and returns that region so the caller
// can write a header into it. Push panics if n exceeds HeadRoom — a
// layer asking for more header room than was reserved up front is a
// programming error, not a runtime condition to recover from.
func (pb *PacketBuffer) Push(n int) []byte {
	if n < 0 || n > pb.HeadRoom() {
		panic(fmt.Sprintf("rawstack: push(%d) exceeds head room %d", n, pb.HeadRoom()))
	}
	pb.dataBegin -= n
	pb.checkInvariant()
	return pb.block[pb.dataBegin : pb.dataBegin+n]
}

// Put extends the live window by n bytes at the tail, returning the newly
// exposed region for the caller to write payload into.
func (pb *PacketBuffer) Put(n int) []byte {
	if n < 0 || n > pb.TailRoom() {
		panic(fmt.Sprintf("rawstack: put(%d) exceeds tail room %d", n, pb.TailRoom()))
	}
	start := pb.dataTail
	pb.dataTail += n
	pb.checkInvariant()
	return pb.block[start:pb.dataTail]
}

// Pull drops n header bytes from the front of the live window, the inverse
// of Push: each RX-path layer calls Pull(its own header size) once it has
// read what it needs from the header, handing the rest upward.
func (pb *PacketBuffer) Pull(n int) {
	if n < 0 || n > pb.Len() {
		panic(fmt.Sprintf("rawstack: pull(%d) exceeds live length %d", n, pb.Len()))
	}
	pb.dataBegin += n
	pb.checkInvariant()
}

// Trim drops n bytes from the tail of the live window, shrinking it without
// touching the head. Used to clamp a datagram's length down to its
// declared total length after it has been read from a frame with trailing
// padding (e.g. Ethernet minimum-payload padding).
func (pb *PacketBuffer) Trim(n int) {
	if n < 0 || n > pb.Len() {
		panic(fmt.Sprintf("rawstack: trim(%d) exceeds live length %d", n, pb.Len()))
	}
	pb.dataTail -= n
	pb.checkInvariant()
}

// SetTail sets dataTail to an absolute offset from dataBegin, used by the
// IP handler to clamp a datagram to its header-declared total length in
// one call instead of computing a Trim delta.
func (pb *PacketBuffer) SetTail(lenFromBegin int) {
	pb.dataTail = pb.dataBegin + lenFromBegin
	pb.checkInvariant()
}

// Reserve shifts both dataBegin and dataTail forward by n, carving out n
// bytes of head room without touching any live payload. Called once right
// after allocation with n = sum of every layer's header size, so that each
// layer's framer can later call Push(itsHeaderSize) without ever running
// out of room.
func (pb *PacketBuffer) Reserve(n int) {
	if n < 0 || pb.head+n > pb.blockEnd {
		panic(fmt.Sprintf("rawstack: reserve(%d) exceeds capacity %d", n, pb.blockEnd-pb.head))
	}
	pb.dataBegin = pb.head + n
	pb.dataTail = pb.dataBegin
	pb.checkInvariant()
}

// CloneHeader copies endpoint/protocol/device/stack metadata (but never
// payload bytes) from pb into dst, the way a fragmenting IP framer stamps
// each fragment's PacketBuffer with the parent datagram's routing info
// before writing that fragment's own IP header.
func (pb *PacketBuffer) CloneHeader(dst *PacketBuffer) {
	dst.Proto = pb.Proto
	dst.MTU = pb.MTU
	dst.LocalMAC = pb.LocalMAC
	dst.RemoteMAC = pb.RemoteMAC
	dst.LocalIP = pb.LocalIP
	dst.LocalPort = pb.LocalPort
	dst.RemoteIP = pb.RemoteIP
	dst.RemotePort = pb.RemotePort
	dst.Key = pb.Key
	dst.Device = pb.Device
	dst.Stack = pb.Stack
}

// Checksum computes the RFC 1071 Internet checksum over the live payload
// window. For a frame carrying its own checksum in that window, compute
// this with the checksum field zeroed to get the value that should have
// been written there, which for an intact frame equals the carried value;
// computed with the carried value left in place, an intact frame yields 0.
func (pb *PacketBuffer) Checksum() uint16 {
	return Checksum(pb.Data())
}

// SetNext and Next implement the intrusive singly-linked-list node used by
// stack.pbQueue. Exported so the stack package (which must live in a
// different package to avoid an import cycle with this one) can splice
// PacketBuffers into its FIFOs without a wrapper allocation per enqueue.
func (pb *PacketBuffer) SetNext(n *PacketBuffer) { pb.next = n }
func (pb *PacketBuffer) Next() *PacketBuffer     { return pb.next }
