// Package looptest gives protocol and stack tests an in-memory substitute
// for a live NIC: two FIFOs standing in for the two ends of a wire, plus a
// deterministic packet generator and a minimal pcap writer/reader so a
// captured exchange can be replayed as a literal byte sequence. Grounded on
// the teacher's internal/ltesto package, which served the same role for its
// own test suite but spoke the lneto import path; this one speaks plain
// Ethernet/IPv4/TCP frames instead of carrying any stack-specific type.
package looptest

// Wire is a full-duplex in-memory Ethernet link between two endpoints. Each
// direction is its own bounded channel of already-framed bytes (dst MAC
// through payload, no trailing FCS), so a test can hand one endpoint to
// each simulated host and pump frames between them without a real socket.
type Wire struct {
	toB chan []byte
	toA chan []byte
}

// NewWire allocates a Wire whose each direction can hold buffer frames
// before Send starts dropping the newest one, mirroring a real link
// dropping frames under congestion rather than blocking the sender.
func NewWire(buffer int) *Wire {
	return &Wire{
		toB: make(chan []byte, buffer),
		toA: make(chan []byte, buffer),
	}
}

// EndA returns the wire's A-side endpoint: Send writes toward B, Recv reads
// what B sent.
func (w *Wire) EndA() *Endpoint { return &Endpoint{send: w.toB, recv: w.toA} }

// EndB returns the wire's B-side endpoint, the mirror image of EndA.
func (w *Wire) EndB() *Endpoint { return &Endpoint{send: w.toA, recv: w.toB} }

// Endpoint is one side of a Wire.
type Endpoint struct {
	send, recv chan []byte
}

// Send enqueues a copy of frame toward the other endpoint. A full wire
// drops the new frame silently; stack.PBQueue.Push drops the oldest
// queued item instead.
func (e *Endpoint) Send(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case e.send <- cp:
	default:
	}
}

// Recv returns the next queued frame without blocking; ok is false if none
// is pending yet.
func (e *Endpoint) Recv() (frame []byte, ok bool) {
	select {
	case f := <-e.recv:
		return f, true
	default:
		return nil, false
	}
}

// Pending reports how many frames are queued for this endpoint to Recv.
func (e *Endpoint) Pending() int { return len(e.recv) }

// Drain calls handle once per frame currently queued, in arrival order,
// stopping as soon as the endpoint runs dry. A test pumps one side fully
// with Drain before letting the other side react, keeping the exchange
// deterministic instead of racing two goroutines against each other.
func (e *Endpoint) Drain(handle func(frame []byte)) {
	for {
		f, ok := e.Recv()
		if !ok {
			return
		}
		handle(f)
	}
}
