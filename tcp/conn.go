package tcp

import (
	"time"

	"github.com/soypat/rawstack"
)

// Segment is the minimal view of an inbound TCP segment the state machine
// needs: header fields already parsed by the caller from a Frame, payload
// handed over separately so Conn never depends on the Frame/byte-slice
// representation.
type Segment struct {
	Seq     Value
	Ack     Value
	Window  uint16
	Flags   Flags
	Payload []byte
}

// Action tells the caller what to do after feeding a Segment (or a local
// Close/Send call) into a Conn: whether to emit a segment, deliver payload
// to the socket's read side, and whether the connection table should drop
// this Conn now.
type Action struct {
	Send    bool
	SendSeg Segment
	Deliver []byte
	Drop    bool // Conn has reached CLOSED and can be forgotten.
}

// Conn is one TCP connection's protocol state: RFC 793's control block,
// trimmed to the subset spec.md requires (no retransmission queue, no
// congestion window, no SACK/timestamps bookkeeping).
type Conn struct {
	Key   rawstack.ConnKey
	State State

	sndNxt Value // next sequence number to send
	sndUna Value // oldest unacknowledged sequence number
	rcvNxt Value // next sequence number expected from peer

	peerWindow uint16

	timeWaitDeadline time.Time
}

// NewActive initializes a Conn for an active open (connect()): caller must
// send the returned SYN segment.
func NewActive(key rawstack.ConnKey, iss Value) (*Conn, Segment) {
	c := &Conn{Key: key, State: StateSynSent, sndNxt: iss + 1, sndUna: iss}
	return c, Segment{Seq: iss, Flags: FlagSYN}
}

// NewPassive initializes a Conn reacting to an inbound SYN on a listening
// socket: caller must send the returned SYN+ACK.
func NewPassive(key rawstack.ConnKey, iss Value, peerSeq Value) (*Conn, Segment) {
	c := &Conn{
		Key:    key,
		State:  StateSynReceived,
		sndNxt: iss + 1,
		sndUna: iss,
		rcvNxt: peerSeq + 1,
	}
	return c, Segment{Seq: iss, Ack: c.rcvNxt, Flags: FlagSYN | FlagACK}
}

// Recv feeds an inbound segment into the state machine and reports what the
// caller should do in response. Segments are assumed in order: a
// data-bearing or FIN segment whose Seq does not match rcvNxt is simply
// ignored rather than reordered or NAK'd (spec.md leaves out-of-order
// handling a non-goal).
func (c *Conn) Recv(seg Segment) Action {
	c.peerWindow = seg.Window
	switch c.State {
	case StateSynSent:
		return c.recvSynSent(seg)
	case StateSynReceived:
		return c.recvSynReceived(seg)
	case StateEstablished:
		return c.recvEstablished(seg)
	case StateFinWait1:
		return c.recvFinWait1(seg)
	case StateFinWait2:
		return c.recvFinWait2(seg)
	case StateClosing:
		return c.recvClosing(seg)
	case StateLastAck:
		return c.recvLastAck(seg)
	default: // CLOSE_WAIT, TIME_WAIT, CLOSED, LISTEN: nothing to do here.
		return Action{}
	}
}

func (c *Conn) recvSynSent(seg Segment) Action {
	if seg.Flags.Any(FlagRST) {
		c.State = StateClosed
		return Action{Drop: true}
	}
	if !seg.Flags.Has(FlagSYN|FlagACK) || seg.Ack != c.sndNxt {
		return Action{}
	}
	c.rcvNxt = seg.Seq + 1
	c.sndUna = seg.Ack
	c.State = StateEstablished
	return Action{Send: true, SendSeg: Segment{Seq: c.sndNxt, Ack: c.rcvNxt, Flags: FlagACK}}
}

func (c *Conn) recvSynReceived(seg Segment) Action {
	if seg.Flags.Any(FlagRST) {
		c.State = StateClosed
		return Action{Drop: true}
	}
	if !seg.Flags.Any(FlagACK) || seg.Ack != c.sndNxt {
		return Action{}
	}
	c.sndUna = seg.Ack
	c.State = StateEstablished
	return Action{}
}

// recvEstablished implements steady-state cumulative-ACK data transfer and
// detects the start of a passive or simultaneous close.
func (c *Conn) recvEstablished(seg Segment) Action {
	var act Action
	if len(seg.Payload) > 0 && seg.Seq == c.rcvNxt {
		act.Deliver = seg.Payload
		c.rcvNxt = Add(c.rcvNxt, Size(len(seg.Payload)))
	}
	if seg.Flags.Any(FlagACK) && !LessThan(seg.Ack, c.sndUna) {
		c.sndUna = seg.Ack
	}
	if seg.Flags.Any(FlagFIN) && Add(seg.Seq, Size(len(seg.Payload))) == c.rcvNxt {
		c.rcvNxt++
		c.State = StateCloseWait
		act.Send = true
		act.SendSeg = Segment{Seq: c.sndNxt, Ack: c.rcvNxt, Flags: FlagACK}
		return act
	}
	if act.Deliver != nil {
		act.Send = true
		act.SendSeg = Segment{Seq: c.sndNxt, Ack: c.rcvNxt, Flags: FlagACK}
	}
	return act
}

func (c *Conn) recvFinWait1(seg Segment) Action {
	ackedOurFin := seg.Flags.Any(FlagACK) && seg.Ack == c.sndNxt
	gotFin := seg.Flags.Any(FlagFIN) && Add(seg.Seq, Size(len(seg.Payload))) == c.rcvNxt
	if gotFin {
		c.rcvNxt++
	}
	switch {
	case ackedOurFin && gotFin:
		c.enterTimeWait()
		return Action{Send: true, SendSeg: Segment{Seq: c.sndNxt, Ack: c.rcvNxt, Flags: FlagACK}}
	case ackedOurFin:
		c.State = StateFinWait2
		return Action{}
	case gotFin:
		c.State = StateClosing
		return Action{Send: true, SendSeg: Segment{Seq: c.sndNxt, Ack: c.rcvNxt, Flags: FlagACK}}
	}
	return Action{}
}

func (c *Conn) recvFinWait2(seg Segment) Action {
	if len(seg.Payload) > 0 && seg.Seq == c.rcvNxt {
		c.rcvNxt = Add(c.rcvNxt, Size(len(seg.Payload)))
	}
	if !seg.Flags.Any(FlagFIN) || Add(seg.Seq, Size(len(seg.Payload))) != c.rcvNxt {
		return Action{}
	}
	c.rcvNxt++
	c.enterTimeWait()
	return Action{Send: true, SendSeg: Segment{Seq: c.sndNxt, Ack: c.rcvNxt, Flags: FlagACK}}
}

func (c *Conn) recvClosing(seg Segment) Action {
	if seg.Flags.Any(FlagACK) && seg.Ack == c.sndNxt {
		c.enterTimeWait()
	}
	return Action{}
}

func (c *Conn) recvLastAck(seg Segment) Action {
	if seg.Flags.Any(FlagACK) && seg.Ack == c.sndNxt {
		c.State = StateClosed
		return Action{Drop: true}
	}
	return Action{}
}

func (c *Conn) enterTimeWait() {
	c.State = StateTimeWait
	c.timeWaitDeadline = time.Now().Add(2 * MSL)
}

// TimeWaitExpired reports whether a Conn parked in TIME_WAIT has held the
// 2*MSL quiet period and can now be reclaimed.
func (c *Conn) TimeWaitExpired(now time.Time) bool {
	return c.State == StateTimeWait && !now.Before(c.timeWaitDeadline)
}

// Send prepares an outbound data segment carrying payload, advancing
// sndNxt; the caller still must frame and transmit it. Send only applies
// in ESTABLISHED or CLOSE_WAIT — the peer may still read after we've seen
// its FIN.
func (c *Conn) Send(payload []byte) (Segment, error) {
	if c.State != StateEstablished && c.State != StateCloseWait {
		return Segment{}, ErrNotOpen
	}
	seg := Segment{Seq: c.sndNxt, Ack: c.rcvNxt, Flags: FlagACK, Payload: payload}
	if len(payload) > 0 {
		seg.Flags |= FlagPSH
	}
	c.sndNxt = Add(c.sndNxt, Size(len(payload)))
	return seg, nil
}

// Close begins the active-close path: emits our FIN and moves to
// FIN_WAIT_1 (from ESTABLISHED), or to LAST_ACK (from CLOSE_WAIT — the
// passive-close peer finishing its own half after delivering EOF to its
// reader).
func (c *Conn) Close() (Segment, error) {
	switch c.State {
	case StateEstablished:
		c.State = StateFinWait1
	case StateCloseWait:
		c.State = StateLastAck
	default:
		return Segment{}, ErrBadState
	}
	seg := Segment{Seq: c.sndNxt, Ack: c.rcvNxt, Flags: FlagFIN | FlagACK}
	c.sndNxt++
	return seg, nil
}
