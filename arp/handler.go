package arp

import (
	"errors"

	"github.com/soypat/rawstack/ethernet"
	"golang.org/x/time/rate"
)

// Handler answers ARP requests for one claimed IPv4 address and builds
// on-demand who-has probes. It holds no neighbor state itself — spec.md
// keeps the neighbor table a separate component (C3) — callers feed every
// observed (sender IP, sender MAC) pair from Observe into their own table.
type Handler struct {
	mac     [6]byte
	ip      [4]byte
	limiter *rate.Limiter
}

// NewHandler constructs a Handler claiming ip with hardware address mac.
// probeRate/probeBurst bound how often BuildRequest is willing to emit a
// fresh who-has probe, so a burst of unresolved sends on a hot TX path
// cannot flood the wire (spec.md leaves probe pacing unspecified; this is
// the one place this implementation adds a policy beyond the letter of
// spec.md, see SPEC_FULL.md §2/§6).
func NewHandler(mac [6]byte, ip [4]byte, probeRate rate.Limit, probeBurst int) *Handler {
	return &Handler{
		mac:     mac,
		ip:      ip,
		limiter: rate.NewLimiter(probeRate, probeBurst),
	}
}

// SetAddr updates the claimed IPv4 address, e.g. after the stack façade's
// address changes.
func (h *Handler) SetAddr(ip [4]byte) { h.ip = ip }

// Observe extracts the sender (IP, MAC) pair from any valid ARP frame,
// request or reply alike: spec.md §4.4 requires feeding the neighbor table
// from both directions, not just replies.
func (h *Handler) Observe(f Frame) (senderIP [4]byte, senderMAC [6]byte) {
	return *f.SenderProto(), *f.SenderHW()
}

// IsRequestForUs reports whether f is a request whose target protocol
// address is the address this Handler claims.
func (h *Handler) IsRequestForUs(f Frame) bool {
	return f.Operation() == OpRequest && *f.TargetProto() == h.ip
}

// BuildReply turns a request frame targeting our address into the matching
// reply in place: swap sender/target, overwrite the new sender fields with
// our own address, and set the opcode to reply. f must satisfy
// IsRequestForUs; BuildReply does not check this itself so that a caller
// who already branched on IsRequestForUs doesn't pay for the check twice.
func (h *Handler) BuildReply(f Frame) {
	f.SwapSenderTarget()
	f.SetOperation(OpReply)
	*f.SenderHW() = h.mac
	*f.SenderProto() = h.ip
}

var errProbeThrottled = errors.New("arp: probe rate limited")

// BuildRequest writes a who-has broadcast request for target into buf
// (which must be at least 28 bytes), returning the frame to hand to the
// device's TX path. The caller never blocks waiting for a reply: any
// answering reply arrives later through the normal RX path and is picked
// up by Observe; the in-flight transmission that triggered the probe is
// expected to be retried by its caller (spec.md §7(d)).
func (h *Handler) BuildRequest(buf []byte, target [4]byte) (Frame, error) {
	if !h.limiter.Allow() {
		return Frame{}, errProbeThrottled
	}
	f, err := NewFrame(buf)
	if err != nil {
		return Frame{}, err
	}
	f.ClearHeader()
	f.SetHardwareType(1)
	f.SetProtocolType(ethernet.TypeIPv4)
	f.SetAddrLens()
	f.SetOperation(OpRequest)
	*f.SenderHW() = h.mac
	*f.SenderProto() = h.ip
	*f.TargetProto() = target
	return f, nil
}
