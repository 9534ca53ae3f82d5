//go:build linux

package stack

import (
	"log/slog"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/arp"
	"github.com/soypat/rawstack/ethernet"
	"github.com/soypat/rawstack/icmp"
	"github.com/soypat/rawstack/internal"
	"github.com/soypat/rawstack/ipv4"
	"github.com/soypat/rawstack/tcp"
	"github.com/soypat/rawstack/udp"
)

const sizeEthHeader = 14
const sizeIPHeader = 20

// dispatcher holds the RX-path wiring shared by every device: the claimed
// address, ARP/IP/TCP state, and the socket registry data reaches once
// demultiplexed. A single dispatcher can serve several devices at once,
// matching spec.md's one-subnet, any-number-of-interfaces model.
type dispatcher struct {
	log         *slog.Logger
	claimedAddr [4]byte
	arpHandler  *arp.Handler
	neighbors   *NeighborTable
	reassembler *ipv4.Reassembler
	tcpTable    *tcp.Table
	fds         *FDTable
	ipIDSeed    uint16
}

func (s *dispatcher) nextIPID() uint16 {
	s.ipIDSeed = internal.Prand16(s.ipIDSeed + 1)
	return s.ipIDSeed
}

// rxLoop drains a device's RX queue until it is closed or a read error
// shut the producing RunRX thread down.
func (s *dispatcher) rxLoop(d *LinuxDevice) error {
	for {
		pb, err := d.RXQueue().Pop()
		if err != nil {
			return nil
		}
		s.handleFrame(pb, d)
	}
}

func (s *dispatcher) handleFrame(pb *rawstack.PacketBuffer, d *LinuxDevice) {
	switch ethernet.Type(pb.Proto) {
	case ethernet.TypeARP:
		s.handleARP(pb, d)
	case ethernet.TypeIPv4:
		s.handleIPv4(pb, d)
	default:
		s.log.Debug("dropping frame with unhandled ethertype",
			"ethertype", ethernet.Type(pb.Proto), internal.SlogAddr6("src", &pb.RemoteMAC))
	}
}

func (s *dispatcher) handleARP(pb *rawstack.PacketBuffer, d *LinuxDevice) {
	f, err := arp.NewFrame(pb.Data())
	if err != nil {
		s.log.Debug("short ARP frame", "err", err)
		return
	}
	ip, mac := s.arpHandler.Observe(f)
	s.neighbors.Observe(ip, mac)
	if !s.arpHandler.IsRequestForUs(f) {
		return
	}
	s.arpHandler.BuildReply(f)
	pb.RemoteMAC = *f.TargetHW() // post-swap, the original requester.
	pb.Proto = uint16(ethernet.TypeARP)
	d.TXQueue().Push(pb)
}

func (s *dispatcher) handleIPv4(pb *rawstack.PacketBuffer, d *LinuxDevice) {
	ifrm, err := ipv4.NewFrame(pb.Data())
	if err != nil {
		s.log.Debug("short IPv4 frame", "err", err)
		return
	}
	var v rawstack.Validator
	ifrm.ValidateExceptCRC(&v)
	if v.HasError() {
		s.log.Debug("malformed IPv4 header", "err", v.Err())
		return
	}
	if ifrm.CalculateHeaderCRC() != ifrm.CRC() {
		s.log.Debug("dropping IPv4 datagram with bad header checksum",
			internal.SlogAddr4("src", ifrm.SourceAddr()), internal.SlogAddr4("dst", ifrm.DestinationAddr()))
		return
	}
	if *ifrm.DestinationAddr() != s.claimedAddr {
		return // no routing beyond the claimed address (non-goal).
	}

	srcIP := *ifrm.SourceAddr()
	proto := ifrm.Protocol()
	flags := ifrm.Flags()
	payload := ifrm.Payload()

	var full []byte
	if flags.MoreFragments() || flags.FragmentOffset() != 0 {
		key := ipv4.FragKey{SrcIP: srcIP, DstIP: s.claimedAddr, ID: ifrm.ID(), Proto: proto}
		reassembled, ok := s.reassembler.Add(key, int(flags.FragmentOffset())*8, flags.MoreFragments(), payload)
		if !ok {
			return
		}
		full = reassembled
	} else {
		full = payload
	}

	switch proto {
	case rawstack.IPProtoICMP:
		s.handleICMP(full, srcIP, pb.RemoteMAC, d)
	case rawstack.IPProtoUDP:
		s.handleUDP(full, srcIP, pb.RemoteMAC, d)
	case rawstack.IPProtoTCP:
		s.handleTCP(full, srcIP, pb.RemoteMAC, d)
	default:
		s.log.Debug("dropping unsupported IP protocol", "proto", proto, internal.SlogAddr4("src", &srcIP))
	}
}

// pseudoIPv4Header stamps buf (exactly sizeIPHeader bytes) with just the
// fields an RX-side transport checksum needs from the IP layer: source,
// destination and protocol for the pseudo-header, and a total length that
// reflects the real (possibly reassembled) segment length rather than
// whatever a single wire fragment's own header carried.
func (s *dispatcher) pseudoIPv4Header(buf []byte, srcIP [4]byte, proto rawstack.IPProto, payloadLen int) ipv4.Frame {
	pfrm, _ := ipv4.NewFrame(buf)
	pfrm.ClearHeader()
	pfrm.SetVersionAndIHL(4, 5)
	pfrm.SetTotalLength(uint16(sizeIPHeader + payloadLen))
	pfrm.SetProtocol(proto)
	*pfrm.SourceAddr() = srcIP
	*pfrm.DestinationAddr() = s.claimedAddr
	return pfrm
}

func (s *dispatcher) handleICMP(payload []byte, srcIP [4]byte, srcMAC [6]byte, d *LinuxDevice) {
	f, err := icmp.NewFrame(payload)
	if err != nil {
		return
	}
	var v rawstack.Validator
	f.ValidateSize(&v)
	if v.HasError() {
		return
	}
	if f.CalculateCRC() != f.CRC() {
		s.log.Debug("dropping ICMP packet with bad checksum", internal.SlogAddr4("src", &srcIP))
		return
	}
	if f.Type() != icmp.TypeEcho {
		return
	}
	if err := icmp.BuildReply(f); err != nil {
		return
	}
	s.sendIPv4(rawstack.IPProtoICMP, srcIP, srcMAC, f.RawData(), d)
}

func (s *dispatcher) handleUDP(payload []byte, srcIP [4]byte, srcMAC [6]byte, d *LinuxDevice) {
	ufrm, err := udp.NewFrame(payload)
	if err != nil {
		return
	}
	var v rawstack.Validator
	ufrm.ValidateSize(&v)
	if v.HasError() {
		return
	}
	// A carried checksum of zero means "none computed", RFC 768's
	// opt-out convention; anything else must match.
	if crc := ufrm.CRC(); crc != 0 {
		var hdr [sizeIPHeader]byte
		pfrm := s.pseudoIPv4Header(hdr[:], srcIP, rawstack.IPProtoUDP, len(payload))
		if ufrm.CalculateIPv4Checksum(pfrm) != crc {
			s.log.Debug("dropping UDP datagram with bad checksum", internal.SlogAddr4("src", &srcIP))
			return
		}
	}
	key := rawstack.ConnKey{
		LocalIP: s.claimedAddr, LocalPort: ufrm.DestinationPort(),
		RemoteIP: srcIP, RemotePort: ufrm.SourcePort(),
		Proto: rawstack.IPProtoUDP,
	}
	s.fds.DeliverUDP(key, ufrm.Payload())
}

func (s *dispatcher) handleTCP(payload []byte, srcIP [4]byte, srcMAC [6]byte, d *LinuxDevice) {
	tfrm, err := tcp.NewFrame(payload)
	if err != nil {
		return
	}
	var v rawstack.Validator
	tfrm.ValidateSize(&v)
	if v.HasError() {
		return
	}
	var hdr [sizeIPHeader]byte
	pfrm := s.pseudoIPv4Header(hdr[:], srcIP, rawstack.IPProtoTCP, len(payload))
	if tfrm.CalculateIPv4Checksum(pfrm) != tfrm.CRC() {
		s.log.Debug("dropping TCP segment with bad checksum", internal.SlogAddr4("src", &srcIP))
		return
	}
	_, flags := tfrm.OffsetAndFlags()
	key := rawstack.ConnKey{
		LocalIP: s.claimedAddr, LocalPort: tfrm.DestinationPort(),
		RemoteIP: srcIP, RemotePort: tfrm.SourcePort(),
		Proto: rawstack.IPProtoTCP,
	}
	seg := tcp.Segment{Seq: tfrm.Seq(), Ack: tfrm.Ack(), Window: tfrm.WindowSize(), Flags: flags, Payload: tfrm.Payload()}

	if conn, ok := s.tcpTable.Lookup(key); ok {
		act := conn.Recv(seg)
		s.applyTCPAction(conn, key, act, srcIP, srcMAC, d)
		return
	}

	if flags.Has(tcp.FlagSYN) && !flags.Any(tcp.FlagACK) {
		l, ok := s.tcpTable.LookupListener(key)
		if !ok {
			return
		}
		iss := tcp.Value(s.nextIPID())<<16 | tcp.Value(s.nextIPID())
		synAck, admitted := l.HandleSyn(key, iss, seg.Seq)
		if !admitted {
			return
		}
		s.sendTCPSegment(key, synAck, srcMAC, d)
		return
	}

	if l, ok := s.tcpTable.LookupListener(key); ok {
		conn, act, known := l.HandleAck(key, seg)
		if !known {
			return
		}
		if conn.State == tcp.StateEstablished {
			s.tcpTable.AddConn(conn)
		}
		s.applyTCPAction(conn, key, act, srcIP, srcMAC, d)
	}
}

func (s *dispatcher) applyTCPAction(conn *tcp.Conn, key rawstack.ConnKey, act tcp.Action, srcIP [4]byte, srcMAC [6]byte, d *LinuxDevice) {
	if act.Deliver != nil || conn.State == tcp.StateCloseWait {
		s.fds.DeliverTCPData(conn, act.Deliver, conn.State == tcp.StateCloseWait)
	}
	if act.Send {
		s.sendTCPSegment(key, act.SendSeg, srcMAC, d)
	}
	if act.Drop {
		s.tcpTable.RemoveConn(key)
	}
}

// sendTCPSegment frames and transmits one outbound TCP segment for an
// established or closing connection identified by key (local/remote
// already resolved from the inbound flow that triggered this reply).
func (s *dispatcher) sendTCPSegment(key rawstack.ConnKey, seg tcp.Segment, dstMAC [6]byte, d *LinuxDevice) {
	buf := make([]byte, sizeHeader20+len(seg.Payload))
	copy(buf[sizeHeader20:], seg.Payload)
	tfrm, err := tcp.NewFrame(buf)
	if err != nil {
		return
	}
	tfrm.SetHeader(key.LocalPort, key.RemotePort, seg.Seq, seg.Ack, seg.Flags)

	// fixChecksum runs against whatever buffer ifrm actually wraps (the
	// packet buffer's copy, not buf), so it re-derives a Frame view over
	// ifrm.Payload() rather than closing over tfrm/buf directly.
	s.sendIPv4WithChecksum(rawstack.IPProtoTCP, key.RemoteIP, dstMAC, buf, func(ifrm ipv4.Frame) {
		t2, err := tcp.NewFrame(ifrm.Payload())
		if err != nil {
			return
		}
		t2.SetCRC(0)
		t2.SetCRC(t2.CalculateIPv4Checksum(ifrm))
	}, d)
}

const sizeHeader20 = 20
const sizeUDPHeader = 8

// sendUDPDatagram frames and transmits one UDP datagram for the given
// flow key (already carrying both endpoints, from FDTable.SendTo).
func (s *dispatcher) sendUDPDatagram(key rawstack.ConnKey, payload []byte, dstMAC [6]byte, d *LinuxDevice) {
	buf := make([]byte, sizeUDPHeader+len(payload))
	copy(buf[sizeUDPHeader:], payload)
	ufrm, err := udp.NewFrame(buf)
	if err != nil {
		return
	}
	ufrm.SetSourcePort(key.LocalPort)
	ufrm.SetDestinationPort(key.RemotePort)
	ufrm.SetLength(uint16(len(buf)))

	s.sendIPv4WithChecksum(rawstack.IPProtoUDP, key.RemoteIP, dstMAC, buf, func(ifrm ipv4.Frame) {
		u2, err := udp.NewFrame(ifrm.Payload())
		if err != nil {
			return
		}
		u2.SetCRC(0)
		u2.SetCRC(u2.CalculateIPv4Checksum(ifrm))
	}, d)
}

// sendIPv4 wraps payload (already complete, e.g. an ICMP reply) in a fresh
// IPv4 datagram addressed to dstIP/dstMAC and pushes it to the device's TX
// queue, fragmenting via ipv4.Plan/BuildFragment if it would exceed the
// device MTU.
func (s *dispatcher) sendIPv4(proto rawstack.IPProto, dstIP [4]byte, dstMAC [6]byte, payload []byte, d *LinuxDevice) {
	s.sendIPv4WithChecksum(proto, dstIP, dstMAC, payload, nil, d)
}

func (s *dispatcher) sendIPv4WithChecksum(proto rawstack.IPProto, dstIP [4]byte, dstMAC [6]byte, payload []byte, fixChecksum func(ipv4.Frame), d *LinuxDevice) {
	mtu := d.MTU()
	id := s.nextIPID()

	if sizeIPHeader+len(payload) <= mtu {
		pb := rawstack.NewPacketBuffer(sizeEthHeader + sizeIPHeader + len(payload))
		pb.Reserve(sizeEthHeader)
		copy(pb.Put(len(payload)), payload)
		pb.Push(sizeIPHeader)
		ifrm, _ := ipv4.NewFrame(pb.Data())
		s.stampIPHeader(ifrm, proto, dstIP, id, len(payload))
		if fixChecksum != nil {
			// ifrm wraps pb.Data(), whose bytes after the IP header are the
			// copied payload, so the checksum callback sees the final IP
			// header via ifrm's pseudo-header helpers and patches the bytes
			// that go on the wire.
			fixChecksum(ifrm)
		}
		pb.Proto = uint16(ethernet.TypeIPv4)
		pb.RemoteMAC = dstMAC
		d.TXQueue().Push(pb)
		return
	}

	pieces, err := ipv4.Plan(len(payload), mtu)
	if err != nil {
		s.log.Debug("payload cannot be fragmented under device MTU", "err", err)
		return
	}
	if fixChecksum != nil {
		// Checksums are computed over the unfragmented datagram; stamp a
		// throwaway full-size frame first so CalculateIPv4Checksum sees the
		// real pseudo-header length, then slice per fragment below.
		tmp := make([]byte, sizeIPHeader+len(payload))
		copy(tmp[sizeIPHeader:], payload)
		tmpFrame, _ := ipv4.NewFrame(tmp)
		s.stampIPHeader(tmpFrame, proto, dstIP, id, len(payload))
		fixChecksum(tmpFrame)
		copy(payload, tmp[sizeIPHeader:])
	}
	// Every fragment beyond the first is attached to the first PB's
	// Fragments slice instead of pushed to the TX queue individually, so
	// the whole datagram reaches the wire from one Push and RunTX's walk
	// over pb.Fragments (device_linux.go) keeps fragment order intact.
	var first *rawstack.PacketBuffer
	for _, piece := range pieces {
		pb := rawstack.NewPacketBuffer(sizeEthHeader + sizeIPHeader + piece.Len)
		pb.Reserve(sizeEthHeader)
		copy(pb.Put(piece.Len), payload[piece.Offset:piece.Offset+piece.Len])
		pb.Push(sizeIPHeader)
		_, err := ipv4.BuildFragment(pb.Data(), ipv4.FragmentParams{
			SrcIP: s.claimedAddr, DstIP: dstIP, ID: id, TTL: 64, Proto: proto,
		}, piece)
		if err != nil {
			s.log.Debug("failed to build fragment", "err", err)
			continue
		}
		pb.Proto = uint16(ethernet.TypeIPv4)
		pb.RemoteMAC = dstMAC
		if first == nil {
			first = pb
		} else {
			first.Fragments = append(first.Fragments, pb)
		}
	}
	if first != nil {
		d.TXQueue().Push(first)
	}
}

func (s *dispatcher) stampIPHeader(ifrm ipv4.Frame, proto rawstack.IPProto, dstIP [4]byte, id uint16, payloadLen int) {
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(sizeIPHeader + payloadLen))
	ifrm.SetID(id)
	ifrm.SetTTL(64)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = s.claimedAddr
	*ifrm.DestinationAddr() = dstIP
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
}
