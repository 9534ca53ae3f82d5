//go:build linux

// Package stack wires the protocol packages (arp, ipv4, icmp, udp, tcp)
// together into a running userspace TCP/IP stack over a raw AF_PACKET
// device: device adapter (C2), neighbor table (C3), RX/TX dispatch (C10),
// and the socket registry applications drive (C9).
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/arp"
	"github.com/soypat/rawstack/ethernet"
	"github.com/soypat/rawstack/ipv4"
	"github.com/soypat/rawstack/tcp"
)

// Config configures a Stack before it is brought up; spec.md §1.3's
// config-struct-with-validation pattern, matching the teacher's
// arp.HandlerConfig/xnet.StackConfig style.
type Config struct {
	Interface   string
	ClaimedAddr [4]byte
	Backlog     int           // default TCP listen backlog, if a caller doesn't pick one.
	ProbeRate   rate.Limit    // ARP probe rate limit, see arp.NewHandler.
	ProbeBurst  int
	ReapPeriod  time.Duration // how often TIME_WAIT connections are reclaimed.
	Log         *slog.Logger
}

func (cfg Config) validate() error {
	if cfg.Interface == "" {
		return errors.New("stack: Config.Interface is required")
	}
	if cfg.ClaimedAddr == ([4]byte{}) {
		return errors.New("stack: Config.ClaimedAddr is required")
	}
	return nil
}

// Stack is the façade (spec.md C10): one claimed address, one raw device,
// and every protocol/socket table needed to serve TCP, UDP, ICMP and ARP
// traffic on it.
type Stack struct {
	cfg        Config
	device     *LinuxDevice
	dispatcher *dispatcher
	reapPeriod time.Duration
	g          *errgroup.Group
}

// New validates cfg, opens the raw device, and wires every component; the
// stack is not yet receiving traffic until Run is called.
func New(cfg Config) (*Stack, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 16
	}
	if cfg.ProbeRate <= 0 {
		cfg.ProbeRate = 4
	}
	if cfg.ProbeBurst <= 0 {
		cfg.ProbeBurst = 4
	}
	if cfg.ReapPeriod <= 0 {
		cfg.ReapPeriod = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	dev, err := OpenLinuxDevice(cfg.Interface, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("rawstack: open device: %w", err)
	}

	tcpTable := tcp.NewTable()
	d := &dispatcher{
		log:         cfg.Log,
		claimedAddr: cfg.ClaimedAddr,
		arpHandler:  arp.NewHandler(dev.MAC(), cfg.ClaimedAddr, cfg.ProbeRate, cfg.ProbeBurst),
		neighbors:   NewNeighborTable(),
		reassembler: ipv4.NewReassembler(),
		tcpTable:    tcpTable,
	}
	d.fds = NewFDTable(cfg.ClaimedAddr, tcpTable)

	return &Stack{cfg: cfg, device: dev, dispatcher: d, reapPeriod: cfg.ReapPeriod}, nil
}

// ClaimedAddr implements rawstack.StackHandle.
func (s *Stack) ClaimedAddr() [4]byte { return s.cfg.ClaimedAddr }

// Run spawns the device's RX/TX threads, the RX dispatch loop, and the
// TIME_WAIT reaper under an errgroup.Group, so that a hard failure on any
// one of them is observable from Wait without leaking the others — per
// spec.md §7(a), a transient I/O error only brings down the affected
// device, but the façade still needs to learn about it.
func (s *Stack) Run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	s.g = g
	g.Go(func() error { return s.device.RunRX() })
	g.Go(func() error { return s.device.RunTX() })
	g.Go(func() error { return s.dispatcher.rxLoop(s.device) })
	g.Go(func() error {
		t := time.NewTicker(s.reapPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.device.Close()
				return ctx.Err()
			case now := <-t.C:
				s.dispatcher.tcpTable.ReapTimeWait(now)
			}
		}
	})
}

// Wait blocks until every goroutine spawned by Run has returned, yielding
// the first non-nil error (context.Canceled on a clean shutdown).
func (s *Stack) Wait() error {
	if s.g == nil {
		return nil
	}
	return s.g.Wait()
}

// Stats is a point-in-time snapshot of stack occupancy, polled by
// cmd/stackmon's TUI.
type Stats struct {
	Neighbors       int
	PendingFragment int
	TCPConns        int
	TCPListeners    int
}

// Stat returns the current occupancy of every table the dispatcher owns.
func (s *Stack) Stat() Stats {
	conns, listeners := s.dispatcher.tcpTable.Len()
	return Stats{
		Neighbors:       s.dispatcher.neighbors.Len(),
		PendingFragment: s.dispatcher.reassembler.Pending(),
		TCPConns:        conns,
		TCPListeners:    listeners,
	}
}

// Neighbors returns every resolved IPv4-to-MAC mapping, for display.
func (s *Stack) Neighbors() []Neighbor { return s.dispatcher.neighbors.Snapshot() }

// Conns returns a snapshot of every tracked TCP connection, for display.
func (s *Stack) Conns() []tcp.ConnSnapshot { return s.dispatcher.tcpTable.Snapshot() }

// --- socket registry surface (C9), thin wrappers delegating to FDTable
// for bookkeeping and to the dispatcher for any wire I/O a call requires. ---

func (s *Stack) Socket(kind SockKind) int        { return s.dispatcher.fds.Socket(kind) }
func (s *Stack) Bind(fd int, port uint16) error  { return s.dispatcher.fds.Bind(fd, port) }
func (s *Stack) Listen(fd, backlog int) error    { return s.dispatcher.fds.Listen(fd, backlog) }
func (s *Stack) Close(fd int) error              { return s.dispatcher.fds.Close(fd) }
func (s *Stack) SetNonblocking(fd int, nb bool) error {
	return s.dispatcher.fds.SetNonblocking(fd, nb)
}

// Accept blocks until a pending connection completes its handshake.
func (s *Stack) Accept(fd int) (int, error) { return s.dispatcher.fds.Accept(fd) }

// Connect actively opens a TCP connection: builds the local half of the
// handshake and transmits the initial SYN. The caller must resolve a
// neighbor for remoteIP first (spec.md's no-auto-requeue rule, §7(d)): a
// missing neighbor entry here returns ErrHostUnreachable rather than
// blocking on an ARP round trip.
var ErrHostUnreachable = errors.New("stack: no resolved neighbor for remote address")

func (s *Stack) Connect(fd int, remoteIP [4]byte, remotePort uint16) error {
	mac, ok := s.dispatcher.neighbors.Lookup(remoteIP)
	if !ok {
		buf := make([]byte, 28)
		if f, err := s.dispatcher.arpHandler.BuildRequest(buf, remoteIP); err == nil {
			pb := rawstack.NewPacketBuffer(14 + len(f.RawData()))
			pb.Reserve(14)
			copy(pb.Put(len(f.RawData())), f.RawData())
			pb.Proto = uint16(ethernet.TypeARP)
			pb.RemoteMAC = ethernet.BroadcastAddr()
			s.device.TXQueue().Push(pb)
		}
		return ErrHostUnreachable
	}
	iss := tcp.Value(time.Now().UnixNano())
	_, syn, err := s.dispatcher.fds.Connect(fd, remoteIP, remotePort, iss)
	if err != nil {
		return err
	}
	key, _ := s.dispatcher.fds.Lookup(fd)
	s.dispatcher.sendTCPSegment(key, syn, mac, s.device)
	return nil
}

// Read returns the next chunk of data delivered to fd (TCP: in-order
// payload bytes; UDP: one whole datagram).
func (s *Stack) Read(fd int) ([]byte, error) { return s.dispatcher.fds.Read(fd) }

// RecvFrom is Read for a UDP socket, also reporting the sender.
func (s *Stack) RecvFrom(fd int) ([]byte, [4]byte, uint16, error) {
	return s.dispatcher.fds.RecvFrom(fd)
}

// Write sends payload on an established TCP connection.
func (s *Stack) Write(fd int, payload []byte) error {
	key, ok := s.dispatcher.fds.Lookup(fd)
	if !ok {
		return ErrBadFD
	}
	seg, err := s.dispatcher.fds.Write(fd, payload)
	if err != nil {
		return err
	}
	mac, ok := s.dispatcher.neighbors.Lookup(key.RemoteIP)
	if !ok {
		return ErrHostUnreachable
	}
	s.dispatcher.sendTCPSegment(key, seg, mac, s.device)
	return nil
}

// SendTo sends a UDP datagram to toIP:toPort from fd, binding fd to an
// ephemeral local port first if it wasn't already bound.
func (s *Stack) SendTo(fd int, toIP [4]byte, toPort uint16, payload []byte) error {
	key, err := s.dispatcher.fds.SendTo(fd, toIP, toPort)
	if err != nil {
		return err
	}
	mac, ok := s.dispatcher.neighbors.Lookup(toIP)
	if !ok {
		return ErrHostUnreachable
	}
	s.dispatcher.sendUDPDatagram(key, payload, mac, s.device)
	return nil
}
