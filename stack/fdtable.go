package stack

import (
	"errors"
	"sync"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/tcp"
)

var (
	ErrBadFD      = errors.New("stack: bad file descriptor")
	ErrWouldBlock = rawstack.ErrWouldBlock
	ErrNotBound   = errors.New("stack: socket not bound")
	ErrPortInUse  = errors.New("stack: local port already in use")
	ErrNoPorts    = errors.New("stack: no ephemeral port available")
	ErrNotTCP     = errors.New("stack: operation requires a TCP socket")
	ErrNotUDP     = errors.New("stack: operation requires a UDP socket")
	ErrClosed     = rawstack.ErrClosed
)

// SockKind distinguishes the two transports the registry hands out fds
// for; spec.md's C9 socket registry is transport-agnostic over the same
// fd space, matching a BSD socket(2) table.
type SockKind uint8

const (
	SockTCP SockKind = iota
	SockUDP
)

type datagram struct {
	fromIP   [4]byte
	fromPort uint16
	payload  []byte
}

// sock is one fd's state. A TCP sock wraps either a *tcp.Listener (after
// Listen) or a *tcp.Conn (after Connect or Accept); a UDP sock carries its
// own inbox of received datagrams, since unlike TCP there is no connection
// object to hold one.
type sock struct {
	kind     SockKind
	key      rawstack.ConnKey
	bound    bool
	nonblock bool
	closed   bool
	atEOF    bool

	listener *tcp.Listener
	conn     *tcp.Conn

	inbox []datagram
}

// FDTable is the socket registry (spec.md C9): fd-to-connection map plus
// the operations a caller drives a socket through. It also doubles as the
// UDP demux table the RX dispatcher scans by wildcard-aware ConnKey match,
// since UDP has no separate per-flow object the way tcp.Table gives TCP.
type FDTable struct {
	mu            sync.Mutex
	cond          *sync.Cond
	socks         map[int]*sock
	connSocks     map[*tcp.Conn]*sock
	nextFD        int
	nextEphemeral uint16
	localIP       [4]byte
	tcpTable      *tcp.Table
}

// NewFDTable constructs an empty registry for a stack claiming localIP,
// demultiplexing TCP segments through the given connection table.
func NewFDTable(localIP [4]byte, tcpTable *tcp.Table) *FDTable {
	t := &FDTable{
		socks:         make(map[int]*sock),
		connSocks:     make(map[*tcp.Conn]*sock),
		nextFD:        3,
		nextEphemeral: 49152,
		localIP:       localIP,
		tcpTable:      tcpTable,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Socket allocates a new fd of the given kind, unbound.
func (t *FDTable) Socket(kind SockKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.nextFD
	t.nextFD++
	t.socks[fd] = &sock{kind: kind}
	return fd
}

func (t *FDTable) get(fd int) (*sock, error) {
	s, ok := t.socks[fd]
	if !ok || s.closed {
		return nil, ErrBadFD
	}
	return s, nil
}

// SetNonblocking toggles Read/RecvFrom returning ErrWouldBlock instead of
// blocking when no data is ready, matching the original's non-blocking
// branch (SPEC_FULL.md §14). Accept blocks regardless of the flag, and
// Write never waits.
func (t *FDTable) SetNonblocking(fd int, nonblock bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return err
	}
	s.nonblock = nonblock
	return nil
}

func (t *FDTable) portInUse(kind SockKind, port uint16) bool {
	for _, s := range t.socks {
		if s.kind == kind && s.bound && s.key.LocalPort == port {
			return true
		}
	}
	return false
}

func (t *FDTable) allocEphemeral(kind SockKind) uint16 {
	start := t.nextEphemeral
	for {
		p := t.nextEphemeral
		t.nextEphemeral++
		if t.nextEphemeral == 0 {
			t.nextEphemeral = 49152
		}
		if !t.portInUse(kind, p) {
			return p
		}
		if t.nextEphemeral == start {
			return 0
		}
	}
}

// Bind assigns a local port to fd, an ephemeral one if port is 0. Rebinding
// the same never-connected fd is tolerated (the original's SO_REUSEADDR-ish
// behavior, SPEC_FULL.md §14); binding a port already held by another
// bound socket of the same kind fails.
func (t *FDTable) Bind(fd int, port uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return err
	}
	if port == 0 {
		port = t.allocEphemeral(s.kind)
		if port == 0 {
			return ErrNoPorts
		}
	} else if !s.bound || s.key.LocalPort != port {
		if t.portInUse(s.kind, port) {
			return ErrPortInUse
		}
	}
	s.key.LocalIP = t.localIP
	s.key.LocalPort = port
	if s.kind == SockTCP {
		s.key.Proto = rawstack.IPProtoTCP
	} else {
		s.key.Proto = rawstack.IPProtoUDP
	}
	s.bound = true
	return nil
}

// Listen turns a bound TCP fd into a passive socket accepting connections,
// registering its wildcard key into the shared connection table so the RX
// dispatcher can find it for an inbound SYN.
func (t *FDTable) Listen(fd int, backlog int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return err
	}
	if s.kind != SockTCP {
		return ErrNotTCP
	}
	if !s.bound {
		return ErrNotBound
	}
	l, err := tcp.NewListener(s.key.LocalIP, s.key.LocalPort, backlog)
	if err != nil {
		return err
	}
	s.listener = l
	t.tcpTable.AddListener(l)
	return nil
}

// Accept blocks until the listening fd has a completed connection queued,
// then returns a new fd wrapping it. A non-blocking fd blocks here too:
// Accept never returns ErrWouldBlock.
func (t *FDTable) Accept(fd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return -1, err
	}
	if s.kind != SockTCP || s.listener == nil {
		return -1, ErrNotTCP
	}
	// Listener.Accept always blocks; a non-blocking fd here still waits,
	// since spec.md's non-blocking carve-out (SPEC_FULL.md §14) is about
	// Read/Write/RecvFrom on an already-open socket, not Accept.
	t.mu.Unlock()
	conn, err := s.listener.Accept()
	t.mu.Lock()
	if err != nil {
		return -1, err
	}
	newFD := t.nextFD
	t.nextFD++
	child := &sock{kind: SockTCP, key: conn.Key, bound: true, conn: conn}
	t.socks[newFD] = child
	t.connSocks[conn] = child
	return newFD, nil
}

// Connect actively opens a TCP connection or fixes the remote endpoint of
// a UDP socket. FDTable.Write is TCP-only; a UDP socket still sends with
// SendTo. For TCP this only builds the
// local Conn and registers it; the SYN itself is handed to the caller to
// send via the returned segment-carrying side channel — in this façade
// that wiring happens in Stack.Connect (stack/facade.go), which owns
// access to the device TX queue.
func (t *FDTable) Connect(fd int, remoteIP [4]byte, remotePort uint16, iss tcp.Value) (*tcp.Conn, tcp.Segment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return nil, tcp.Segment{}, err
	}
	if !s.bound {
		port := t.allocEphemeral(s.kind)
		if port == 0 {
			return nil, tcp.Segment{}, ErrNoPorts
		}
		s.key.LocalIP = t.localIP
		s.key.LocalPort = port
		s.bound = true
	}
	s.key.RemoteIP = remoteIP
	s.key.RemotePort = remotePort
	if s.kind == SockTCP {
		s.key.Proto = rawstack.IPProtoTCP
		conn, syn := tcp.NewActive(s.key, iss)
		s.conn = conn
		t.connSocks[conn] = s
		t.tcpTable.AddConn(conn)
		return conn, syn, nil
	}
	s.key.Proto = rawstack.IPProtoUDP
	return nil, tcp.Segment{}, nil
}

// DeliverTCPData appends data newly delivered by conn.Recv's Action to the
// owning socket's inbox and wakes any blocked Read.
func (t *FDTable) DeliverTCPData(conn *tcp.Conn, data []byte, eof bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.connSocks[conn]
	if !ok {
		return
	}
	if len(data) > 0 {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.inbox = append(s.inbox, datagram{payload: cp})
	}
	if eof {
		s.atEOF = true
	}
	t.cond.Broadcast()
}

// DeliverUDP scans every bound UDP socket for one whose key matches key
// (wildcard-aware, spec.md §3) and appends the datagram to its inbox.
func (t *FDTable) DeliverUDP(key rawstack.ConnKey, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.socks {
		if s.kind != SockUDP || !s.bound || s.closed {
			continue
		}
		if s.key.Matches(key) {
			cp := make([]byte, len(payload))
			copy(cp, payload)
			s.inbox = append(s.inbox, datagram{fromIP: key.RemoteIP, fromPort: key.RemotePort, payload: cp})
			t.cond.Broadcast()
			return
		}
	}
}

// Read returns bytes delivered to fd's inbox (UDP: one datagram per call;
// TCP: the oldest contiguous chunk delivered by the connection). Blocks
// until data arrives, EOF is reached, or fd is non-blocking and empty.
func (t *FDTable) Read(fd int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return nil, err
	}
	for len(s.inbox) == 0 {
		if s.atEOF {
			return nil, nil
		}
		if s.nonblock {
			return nil, ErrWouldBlock
		}
		t.cond.Wait()
		if s.closed {
			return nil, ErrClosed
		}
	}
	d := s.inbox[0]
	s.inbox = s.inbox[1:]
	return d.payload, nil
}

// RecvFrom is Read for a UDP socket that also wants the sender's address.
func (t *FDTable) RecvFrom(fd int) ([]byte, [4]byte, uint16, error) {
	t.mu.Lock()
	s, err := t.get(fd)
	if err != nil {
		t.mu.Unlock()
		return nil, [4]byte{}, 0, err
	}
	if s.kind != SockUDP {
		t.mu.Unlock()
		return nil, [4]byte{}, 0, ErrNotUDP
	}
	for len(s.inbox) == 0 {
		if s.nonblock {
			t.mu.Unlock()
			return nil, [4]byte{}, 0, ErrWouldBlock
		}
		t.cond.Wait()
		if s.closed {
			t.mu.Unlock()
			return nil, [4]byte{}, 0, ErrClosed
		}
	}
	d := s.inbox[0]
	s.inbox = s.inbox[1:]
	t.mu.Unlock()
	return d.payload, d.fromIP, d.fromPort, nil
}

// Write sends payload on an established TCP fd, returning the segment the
// caller must hand to the TX path.
func (t *FDTable) Write(fd int, payload []byte) (tcp.Segment, error) {
	t.mu.Lock()
	s, err := t.get(fd)
	t.mu.Unlock()
	if err != nil {
		return tcp.Segment{}, err
	}
	if s.kind != SockTCP || s.conn == nil {
		return tcp.Segment{}, ErrNotTCP
	}
	return s.conn.Send(payload)
}

// SendTo stamps the destination on a UDP fd and returns the key the caller
// frames the datagram with; SendTo itself performs no I/O.
func (t *FDTable) SendTo(fd int, toIP [4]byte, toPort uint16) (rawstack.ConnKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return rawstack.ConnKey{}, err
	}
	if s.kind != SockUDP {
		return rawstack.ConnKey{}, ErrNotUDP
	}
	if !s.bound {
		port := t.allocEphemeral(SockUDP)
		if port == 0 {
			return rawstack.ConnKey{}, ErrNoPorts
		}
		s.key.LocalIP = t.localIP
		s.key.LocalPort = port
		s.key.Proto = rawstack.IPProtoUDP
		s.bound = true
	}
	key := s.key
	key.RemoteIP = toIP
	key.RemotePort = toPort
	return key, nil
}

// Close marks fd closed, unregistering any listener it owns from the shared
// TCP table and waking blocked Read/Accept callers. A connection's fd is
// only detached from it: the tcp.Conn stays in the shared TCP table and no
// FIN is sent.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return err
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
		t.tcpTable.RemoveListener(s.listener)
	}
	if s.conn != nil {
		delete(t.connSocks, s.conn)
	}
	delete(t.socks, fd)
	t.cond.Broadcast()
	return nil
}

// Lookup exposes a socket's bound/connected key, e.g. for diagnostics.
func (t *FDTable) Lookup(fd int) (rawstack.ConnKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(fd)
	if err != nil {
		return rawstack.ConnKey{}, false
	}
	return s.key, true
}
