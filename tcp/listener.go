package tcp

import (
	"errors"
	"sync"

	"github.com/soypat/rawstack"
)

var (
	errZeroPort    = errors.New("tcp: zero listen port")
	errBacklogFull = errors.New("tcp: accept backlog full")
	ErrListenerClosed = errors.New("tcp: listener closed")
)

// Listener owns the SYN list and accept queue for one bound local port, per
// spec.md's C8: a half-open entry lives in synList from the inbound SYN
// until its final handshake ACK, at which point the dispatch loop moves it
// into acceptQueue for Accept to hand to the caller.
type Listener struct {
	mu        sync.Mutex
	cond      *sync.Cond
	localPort uint16
	localIP   [4]byte
	backlog   int
	closed    bool

	synList     map[rawstack.ConnKey]*Conn
	acceptQueue []*Conn
}

// NewListener constructs a Listener bound to localIP:localPort with the
// given backlog (maximum pending accept-queue depth).
func NewListener(localIP [4]byte, localPort uint16, backlog int) (*Listener, error) {
	if localPort == 0 {
		return nil, errZeroPort
	}
	l := &Listener{
		localIP:   localIP,
		localPort: localPort,
		backlog:   backlog,
		synList:   make(map[rawstack.ConnKey]*Conn),
	}
	l.cond = sync.NewCond(&l.mu)
	return l, nil
}

// Key returns the wildcard listening key this Listener matches inbound
// segments against: any remote endpoint, this local IP and port.
func (l *Listener) Key() rawstack.ConnKey {
	return rawstack.ConnKey{LocalIP: l.localIP, LocalPort: l.localPort, Proto: rawstack.IPProtoTCP}
}

// HandleSyn admits a fresh inbound SYN: if the backlog has room it creates
// a half-open Conn in SYN_RECEIVED and returns the SYN+ACK to send; a full
// backlog silently drops the SYN, which is RFC 793's documented behavior
// (the peer's retry, were TCP retransmission in scope, would try again).
func (l *Listener) HandleSyn(remoteKey rawstack.ConnKey, iss, peerSeq Value) (Segment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.synList)+len(l.acceptQueue) >= l.backlog {
		return Segment{}, false
	}
	if _, exists := l.synList[remoteKey]; exists {
		return Segment{}, false
	}
	conn, seg := NewPassive(remoteKey, iss, peerSeq)
	l.synList[remoteKey] = conn
	return seg, true
}

// HandleAck feeds a non-SYN segment addressed to this listener's half-open
// set; typically the final ACK of the three-way handshake. Returns the
// matching Conn and its Action if remoteKey is a known half-open entry.
func (l *Listener) HandleAck(remoteKey rawstack.ConnKey, seg Segment) (*Conn, Action, bool) {
	l.mu.Lock()
	conn, ok := l.synList[remoteKey]
	l.mu.Unlock()
	if !ok {
		return nil, Action{}, false
	}
	act := conn.Recv(seg)
	if conn.State == StateEstablished {
		l.mu.Lock()
		delete(l.synList, remoteKey)
		l.acceptQueue = append(l.acceptQueue, conn)
		l.cond.Signal()
		l.mu.Unlock()
	} else if act.Drop {
		l.mu.Lock()
		delete(l.synList, remoteKey)
		l.mu.Unlock()
	}
	return conn, act, true
}

// Accept blocks until a fully-established connection is available or the
// listener is closed.
func (l *Listener) Accept() (*Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.acceptQueue) == 0 && !l.closed {
		l.cond.Wait()
	}
	if l.closed && len(l.acceptQueue) == 0 {
		return nil, ErrListenerClosed
	}
	conn := l.acceptQueue[0]
	l.acceptQueue = l.acceptQueue[1:]
	return conn, nil
}

// Close stops the listener and wakes any blocked Accept call.
func (l *Listener) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
}
