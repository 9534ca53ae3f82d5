package tcp

import (
	"sync"
	"time"

	"github.com/soypat/rawstack"
)

// Table demultiplexes inbound segments to the right Conn or Listener by
// connection key, and reclaims TIME_WAIT entries once their 2*MSL deadline
// passes. Its lock is separate from the rest of the stack's, but the
// LISTEN and ESTABLISHED sets share that one RWMutex, so a writer to either
// set holds up lookups in both.
type Table struct {
	mu        sync.RWMutex
	listeners map[rawstack.ConnKey]*Listener
	conns     map[rawstack.ConnKey]*Conn
}

// NewTable constructs an empty connection table.
func NewTable() *Table {
	return &Table{
		listeners: make(map[rawstack.ConnKey]*Listener),
		conns:     make(map[rawstack.ConnKey]*Conn),
	}
}

// AddListener registers l under its wildcard key.
func (t *Table) AddListener(l *Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[l.Key()] = l
}

// RemoveListener unregisters a previously added Listener.
func (t *Table) RemoveListener(l *Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, l.Key())
}

// AddConn registers an established or in-progress connection under its
// concrete 4-tuple key.
func (t *Table) AddConn(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.Key] = c
}

// RemoveConn forgets a connection, e.g. once it reaches CLOSED.
func (t *Table) RemoveConn(key rawstack.ConnKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, key)
}

// Lookup finds the established/in-progress Conn for an exact 4-tuple.
func (t *Table) Lookup(key rawstack.ConnKey) (*Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[key]
	return c, ok
}

// LookupListener finds a Listener matching key's local IP and port,
// regardless of the remote endpoint (wildcard match, spec.md's
// partial-wildcard lookup rule).
func (t *Table) LookupListener(key rawstack.ConnKey) (*Listener, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for lkey, l := range t.listeners {
		if lkey.Matches(key) {
			return l, true
		}
	}
	return nil, false
}

// ReapTimeWait removes every Conn whose TIME_WAIT deadline has passed.
// Called periodically by the stack façade; spec.md's one sanctioned timer.
func (t *Table) ReapTimeWait(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, c := range t.conns {
		if c.TimeWaitExpired(now) {
			delete(t.conns, key)
		}
	}
}

// Len reports the number of tracked connections and listeners, polled by
// cmd/stackmon.
func (t *Table) Len() (conns, listeners int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns), len(t.listeners)
}

// ConnSnapshot is a point-in-time view of one tracked connection, for
// display by cmd/stackmon.
type ConnSnapshot struct {
	Key   rawstack.ConnKey
	State State
}

// Snapshot returns a ConnSnapshot for every tracked connection.
func (t *Table) Snapshot() []ConnSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ConnSnapshot, 0, len(t.conns))
	for key, c := range t.conns {
		out = append(out, ConnSnapshot{Key: key, State: c.State})
	}
	return out
}
