package stack

import "sync"

// Neighbor is one resolved IPv4-to-MAC mapping (spec.md's C3).
type Neighbor struct {
	IP  [4]byte
	MAC [6]byte
}

// NeighborTable is a simple keyed map from claimed IPv4 address to the
// Ethernet address last observed for it, reader/writer guarded: lookups
// from the TX hot path must never block a concurrent ARP-learned update.
type NeighborTable struct {
	mu      sync.RWMutex
	entries map[[4]byte][6]byte
}

// NewNeighborTable constructs an empty table.
func NewNeighborTable() *NeighborTable {
	return &NeighborTable{entries: make(map[[4]byte][6]byte)}
}

// Observe records or refreshes a neighbor's MAC. Called for every ARP frame
// seen on the wire, request or reply alike.
func (t *NeighborTable) Observe(ip [4]byte, mac [6]byte) {
	t.mu.Lock()
	t.entries[ip] = mac
	t.mu.Unlock()
}

// Lookup returns the MAC address resolved for ip, if any.
func (t *NeighborTable) Lookup(ip [4]byte) (mac [6]byte, ok bool) {
	t.mu.RLock()
	mac, ok = t.entries[ip]
	t.mu.RUnlock()
	return mac, ok
}

// Forget removes a stale entry, e.g. after repeated delivery failures.
func (t *NeighborTable) Forget(ip [4]byte) {
	t.mu.Lock()
	delete(t.entries, ip)
	t.mu.Unlock()
}

// Len reports the number of resolved neighbors, polled by cmd/stackmon.
func (t *NeighborTable) Len() int {
	t.mu.RLock()
	n := len(t.entries)
	t.mu.RUnlock()
	return n
}

// Snapshot returns a copy of every resolved neighbor, for display.
func (t *NeighborTable) Snapshot() []Neighbor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Neighbor, 0, len(t.entries))
	for ip, mac := range t.entries {
		out = append(out, Neighbor{IP: ip, MAC: mac})
	}
	return out
}
