package ipv4

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/internal"
)

// FragKey identifies the set of fragments belonging to one original
// datagram: source, destination, identification field and next-header
// protocol (RFC 791 §3.2).
type FragKey struct {
	SrcIP [4]byte
	DstIP [4]byte
	ID    uint16
	Proto rawstack.IPProto
}

func (k FragKey) hash() uint32 {
	var buf [15]byte
	copy(buf[0:4], k.SrcIP[:])
	copy(buf[4:8], k.DstIP[:])
	binary.BigEndian.PutUint16(buf[8:10], k.ID)
	buf[10] = byte(k.Proto)
	return internal.JenkinsOneAtATime(buf[:11])
}

type fragment struct {
	offset  int // byte offset of this fragment's payload in the original datagram
	more    bool
	payload []byte
}

type reassembly struct {
	key     FragKey
	frags   []fragment // kept ordered by offset
	nextExp int        // unused: Add recomputes coverage by walking frags
}

var (
	// ErrFragOverlap names a fragment whose bytes conflict with data already
	// held for the same key. Reassembler.Add does not return it: a fragment
	// at an offset already held replaces the earlier one, and fragments that
	// overlap from different offsets leave the group incomplete.
	ErrFragOverlap = errors.New("ipv4: overlapping fragment")
)

// Reassembler holds in-progress fragment groups keyed by FragKey. It never
// times out entries — spec.md's non-goals exclude a reassembly timeout —
// so a caller that wants bounded memory use must evict stale entries itself
// (e.g. on a LRU cap) using Discard.
type Reassembler struct {
	table map[uint32][]*reassembly
}

// NewReassembler constructs an empty fragment table.
func NewReassembler() *Reassembler {
	return &Reassembler{table: make(map[uint32][]*reassembly)}
}

func (r *Reassembler) find(key FragKey) (*reassembly, int) {
	h := key.hash()
	bucket := r.table[h]
	for i, e := range bucket {
		if e.key == key {
			return e, i
		}
	}
	return nil, -1
}

// Add inserts one fragment's IPv4 payload (offset in bytes, morefrag per the
// wire flag) into the reassembly group for key. When this fragment
// completes the group, Add returns the concatenated original payload and
// true, and forgets the group. Otherwise it returns nil, false.
func (r *Reassembler) Add(key FragKey, offsetBytes int, moreFrag bool, payload []byte) ([]byte, bool) {
	e, _ := r.find(key)
	if e == nil {
		e = &reassembly{key: key}
		h := key.hash()
		r.table[h] = append(r.table[h], e)
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	f := fragment{offset: offsetBytes, more: moreFrag, payload: cp}

	i := 0
	for i < len(e.frags) && e.frags[i].offset < f.offset {
		i++
	}
	if i < len(e.frags) && e.frags[i].offset == f.offset {
		e.frags[i] = f // duplicate fragment retransmission, replace in place
	} else {
		e.frags = append(e.frags, fragment{})
		copy(e.frags[i+1:], e.frags[i:])
		e.frags[i] = f
	}

	// Walk from offset 0 checking contiguous coverage to a terminator
	// fragment (more == false), per spec.md's completion rule.
	next := 0
	for _, fr := range e.frags {
		if fr.offset != next {
			return nil, false
		}
		next = fr.offset + len(fr.payload)
		if !fr.more {
			out := make([]byte, 0, next)
			for _, fr2 := range e.frags {
				out = append(out, fr2.payload...)
				if !fr2.more {
					break
				}
			}
			r.Discard(key)
			return out, true
		}
	}
	return nil, false
}

// Discard drops any in-progress reassembly for key without completing it.
func (r *Reassembler) Discard(key FragKey) {
	h := key.hash()
	bucket := r.table[h]
	for i, e := range bucket {
		if e.key == key {
			r.table[h] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Pending reports how many fragment groups are currently incomplete.
func (r *Reassembler) Pending() int {
	n := 0
	for _, bucket := range r.table {
		n += len(bucket)
	}
	return n
}
