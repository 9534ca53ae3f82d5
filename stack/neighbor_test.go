package stack

import "testing"

func TestNeighborTableObserveForgetLen(t *testing.T) {
	nt := NewNeighborTable()
	ip := [4]byte{10, 0, 0, 5}
	mac := [6]byte{1, 2, 3, 4, 5, 6}

	if _, ok := nt.Lookup(ip); ok {
		t.Fatal("expected no entry before Observe")
	}

	nt.Observe(ip, mac)
	got, ok := nt.Lookup(ip)
	if !ok || got != mac {
		t.Fatalf("got %v, %v", got, ok)
	}
	if nt.Len() != 1 {
		t.Fatalf("want 1 neighbor, got %d", nt.Len())
	}

	newMAC := [6]byte{6, 5, 4, 3, 2, 1}
	nt.Observe(ip, newMAC)
	if got, _ := nt.Lookup(ip); got != newMAC {
		t.Fatal("Observe should refresh an existing entry, not duplicate it")
	}
	if nt.Len() != 1 {
		t.Fatalf("refreshing an entry should not grow the table, got %d", nt.Len())
	}

	nt.Forget(ip)
	if _, ok := nt.Lookup(ip); ok {
		t.Fatal("expected entry removed after Forget")
	}
	if nt.Len() != 0 {
		t.Fatalf("want 0 neighbors after Forget, got %d", nt.Len())
	}
}

func TestNeighborTableSnapshot(t *testing.T) {
	nt := NewNeighborTable()
	nt.Observe([4]byte{10, 0, 0, 1}, [6]byte{1, 1, 1, 1, 1, 1})
	nt.Observe([4]byte{10, 0, 0, 2}, [6]byte{2, 2, 2, 2, 2, 2})

	snap := nt.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("want 2 entries, got %d", len(snap))
	}
}
