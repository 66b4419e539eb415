package vport

import "testing"

func TestTableSlotZeroIsBus(t *testing.T) {
	tab := New(nil)
	if tab.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tab.Len())
	}
	if tab.Bus().Kind != KindBus {
		t.Fatalf("slot 0 Kind = %v, want KindBus", tab.Bus().Kind)
	}
}

func TestTableAppendAndFind(t *testing.T) {
	tab := New(nil)
	e := &Entry{Kind: KindPort, PortNumber: 5, CANID: 0x10A, WatchHandle: 3}
	idx := tab.Append(e)
	if idx != 1 {
		t.Fatalf("Append returned index %d, want 1", idx)
	}
	if _, got, ok := tab.FindByPortNumber(5); !ok || got != e {
		t.Fatalf("FindByPortNumber(5) = %v, %v", got, ok)
	}
	if _, got, ok := tab.FindByCANID(0x10A); !ok || got != e {
		t.Fatalf("FindByCANID failed")
	}
	if _, got, ok := tab.FindByWatchHandle(3); !ok || got != e {
		t.Fatalf("FindByWatchHandle failed")
	}
	if _, _, ok := tab.FindByPortNumber(6); ok {
		t.Fatalf("FindByPortNumber(6) unexpectedly found")
	}
}

func TestTableGrowsByDoubling(t *testing.T) {
	tab := New(nil) // cap 4, len 1
	wantCaps := []int{4, 4, 4, 8, 8, 8, 8, 16}
	for i, wantCap := range wantCaps {
		tab.Append(&Entry{Kind: KindPort, PortNumber: uint16(i)})
		if cap(tab.entries) != wantCap {
			t.Fatalf("after append %d: cap = %d, want %d", i, cap(tab.entries), wantCap)
		}
	}
}

func TestTableRemoveAtShiftsAndPreservesOrder(t *testing.T) {
	tab := New(nil)
	var entries []*Entry
	for i := uint16(0); i < 5; i++ {
		e := &Entry{Kind: KindPort, PortNumber: i}
		entries = append(entries, e)
		tab.Append(e)
	}
	// Remove slot 2 (PortNumber 1, since slot 1 holds PortNumber 0).
	tab.RemoveAt(2)
	if tab.Len() != 5 {
		t.Fatalf("Len() after removal = %d, want 5", tab.Len())
	}
	ports := tab.Ports()
	wantOrder := []uint16{0, 2, 3, 4}
	if len(ports) != len(wantOrder) {
		t.Fatalf("Ports() len = %d, want %d", len(ports), len(wantOrder))
	}
	for i, want := range wantOrder {
		if ports[i].PortNumber != want {
			t.Fatalf("ports[%d].PortNumber = %d, want %d", i, ports[i].PortNumber, want)
		}
	}
}

func TestTableRemoveLastEntry(t *testing.T) {
	tab := New(nil)
	tab.Append(&Entry{Kind: KindPort, PortNumber: 0})
	tab.RemoveAt(1)
	if len(tab.Ports()) != 0 {
		t.Fatalf("expected empty port list, got %d", len(tab.Ports()))
	}
}
