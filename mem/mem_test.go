package mem

import "testing"

func TestAllocZeroesPage(t *testing.T) {
	p := NewPhys(4)
	pa, pg, ok := p.AllocNoZero()
	if !ok {
		t.Fatal("alloc failed")
	}
	pg[0] = 0xFF
	p.Refup(pa)
	p.Refdown(pa)

	pa2, pg2, ok := p.Alloc()
	if !ok {
		t.Fatal("alloc failed")
	}
	if pa2 != pa {
		t.Fatalf("expected reused frame %d, got %d", pa, pa2)
	}
	if pg2[0] != 0 {
		t.Fatalf("Alloc did not zero reused frame: got %#x", pg2[0])
	}
}

func TestRefcountRoundTrip(t *testing.T) {
	p := NewPhys(4)
	pa, _, ok := p.Alloc()
	if !ok {
		t.Fatal("alloc failed")
	}
	before := p.Free()

	p.Refup(pa)
	p.Refup(pa)
	p.Refup(pa)
	if got := p.Refcnt(pa); got != 3 {
		t.Fatalf("refcnt = %d, want 3", got)
	}

	if p.Refdown(pa) {
		t.Fatal("refdown to 2 should not report frame freed")
	}
	if p.Refdown(pa) {
		t.Fatal("refdown to 1 should not report frame freed")
	}
	if !p.Refdown(pa) {
		t.Fatal("refdown to 0 should report frame freed")
	}
	if p.Free() != before+1 {
		t.Fatalf("free list count = %d, want %d", p.Free(), before+1)
	}
}

func TestRefdownUnreferencedPanics(t *testing.T) {
	p := NewPhys(1)
	pa, _, _ := p.Alloc() // starts at refcnt 0: nothing has claimed it yet

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic refdowning an already-zero refcount frame")
		}
	}()
	p.Refdown(pa)
}

func TestExhaustedPoolFailsAlloc(t *testing.T) {
	p := NewPhys(1)
	if _, _, ok := p.Alloc(); !ok {
		t.Fatal("first alloc should succeed")
	}
	if _, _, ok := p.Alloc(); ok {
		t.Fatal("second alloc should fail: pool exhausted")
	}
}
