package vm

import (
	"testing"

	"corekernel/mem"
)

func TestInsertLookupRemove(t *testing.T) {
	phys := mem.NewPhys(4)
	as := NewAddrSpace(phys)
	pa, _, _ := phys.Alloc()

	if err := as.Insert(pa, 0x1000, PTE_P|PTE_U|PTE_W); err != 0 {
		t.Fatalf("insert: %v", err)
	}
	if phys.Refcnt(pa) != 1 {
		t.Fatalf("refcnt after insert = %d, want 1", phys.Refcnt(pa))
	}
	frame, perm, ok := as.Lookup(0x1000)
	if !ok || frame != pa || perm&PTE_W == 0 {
		t.Fatalf("lookup mismatch: frame=%v perm=%v ok=%v", frame, perm, ok)
	}

	as.Remove(0x1000)
	if _, _, ok := as.Lookup(0x1000); ok {
		t.Fatal("lookup should fail after remove")
	}
	if phys.Refcnt(pa) != 0 {
		t.Fatalf("refcnt after remove = %d, want 0", phys.Refcnt(pa))
	}
}

func TestInsertSameFrameSameVADoesNotDoubleCount(t *testing.T) {
	phys := mem.NewPhys(4)
	as := NewAddrSpace(phys)
	pa, _, _ := phys.Alloc()

	as.Insert(pa, 0x2000, PTE_P|PTE_U|PTE_W)
	as.Insert(pa, 0x2000, PTE_P|PTE_U) // re-insert, dropping W — same frame, same VA
	if phys.Refcnt(pa) != 1 {
		t.Fatalf("refcnt = %d, want 1 (re-insert must not double-count)", phys.Refcnt(pa))
	}
	_, perm, _ := as.Lookup(0x2000)
	if perm&PTE_W != 0 {
		t.Fatal("re-insert should have updated permissions")
	}
}

func TestInsertReplacesPriorFrame(t *testing.T) {
	phys := mem.NewPhys(4)
	as := NewAddrSpace(phys)
	pa1, _, _ := phys.Alloc()
	pa2, _, _ := phys.Alloc()

	as.Insert(pa1, 0x3000, PTE_P|PTE_U|PTE_W)
	as.Insert(pa2, 0x3000, PTE_P|PTE_U|PTE_W)

	if phys.Refcnt(pa1) != 0 {
		t.Fatalf("old frame refcnt = %d, want 0 after being displaced", phys.Refcnt(pa1))
	}
	if phys.Refcnt(pa2) != 1 {
		t.Fatalf("new frame refcnt = %d, want 1", phys.Refcnt(pa2))
	}
	frame, _, _ := as.Lookup(0x3000)
	if frame != pa2 {
		t.Fatal("lookup should return the replacing frame")
	}
}

func TestInsertRejectsCOWAndWritableTogether(t *testing.T) {
	phys := mem.NewPhys(1)
	as := NewAddrSpace(phys)
	pa, _, _ := phys.Alloc()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: COW and Writable both set")
		}
	}()
	as.Insert(pa, 0x4000, PTE_P|PTE_COW|PTE_W)
}

func TestVPTReflectsMappings(t *testing.T) {
	phys := mem.NewPhys(4)
	as := NewAddrSpace(phys)
	pa1, _, _ := phys.Alloc()
	pa2, _, _ := phys.Alloc()

	as.Insert(pa1, 0x1000, PTE_P|PTE_U|PTE_W)
	as.Insert(pa2, 0x400000, PTE_P|PTE_U|PTE_W) // next page directory slot

	entries := as.VPT(0x500000)
	if len(entries) != 2 {
		t.Fatalf("VPT returned %d entries, want 2", len(entries))
	}
	seen := map[uint32]mem.Pa_t{}
	for _, e := range entries {
		seen[e.VA] = e.Frame
	}
	if seen[0x1000] != pa1 || seen[0x400000] != pa2 {
		t.Fatalf("VPT entries mismatch: %+v", seen)
	}
}

func TestFreeDropsAllMappings(t *testing.T) {
	phys := mem.NewPhys(4)
	as := NewAddrSpace(phys)
	pa, _, _ := phys.Alloc()
	as.Insert(pa, 0x1000, PTE_P|PTE_U|PTE_W)

	as.Free(0x2000)
	if _, _, ok := as.Lookup(0x1000); ok {
		t.Fatal("mapping should be gone after Free")
	}
	if phys.Refcnt(pa) != 0 {
		t.Fatalf("refcnt after Free = %d, want 0", phys.Refcnt(pa))
	}
}
