package kfork

import (
	"testing"

	"corekernel/defs"
	"corekernel/kernel"
	"corekernel/vm"
)

func TestForkSharesWritablePagesViaCOW(t *testing.T) {
	k := kernel.New(16)
	parent, _ := k.Boot()

	const va = 0x10000
	if err := k.MemAlloc(parent.ID, va, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		t.Fatalf("mem_alloc: %v", err)
	}
	pg, _, _ := parent.AS.Deref(va)
	pg[0] = 0xAA

	child, err := Fork(k)
	if err != defs.EOK {
		t.Fatalf("fork: %v", err)
	}

	pframe, pperm, _ := parent.AS.Lookup(va)
	cframe, cperm, ok := child.AS.Lookup(va)
	if !ok {
		t.Fatal("child should inherit the parent's mapping")
	}
	if pframe != cframe {
		t.Fatal("both sides should share the same frame until a write forces a copy")
	}
	if pperm&vm.PTE_COW == 0 || cperm&vm.PTE_COW == 0 {
		t.Fatal("a writable page must become CoW in both parent and child")
	}
	if pperm&vm.PTE_W != 0 || cperm&vm.PTE_W != 0 {
		t.Fatal("a CoW page must not also be directly writable")
	}
	if k.Phys.Refcnt(pframe) != 2 {
		t.Fatalf("shared frame refcnt = %d, want 2", k.Phys.Refcnt(pframe))
	}
}

func TestPgfaultGivesChildAPrivateFrame(t *testing.T) {
	k := kernel.New(16)
	parent, _ := k.Boot()

	const va = 0x20000
	k.MemAlloc(parent.ID, va, vm.PTE_P|vm.PTE_U|vm.PTE_W)
	ppg, _, _ := parent.AS.Deref(va)
	ppg[0] = 1

	child, err := Fork(k)
	if err != defs.EOK {
		t.Fatalf("fork: %v", err)
	}

	if err := Pgfault(k, child, va); err != defs.EOK {
		t.Fatalf("pgfault: %v", err)
	}
	cframe, cperm, _ := child.AS.Lookup(va)
	pframe, _, _ := parent.AS.Lookup(va)
	if cframe == pframe {
		t.Fatal("after resolving its fault, the child must hold a private frame")
	}
	if cperm&vm.PTE_W == 0 || cperm&vm.PTE_COW != 0 {
		t.Fatal("the resolved page should be writable and no longer CoW")
	}

	cpg, _, _ := child.AS.Deref(va)
	cpg[0] = 2
	if ppg[0] != 1 {
		t.Fatal("the child's write must not be visible through the parent's mapping")
	}
}

func TestPgfaultPanicsOnNonCOWPage(t *testing.T) {
	k := kernel.New(16)
	self, _ := k.Boot()
	const va = 0x30000
	k.MemAlloc(self.ID, va, vm.PTE_P|vm.PTE_U|vm.PTE_W)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic faulting on a non-CoW page")
		}
	}()
	Pgfault(k, self, va)
}

// TestForkDeadbeefScenario exercises the exact walkthrough: parent writes
// 0xDEADBEEF into a freshly CoW page, the child observes the pre-fork value
// at the same virtual address, and the parent re-reads its own write.
func TestForkDeadbeefScenario(t *testing.T) {
	k := kernel.New(16)
	parent, _ := k.Boot()

	const va = 0x50000
	if err := k.MemAlloc(parent.ID, va, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		t.Fatalf("mem_alloc: %v", err)
	}
	ppg, _, _ := parent.AS.Deref(va)
	ppg[0], ppg[1], ppg[2], ppg[3] = 0, 0, 0, 0 // pre-fork value the child must still see

	child, err := Fork(k)
	if err != defs.EOK {
		t.Fatalf("fork: %v", err)
	}

	// The page is now CoW on both sides, sharing one frame; writing through
	// it needs the same fault resolution a real write-protect trap would
	// trigger (package mem has no hardware write-protection of its own).
	if err := Pgfault(k, parent, va); err != defs.EOK {
		t.Fatalf("parent pgfault: %v", err)
	}
	ppg, _, _ = parent.AS.Deref(va)
	ppg[0], ppg[1], ppg[2], ppg[3] = 0xEF, 0xBE, 0xAD, 0xDE // 0xDEADBEEF, little-endian

	cpg, _, _ := child.AS.Deref(va)
	if cpg[0] != 0 || cpg[1] != 0 || cpg[2] != 0 || cpg[3] != 0 {
		t.Fatal("child must observe the pre-fork value, not the parent's post-fork write")
	}
	ppg, _, _ = parent.AS.Deref(va)
	if ppg[0] != 0xEF || ppg[1] != 0xBE || ppg[2] != 0xAD || ppg[3] != 0xDE {
		t.Fatal("parent must re-read its own write")
	}
}

func TestForkSharesLibraryPagesWithoutCOW(t *testing.T) {
	k := kernel.New(16)
	parent, _ := k.Boot()

	const va = 0x40000
	k.MemAlloc(parent.ID, va, vm.PTE_P|vm.PTE_U|vm.PTE_W)
	frame, _, _ := parent.AS.Lookup(va)
	parent.AS.Insert(frame, va, vm.PTE_P|vm.PTE_U|vm.PTE_W|vm.PTE_LIBRARY)

	child, err := Fork(k)
	if err != defs.EOK {
		t.Fatalf("fork: %v", err)
	}
	_, cperm, ok := child.AS.Lookup(va)
	if !ok {
		t.Fatal("library page should be duplicated into the child")
	}
	if cperm&vm.PTE_COW != 0 {
		t.Fatal("a LIBRARY page must stay shared-writable, not become CoW")
	}
	if cperm&vm.PTE_W == 0 {
		t.Fatal("a LIBRARY page should remain writable in the child")
	}
}
