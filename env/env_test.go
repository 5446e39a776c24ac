package env

import (
	"testing"

	"corekernel/vm"
)

func newAS() *vm.AddrSpace { return vm.NewAddrSpace(nil) }

func TestAllocFreeReusesSlotWithNewGeneration(t *testing.T) {
	tbl := NewTable()
	e1, err := tbl.Alloc(0, newAS)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	id1 := e1.ID
	e1.Status = Runnable

	tbl.Free(e1, 0)

	e2, err := tbl.Alloc(0, newAS)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	if e2.ID == id1 {
		t.Fatal("reused slot must get a fresh generation, not the same ID")
	}
	if e2.ID.slot() != id1.slot() {
		t.Fatal("expected the same free-list slot to be reused")
	}
}

func TestEnvid2EnvSelfReference(t *testing.T) {
	tbl := NewTable()
	e, _ := tbl.Alloc(0, newAS)

	got, err := tbl.Envid2Env(0, e, true)
	if err != 0 {
		t.Fatalf("envid2env(0): %v", err)
	}
	if got != e {
		t.Fatal("id 0 should resolve to the caller itself")
	}
}

func TestEnvid2EnvStaleIDRejected(t *testing.T) {
	tbl := NewTable()
	e, _ := tbl.Alloc(0, newAS)
	stale := e.ID
	tbl.Free(e, 0)
	tbl.Alloc(0, newAS) // reoccupies the slot under a new generation

	if _, err := tbl.Envid2Env(stale, nil, false); err == 0 {
		t.Fatal("a freed-and-reused slot's old ID must not resolve")
	}
}

func TestEnvid2EnvPermissionCheck(t *testing.T) {
	tbl := NewTable()
	parent, _ := tbl.Alloc(0, newAS)
	child, _ := tbl.Alloc(parent.ID, newAS)
	stranger, _ := tbl.Alloc(0, newAS)

	if _, err := tbl.Envid2Env(child.ID, parent, true); err != 0 {
		t.Fatalf("parent should be able to name its own child: %v", err)
	}
	if _, err := tbl.Envid2Env(child.ID, stranger, true); err == 0 {
		t.Fatal("a non-parent should not be able to name this child with checkPerm")
	}
}

func TestAllocFailsWhenTableFull(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < NENV; i++ {
		if _, err := tbl.Alloc(0, newAS); err != 0 {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	if _, err := tbl.Alloc(0, newAS); err == 0 {
		t.Fatal("alloc should fail once the table is full")
	}
}
