// Package vm implements per-environment address spaces: two-level page
// tables over 32-bit virtual addresses, the permission bits spec §3
// requires (Valid, Writable, CoW, Library), and the self-referential
// mapping that lets an environment walk its own page tables without a
// syscall. The page-table shape (a 1024-entry directory of lazily
// allocated 1024-entry tables, each page 4KiB) follows the teacher kernel's
// own Pmap_t/PTE layout in mem/mem.go, adapted from biscuit's 64-bit,
// multi-level scheme down to the two-level, 32-bit scheme this MIPS-class
// target spec describes.
package vm

import (
	"corekernel/defs"
	"corekernel/mem"
)

// Perm is the set of permission bits on a single mapping (spec §3).
type Perm uint32

const (
	PTE_P       Perm = 1 << 0 // present/valid
	PTE_W       Perm = 1 << 1 // writable
	PTE_U       Perm = 1 << 2 // user-accessible
	PTE_COW     Perm = 1 << 3 // copy-on-write
	PTE_LIBRARY Perm = 1 << 4 // shared writable (library pages bypass CoW)
)

// PDX/PTX/PGOFF split a 32-bit virtual address into directory index, table
// index, and page offset, matching the classic 10/10/12 split (4KiB pages,
// 1024-entry tables, 4GiB address space).
func PDX(va uint32) uint32  { return (va >> 22) & 0x3FF }
func PTX(va uint32) uint32  { return (va >> 12) & 0x3FF }
func PGOFF(va uint32) uint32 { return va & 0xFFF }

// PageVA reconstructs a page-aligned virtual address from a directory and
// table index.
func PageVA(pdx, ptx uint32) uint32 { return (pdx << 22) | (ptx << 12) }

// pte_t is one page-table entry: which frame it maps and with what
// permissions. The zero value is "not present".
type pte_t struct {
	frame mem.Pa_t
	perm  Perm
}

func (e pte_t) present() bool { return e.perm&PTE_P != 0 }

type pagetable_t [1024]pte_t

// AddrSpace is one environment's page directory: 1024 slots, each either
// nil (no page table allocated for that 4MiB region yet) or a pointer to a
// 1024-entry page table. This mirrors a real two-level MMU table directly,
// just with Go pointers standing in for physical page-table frames, since
// this kernel is hosted rather than bare-metal (see DESIGN.md's note on
// simulating physical memory).
type AddrSpace struct {
	phys  *mem.Phys_t
	pgdir [1024]*pagetable_t
}

// NewAddrSpace creates an empty address space backed by phys.
func NewAddrSpace(phys *mem.Phys_t) *AddrSpace {
	return &AddrSpace{phys: phys}
}

// walk is pgdir_walk (spec §4.1): returns the PTE slot for va, allocating
// the intermediate page table if create is set and one does not exist yet.
func (as *AddrSpace) walk(va uint32, create bool) *pte_t {
	pdx := PDX(va)
	pt := as.pgdir[pdx]
	if pt == nil {
		if !create {
			return nil
		}
		pt = &pagetable_t{}
		as.pgdir[pdx] = pt
	}
	return &pt[PTX(va)]
}

// Lookup returns the PTE installed at va, if any, without allocating
// anything.
func (as *AddrSpace) Lookup(va uint32) (frame mem.Pa_t, perm Perm, ok bool) {
	pte := as.walk(va, false)
	if pte == nil || !pte.present() {
		return 0, 0, false
	}
	return pte.frame, pte.perm, true
}

// Insert installs pa at va with perm, incrementing pa's reference count
// (spec §4.1: page_insert). If va already maps pa, the refcount is left
// untouched — double-inserting the same frame at the same address must not
// double-count it. If va maps a different frame, that frame's mapping is
// torn down (and its refcount decremented) first.
func (as *AddrSpace) Insert(pa mem.Pa_t, va uint32, perm Perm) defs.Err_t {
	if perm&PTE_COW != 0 && perm&PTE_W != 0 {
		panic("vm: COW and Writable both set on a mapping")
	}
	pte := as.walk(va, true)
	if pte == nil {
		return defs.ENOMEM
	}
	if pte.present() && pte.frame == pa {
		pte.perm = perm | PTE_P
		return defs.EOK
	}
	as.phys.Refup(pa)
	if pte.present() {
		as.phys.Refdown(pte.frame)
	}
	pte.frame = pa
	pte.perm = perm | PTE_P
	return defs.EOK
}

// Remove unmaps va, silently doing nothing if it was not mapped (spec
// §4.1: page_remove).
func (as *AddrSpace) Remove(va uint32) {
	pte := as.walk(va, false)
	if pte == nil || !pte.present() {
		return
	}
	as.phys.Refdown(pte.frame)
	*pte = pte_t{}
}

// Deref returns the byte storage backing the page mapped at va, standing in
// for the CPU/MMU translating a load or store through this address space's
// own mappings — the operation a running process performs on its own
// memory without any syscall.
func (as *AddrSpace) Deref(va uint32) (*mem.Pg_t, Perm, defs.Err_t) {
	pte := as.walk(va, false)
	if pte == nil || !pte.present() {
		return nil, 0, defs.EINVAL
	}
	return as.phys.Deref(pte.frame), pte.perm, defs.EOK
}

// VPTEntry is one row of the flattened self-map snapshot returned by VPT.
type VPTEntry struct {
	VA    uint32
	Frame mem.Pa_t
	Perm  Perm
}

// VPT returns every present mapping below lim, in (PDX,PTX) order. This is
// the user-visible effect of the self-referential mapping described in
// spec §3 ("a well-known slot ... exposes page tables as an array vpt[] ...
// letting user code inspect its own mappings without a syscall"): rather
// than requiring a literal recursive page-table slot (meaningless without a
// hardware MMU walking these structures), this gives the CoW fork library
// the same capability directly.
func (as *AddrSpace) VPT(lim uint32) []VPTEntry {
	var out []VPTEntry
	for pdx := uint32(0); pdx < PDX(lim)+1 && pdx < 1024; pdx++ {
		pt := as.pgdir[pdx]
		if pt == nil {
			continue
		}
		for ptx := uint32(0); ptx < 1024; ptx++ {
			va := PageVA(pdx, ptx)
			if va >= lim {
				break
			}
			if pt[ptx].present() {
				out = append(out, VPTEntry{VA: va, Frame: pt[ptx].frame, Perm: pt[ptx].perm})
			}
		}
	}
	return out
}

// Free tears down every user mapping below lim, decrementing each frame's
// reference count (freeing it if it reaches zero), then drops the page
// tables themselves (spec §4.2: env_free's walk of the user portion of the
// address space).
func (as *AddrSpace) Free(lim uint32) {
	for pdx := uint32(0); pdx < PDX(lim)+1 && pdx < 1024; pdx++ {
		pt := as.pgdir[pdx]
		if pt == nil {
			continue
		}
		for ptx := range pt {
			if pt[ptx].present() {
				as.phys.Refdown(pt[ptx].frame)
				pt[ptx] = pte_t{}
			}
		}
		as.pgdir[pdx] = nil
	}
}
