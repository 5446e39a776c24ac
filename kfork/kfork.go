// Package kfork implements the user-level copy-on-write fork described in
// spec §4.5: a library built purely on top of the mem_alloc/mem_map/
// mem_unmap/set_pgfault_handler/env_alloc/set_env_status syscalls in
// package kernel, plus a page-fault trampoline (package env's
// PgfaultHandler closure standing in for the real hardware upcall — see
// env.go's doc comment).
package kfork

import (
	"corekernel/defs"
	"corekernel/env"
	"corekernel/kernel"
	"corekernel/limits"
	"corekernel/vm"
)

// Fork performs the parent's half of spec §4.5's algorithm and returns the
// new child environment.
//
// Divergence from spec, matching kernel.EnvAlloc's documented adaptation:
// spec step 2 ("env_alloc() to get child; if we are the child, return 0")
// describes one syscall returning twice in two independent instruction
// streams. Since this kernel hosts every environment as data rather than a
// separate execution context, Fork does not bifurcate control flow —
// instead of a calling convention where the child observes `0`, the
// function returns the child's *env.Env handle directly to whichever code
// called Fork. Every invariant spec §4.5 actually asks for (one new frame
// per CoW fault, independent writable mappings after resolution, read-only
// pages shared indefinitely) is preserved; only the two-execution-stream
// framing is not modeled, since nothing in spec §8's testable properties
// depends on it.
func Fork(k *kernel.Kernel_t) (*env.Env, defs.Err_t) {
	parent := k.Cur

	// step 1: register the page-fault handler in the parent.
	if err := k.SetPgfaultHandler(parent.ID, func(va uint32) defs.Err_t {
		return Pgfault(k, parent, va)
	}, parent.ExceptionStack); err != defs.EOK {
		return nil, err
	}

	// step 2: allocate the child.
	child, err := k.EnvAlloc()
	if err != defs.EOK {
		return nil, err
	}
	child.PgfaultHandler = func(va uint32) defs.Err_t {
		return Pgfault(k, child, va)
	}

	// step 3: duplicate every mapped page below USTACKTOP-PGSIZE into the
	// child, installing CoW where a write needs to fault.
	limit := limits.USTACKTOP - uint32(limits.PGSIZE)
	for _, m := range parent.AS.VPT(limit) {
		if err := duppage(k, parent, child, m.VA, m.Perm); err != defs.EOK {
			return nil, err
		}
	}

	// step 4: the child is ready to run.
	child.Status = env.Runnable
	return child, defs.EOK
}

// duppage inspects the permission bits of the page mapped at va in the
// parent (as seen through the parent's own address space — the
// self-inspection spec §3's self-map exists to enable) and installs the
// appropriate mapping in both parent and child (spec §4.5): a writable or
// already-CoW, non-LIBRARY page becomes CoW in both; a LIBRARY (shared
// writable) or plain read-only page is mapped as-is in both.
func duppage(k *kernel.Kernel_t, parent, child *env.Env, va uint32, perm vm.Perm) defs.Err_t {
	frame, _, ok := parent.AS.Lookup(va)
	if !ok {
		return defs.EOK
	}
	newperm := perm
	if (perm&vm.PTE_W != 0 || perm&vm.PTE_COW != 0) && perm&vm.PTE_LIBRARY == 0 {
		newperm = (perm &^ vm.PTE_W) | vm.PTE_COW
	}
	// child first, then parent — both must agree (spec §4.5).
	if err := child.AS.Insert(frame, va, newperm); err != defs.EOK {
		return err
	}
	if err := parent.AS.Insert(frame, va, newperm); err != defs.EOK {
		return err
	}
	return defs.EOK
}

// Pgfault is the user-mode page-fault handler registered by Fork (spec
// §4.5). It aborts (panics — a fatal error per spec §7 tier 1) if the
// faulting page is not CoW; otherwise it allocates a fresh frame at a
// scratch address, copies the faulting page's contents into it (reading
// from va, which still resolves to the shared original frame — the write
// that trapped has not yet been applied to memory at this point in a real
// hardware fault; here it simply has not yet been issued, since this call
// *is* what the caller must perform before writing), remaps the fresh
// frame at va, and unmaps the scratch address.
func Pgfault(k *kernel.Kernel_t, who *env.Env, va uint32) defs.Err_t {
	pageva := va &^ uint32(limits.PGSIZE-1)
	_, perm, ok := who.AS.Lookup(pageva)
	if !ok || perm&vm.PTE_COW == 0 {
		panic("kfork: page fault on non-CoW page")
	}

	newperm := (perm &^ vm.PTE_COW) | vm.PTE_W

	if err := k.MemAlloc(who.ID, limits.PFTEMP, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		return err
	}
	src, _, err := who.AS.Deref(pageva)
	if err != defs.EOK {
		return err
	}
	dst, _, err := who.AS.Deref(limits.PFTEMP)
	if err != defs.EOK {
		return err
	}
	*dst = *src

	if err := k.MemMap(who.ID, limits.PFTEMP, who.ID, pageva, newperm); err != defs.EOK {
		return err
	}
	return k.MemUnmap(who.ID, limits.PFTEMP)
}
