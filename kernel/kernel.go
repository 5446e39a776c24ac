// Package kernel ties the physical allocator, the environment table, and
// the round-robin scheduler together behind one handle (spec §9's design
// note: encapsulate the teacher kernel's global singletons — super, bitmap,
// opentab, envs, curenv — as explicit state threaded through function
// parameters rather than ambient package-level variables). Kernel_t is that
// handle; every syscall in this package is a method on it.
package kernel

import (
	"corekernel/defs"
	"corekernel/env"
	"corekernel/limits"
	"corekernel/mem"
	"corekernel/vm"
)

// Kernel_t is the entire machine state: physical memory, the environment
// table, and which environment is current.
type Kernel_t struct {
	Phys *mem.Phys_t
	Envs *env.Table_t
	Cur  *env.Env

	lastRun int
}

// New builds a kernel with phys frames of physical memory.
func New(physFrames int) *Kernel_t {
	return &Kernel_t{
		Phys:    mem.NewPhys(physFrames),
		Envs:    env.NewTable(),
		lastRun: -1,
	}
}

// envid2env wraps env.Table_t.Envid2Env against the current environment
// (spec §4.2).
func (k *Kernel_t) envid2env(id env.Envid_t, checkPerm bool) (*env.Env, defs.Err_t) {
	return k.Envs.Envid2Env(id, k.Cur, checkPerm)
}

// Lookup resolves id without permission checking, for trusted server code
// (the FS server) that needs a handle to its own environment outside of a
// syscall entry point.
func (k *Kernel_t) Lookup(id env.Envid_t) (*env.Env, defs.Err_t) {
	return k.Envs.Envid2Env(id, nil, false)
}

// ---- scheduler (spec §4.3) ----

// Schedule scans the environment table circularly, starting just after the
// last environment run, and returns the first Runnable one. No priorities,
// O(N) scan, exactly as spec §4.3 specifies. Panics if nothing is runnable,
// which spec explicitly allows ("undefined, kernel panic acceptable").
func (k *Kernel_t) Schedule() *env.Env {
	n := k.Envs.Len()
	for i := 1; i <= n; i++ {
		idx := (k.lastRun + i) % n
		e := k.Envs.Get(idx)
		if e.Status == env.Runnable {
			k.lastRun = idx
			e.RunCount++
			k.Cur = e
			return e
		}
	}
	panic("kernel: no runnable environment")
}

// ---- syscalls (spec §4.4) ----

// Yield never returns to the caller's current quantum in the real system;
// here it simply hands control back to the caller so they can invoke
// Schedule() themselves for the next environment to run.
func (k *Kernel_t) Yield() {}

// Getenvid returns the current environment's ID.
func (k *Kernel_t) Getenvid() env.Envid_t { return k.Cur.ID }

// EnvDestroy destroys id, which must be the caller or its child. Frees the
// address space and, if the destroyed environment had a pending IPC
// receive outstanding, that receive is simply gone — future senders will
// see EIPCNOTRECV (spec §4.6's cancellation rule) because EnvDestroy clears
// the slot's Recving flag before freeing it; while still Free, Envid2Env
// already rejects it.
func (k *Kernel_t) EnvDestroy(id env.Envid_t) defs.Err_t {
	e, err := k.envid2env(id, true)
	if err != defs.EOK {
		return err
	}
	e.Recving = false
	k.Envs.Free(e, limits.UTOP)
	return defs.EOK
}

// SetPgfaultHandler records the user-mode page-fault re-entry point for id
// (spec §4.4).
func (k *Kernel_t) SetPgfaultHandler(id env.Envid_t, handler func(va uint32) defs.Err_t, xstacktop uint32) defs.Err_t {
	e, err := k.envid2env(id, true)
	if err != defs.EOK {
		return err
	}
	e.PgfaultHandler = handler
	e.ExceptionStack = xstacktop
	return defs.EOK
}

// MemAlloc allocates a zeroed frame and maps it at va in id's address
// space (spec §4.4). perm must include Valid and must not include CoW; va
// must be below UTOP.
func (k *Kernel_t) MemAlloc(id env.Envid_t, va uint32, perm vm.Perm) defs.Err_t {
	if perm&vm.PTE_P == 0 || perm&vm.PTE_COW != 0 {
		return defs.EINVAL
	}
	if va >= limits.UTOP {
		return defs.EINVAL
	}
	e, err := k.envid2env(id, true)
	if err != defs.EOK {
		return err
	}
	pa, _, ok := k.Phys.Alloc()
	if !ok {
		return defs.ENOMEM
	}
	if err := e.AS.Insert(pa, va, perm); err != defs.EOK {
		k.Phys.Refdown(pa)
		return err
	}
	return defs.EOK
}

// MemMap shares the frame mapped at srcVA in srcID's address space into
// dstID's address space at dstVA with the given permissions (spec §4.4).
func (k *Kernel_t) MemMap(srcID env.Envid_t, srcVA uint32, dstID env.Envid_t, dstVA uint32, perm vm.Perm) defs.Err_t {
	if perm&vm.PTE_P == 0 {
		return defs.EINVAL
	}
	src, err := k.envid2env(srcID, true)
	if err != defs.EOK {
		return err
	}
	dst, err := k.envid2env(dstID, true)
	if err != defs.EOK {
		return err
	}
	frame, _, ok := src.AS.Lookup(srcVA)
	if !ok {
		return defs.EINVAL
	}
	return dst.AS.Insert(frame, dstVA, perm)
}

// MemUnmap unmaps va from id's address space, silently doing nothing if
// unmapped (spec §4.4).
func (k *Kernel_t) MemUnmap(id env.Envid_t, va uint32) defs.Err_t {
	e, err := k.envid2env(id, true)
	if err != defs.EOK {
		return err
	}
	e.AS.Remove(va)
	return defs.EOK
}

// EnvAlloc allocates a new child environment of the caller (spec §4.4):
// the child's trap frame is a copy of the caller's, its page-fault handler
// and exception-stack top are inherited, and it starts NotRunnable.
//
// Divergence from spec, documented here and in DESIGN.md: real JOS-style
// systems make this one syscall return twice — 0 in the child's own
// register file, the new ID in the parent's — because the child is a
// literal copy of the parent's execution context that the trap return path
// resumes independently. This kernel is hosted in a single Go process with
// no separate instruction stream to resume, so EnvAlloc returns the child
// handle directly to its caller instead of forking control flow; the CoW
// fork library (package kfork) uses that handle to finish the duppage walk
// before marking the child Runnable, exactly as spec §4.5 describes.
func (k *Kernel_t) EnvAlloc() (*env.Env, defs.Err_t) {
	parent := k.Cur
	child, err := k.Envs.Alloc(parent.ID, func() *vm.AddrSpace { return vm.NewAddrSpace(k.Phys) })
	if err != defs.EOK {
		return nil, err
	}
	child.Trapframe = parent.Trapframe
	child.PgfaultHandler = parent.PgfaultHandler
	child.ExceptionStack = parent.ExceptionStack
	return child, defs.EOK
}

// Boot allocates the very first environment directly against the table,
// bypassing EnvAlloc's "caller is the parent" contract since there is no
// running environment yet to be one. It is marked Runnable and made Cur
// immediately — there is no boot loader handing control to it the way a
// real machine's reset vector would. Every other environment in a running
// system (the FS server, every user process) is somebody's EnvAlloc child;
// this is the one exception, used once per Kernel_t by whatever assembles
// the initial environment set (the FS server's host process, cmd/mkfs,
// cmd/kernel).
func (k *Kernel_t) Boot() (*env.Env, defs.Err_t) {
	e, err := k.Envs.Alloc(0, func() *vm.AddrSpace { return vm.NewAddrSpace(k.Phys) })
	if err != defs.EOK {
		return nil, err
	}
	e.Status = env.Runnable
	k.Cur = e
	k.lastRun = int(e.ID) & (env.NENV - 1)
	return e, defs.EOK
}

// SetEnvStatus switches id into status, which must be Runnable,
// NotRunnable, or Free (spec §4.4).
func (k *Kernel_t) SetEnvStatus(id env.Envid_t, status env.Status) defs.Err_t {
	if status != env.Runnable && status != env.NotRunnable && status != env.Free {
		return defs.EINVAL
	}
	e, err := k.envid2env(id, true)
	if err != defs.EOK {
		return err
	}
	if status == env.Free {
		k.Envs.Free(e, limits.UTOP)
		return defs.EOK
	}
	e.Status = status
	return defs.EOK
}
