// Package env implements the environment (process) table: spec §4.2's
// fixed-size array of process descriptors with a free list, ID encoding,
// and the status/trap-frame/IPC-receive state each environment carries.
// This is the Go analogue of the teacher kernel's envs array, adapted from
// a goroutine-per-process model (biscuit schedules real OS threads) down to
// the single-threaded, table-of-descriptors model spec.md's round-robin
// scheduler requires.
package env

import (
	"corekernel/defs"
	"corekernel/vm"
)

// Status enumerates an environment's scheduling state (spec §3).
type Status int

const (
	Free Status = iota
	Runnable
	NotRunnable
)

// NENV is the fixed size of the environment table; log2NENV is its bit
// width, used when packing (generation, slot) into an Envid_t.
const (
	NENV     = 1024
	log2NENV = 10
)

// Envid_t is a process ID: a generation counter in the high bits and a
// table slot in the low bits (spec §4.2), so that a reused slot never
// collides with a stale ID held by some other environment.
type Envid_t uint32

func mkid(gen uint32, slot int) Envid_t {
	return Envid_t(gen<<(1+log2NENV)) | Envid_t(slot)
}

func (id Envid_t) slot() int { return int(id) & (NENV - 1) }

// Trapframe_t is the saved register state spec §3 asks for: general
// registers, program counter, status register, and stack pointer. The
// register file is modeled generically (this system does not emulate a
// specific MIPS encoding) since the exception-entry assembly that would
// populate it is explicitly out of scope (spec §1).
type Trapframe_t struct {
	Regs   [32]uint32
	PC     uint32
	Status uint32
	SP     uint32
}

// Env is one process descriptor (spec §3).
type Env struct {
	ID       Envid_t
	ParentID Envid_t
	Status   Status
	RunCount uint64

	Trapframe Trapframe_t

	AS *vm.AddrSpace

	// PgfaultHandler stands in for the page-fault entry point and exception
	// stack top spec §4.5 registers via set_pgfault_handler: since this
	// kernel has no real hardware trap to re-enter user mode through, the
	// "user-mode re-entry" is a Go closure the environment installs, called
	// on the environment's own exception stack in the real system.
	PgfaultHandler   func(va uint32) defs.Err_t
	ExceptionStack   uint32

	// IPC-receive state (spec §4.4's ipc_recv / §4.6).
	Recving    bool
	RecvVA     uint32
	LastSender Envid_t
	LastValue  uint32
	LastPerm   vm.Perm
	LastPage   bool

	gen   uint32
	nexti int
}

const freeEnd = -1

// Table_t is the fixed-size environment table plus its free list (spec
// §4.2). Single-threaded cooperative scheduling (spec §5) means no lock is
// needed across table operations; every call happens from the one running
// kernel "thread" between yield points.
type Table_t struct {
	envs     []Env
	freeHead int
}

// NewTable allocates the table, all slots initially free.
func NewTable() *Table_t {
	t := &Table_t{envs: make([]Env, NENV)}
	for i := range t.envs {
		t.envs[i].Status = Free
		t.envs[i].nexti = i + 1
	}
	t.envs[NENV-1].nexti = freeEnd
	t.freeHead = 0
	return t
}

// Alloc pops the free list, builds a fresh address space by calling
// newAS (the caller supplies the shared physical allocator and any
// kernel-template setup), and returns the new environment (spec §4.2's
// env_alloc). Status is left NotRunnable; the caller sets up the trap
// frame and Status itself once any child-specific state (copied registers,
// new PC) is known.
func (t *Table_t) Alloc(parent Envid_t, newAS func() *vm.AddrSpace) (*Env, defs.Err_t) {
	if t.freeHead == freeEnd {
		return nil, defs.ENOFREEENV
	}
	slot := t.freeHead
	e := &t.envs[slot]
	t.freeHead = e.nexti
	e.gen++
	e.ID = mkid(e.gen, slot)
	e.ParentID = parent
	e.Status = NotRunnable
	e.RunCount = 0
	e.Trapframe = Trapframe_t{}
	e.AS = newAS()
	e.PgfaultHandler = nil
	e.ExceptionStack = 0
	e.Recving = false
	e.RecvVA = 0
	e.LastSender = 0
	e.LastValue = 0
	e.LastPerm = 0
	e.LastPage = false
	return e, defs.EOK
}

// Free releases e's address space and returns it to the head of the free
// list (spec §4.2: env_free).
func (t *Table_t) Free(e *Env, lim uint32) {
	if e.Status == Free {
		panic("env: double free")
	}
	e.AS.Free(lim)
	e.Status = Free
	slot := e.ID.slot()
	e.nexti = t.freeHead
	t.freeHead = slot
}

// Get returns the environment occupying slot i, for iteration by the
// scheduler.
func (t *Table_t) Get(i int) *Env { return &t.envs[i] }

// Len is the table's fixed size.
func (t *Table_t) Len() int { return len(t.envs) }

// Envid2Env resolves id to its environment (spec §4.2). id == 0 means the
// caller itself. If checkPerm is set, the result must be the caller or one
// of its immediate children.
func (t *Table_t) Envid2Env(id Envid_t, caller *Env, checkPerm bool) (*Env, defs.Err_t) {
	if id == 0 {
		return caller, defs.EOK
	}
	slot := id.slot()
	if slot < 0 || slot >= len(t.envs) {
		return nil, defs.EBADENV
	}
	e := &t.envs[slot]
	if e.Status == Free || e.ID != id {
		return nil, defs.EBADENV
	}
	if checkPerm && e != caller && e.ParentID != caller.ID {
		return nil, defs.EBADENV
	}
	return e, defs.EOK
}
