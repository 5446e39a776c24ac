// Package mem implements the physical page allocator: a free list of
// frames with per-frame reference counting, adapted from the teacher
// kernel's mem.Physmem_t. SMP is an explicit Non-goal of this system (spec
// §1), so the teacher's per-CPU free lists are dropped in favor of a single
// free list guarded by one mutex — see DESIGN.md for that simplification.
package mem

import (
	"fmt"
	"sync"

	"corekernel/limits"
)

// Pa_t is a physical frame address: a synthetic frame index rather than a
// real bus address, since this kernel is hosted inside a single Go process
// rather than on bare metal (see DESIGN.md's Open Question on address-space
// simulation).
type Pa_t uint32

// PGSIZE/PGOFFSET/PGMASK describe the machine's page geometry.
const (
	PGSIZE   = limits.PGSIZE
	PGOFFSET = Pa_t(PGSIZE - 1)
	PGMASK   = ^PGOFFSET
)

// Pg_t is the backing storage for one physical page.
type Pg_t [PGSIZE]byte

// Page_i abstracts physical page allocation for packages (the block cache,
// the CoW fork library) that only need to allocate, reference, and free
// frames without reaching into the rest of the allocator.
type Page_i interface {
	Alloc() (Pa_t, *Pg_t, bool)
	AllocNoZero() (Pa_t, *Pg_t, bool)
	Refcnt(Pa_t) int
	Deref(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

type frame_t struct {
	refcnt int32
	nexti  uint32
	pg     Pg_t
}

const freeEnd = ^uint32(0)

// Phys_t is the physical frame allocator: a fixed-size array of frames plus
// a free list threaded through the unused ones.
type Phys_t struct {
	sync.Mutex
	frames  []frame_t
	freei   uint32
	freelen int
}

// NewPhys allocates a simulated physical memory pool of nframes frames, all
// initially free.
func NewPhys(nframes int) *Phys_t {
	p := &Phys_t{frames: make([]frame_t, nframes)}
	for i := range p.frames {
		p.frames[i].nexti = uint32(i) + 1
	}
	p.frames[len(p.frames)-1].nexti = freeEnd
	p.freei = 0
	p.freelen = nframes
	return p
}

func (p *Phys_t) frameAddr(idx uint32) Pa_t { return Pa_t(idx) }
func (p *Phys_t) idxOf(pa Pa_t) uint32      { return uint32(pa) }

func (p *Phys_t) checkIdx(idx uint32) {
	if int(idx) >= len(p.frames) {
		panic(fmt.Sprintf("mem: frame index %d out of range", idx))
	}
}

// allocLocked pops the head of the free list. Caller holds p.Mutex.
func (p *Phys_t) allocLocked() (Pa_t, bool) {
	if p.freei == freeEnd {
		return 0, false
	}
	idx := p.freei
	p.checkIdx(idx)
	p.freei = p.frames[idx].nexti
	p.freelen--
	p.frames[idx].refcnt = 0
	return p.frameAddr(idx), true
}

// AllocNoZero allocates a frame without clearing its contents.
func (p *Phys_t) AllocNoZero() (Pa_t, *Pg_t, bool) {
	p.Lock()
	pa, ok := p.allocLocked()
	p.Unlock()
	if !ok {
		return 0, nil, false
	}
	return pa, &p.frames[p.idxOf(pa)].pg, true
}

// Alloc allocates a zeroed frame (spec §4.1's page_alloc).
func (p *Phys_t) Alloc() (Pa_t, *Pg_t, bool) {
	pa, pg, ok := p.AllocNoZero()
	if !ok {
		return 0, nil, false
	}
	for i := range pg {
		pg[i] = 0
	}
	return pa, pg, true
}

// Deref returns the byte storage backing pa.
func (p *Phys_t) Deref(pa Pa_t) *Pg_t {
	idx := p.idxOf(pa)
	p.checkIdx(idx)
	return &p.frames[idx].pg
}

// Refcnt returns the current reference count of pa.
func (p *Phys_t) Refcnt(pa Pa_t) int {
	idx := p.idxOf(pa)
	p.checkIdx(idx)
	p.Lock()
	defer p.Unlock()
	return int(p.frames[idx].refcnt)
}

// Refup increments pa's reference count. A newly allocated frame starts at
// refcount 0; the first mapping that claims it is responsible for the
// matching Refup (this is exactly what vm.Insert does).
func (p *Phys_t) Refup(pa Pa_t) {
	idx := p.idxOf(pa)
	p.checkIdx(idx)
	p.Lock()
	p.frames[idx].refcnt++
	p.Unlock()
}

// Refdown decrements pa's reference count, freeing the frame back to the
// free list and returning true if it reached zero.
func (p *Phys_t) Refdown(pa Pa_t) bool {
	idx := p.idxOf(pa)
	p.checkIdx(idx)
	p.Lock()
	defer p.Unlock()
	if p.frames[idx].refcnt <= 0 {
		panic("mem: refdown of unreferenced frame")
	}
	p.frames[idx].refcnt--
	if p.frames[idx].refcnt != 0 {
		return false
	}
	p.frames[idx].nexti = p.freei
	p.freei = idx
	p.freelen++
	return true
}

// Free reports the number of frames currently on the free list.
func (p *Phys_t) Free() int {
	p.Lock()
	defer p.Unlock()
	return p.freelen
}

// Total reports the pool's fixed frame count, for the profile/stat debug
// device (package device) to report alongside Free.
func (p *Phys_t) Total() int {
	return len(p.frames)
}
