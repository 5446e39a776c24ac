// Package fs implements the on-disk filesystem: the demand-paged block
// cache (spec §4.7), the super block and free-block bitmap, and the
// File-record/directory layer (spec §4.8). It is grounded on the teacher
// kernel's fs.Bdev_block_t/BlkList_t cache (biscuit/src/fs/blk.go) and its
// Superblock_t field accessor style (biscuit/src/fs/super.go), simplified
// from the teacher's journaling, multi-block-type, refcounted cache down to
// the one-block-type, no-journal design spec §1 calls for (journaling is an
// explicit Non-goal).
//
// Every exported entry point here runs as the FS server's own code (spec
// §4.9 names the FS server "an ordinary environment"): it drives its own
// address space purely through the same syscalls any other environment
// would use, via the *kernel.Kernel_t handle and its own Envid_t.
package fs

import (
	"corekernel/defs"
	"corekernel/env"
	"corekernel/kernel"
	"corekernel/limits"
	"corekernel/vm"
)

// BSIZE is the on-disk block size, fixed equal to the page size (spec §6).
const BSIZE = limits.PGSIZE

// Cache_t is the block cache described in spec §4.7: disk blocks are
// demand-paged into a fixed window of the FS server's own address space,
// one page per block, addressed by disk_addr(b) = DISKMAP + b*BSIZE.
type Cache_t struct {
	k      *kernel.Kernel_t
	server env.Envid_t
	disk   Disk_i

	nblocks int
	bitmap  *Bitmap_t // nil until the bitmap itself has been loaded
	dirty   map[int]bool
	ndirty  limits.Sysatomic_t // live count backing DirtyCount, kept in lockstep with dirty
}

// Disk_i abstracts the block device the cache reads and writes sector
// ranges from, matching the teacher's own Disk_i split between the cache
// and the underlying driver.
type Disk_i interface {
	IdeRead(sector, count int, dst []byte)
	IdeWrite(sector, count int, src []byte)
}

// sectorsPerBlock is how many disk sectors make up one filesystem block.
const sectorsPerBlock = BSIZE / 512

// NewCache builds a block cache bound to server's address space, backed by
// disk, covering nblocks filesystem blocks.
func NewCache(k *kernel.Kernel_t, server env.Envid_t, disk Disk_i, nblocks int) *Cache_t {
	return &Cache_t{k: k, server: server, disk: disk, nblocks: nblocks, dirty: map[int]bool{}}
}

// SetBitmap attaches the free-block bitmap used by ReadBlock's freeness
// check. Left unset while the super block and bitmap's own blocks are
// bootstrapped, since checking freeness requires the bitmap to already be
// loaded (spec §4.7's "or the bitmap says b is free" only applies once
// there is a bitmap to ask).
func (c *Cache_t) SetBitmap(bm *Bitmap_t) { c.bitmap = bm }

func (c *Cache_t) serverEnv() *env.Env {
	e, err := c.k.Envs.Envid2Env(c.server, nil, false)
	if err != defs.EOK {
		panic("fs: block cache's own server environment vanished")
	}
	return e
}

// diskAddr computes the virtual address the block cache window maps block
// b to (spec §4.7).
func diskAddr(b int) uint32 {
	return limits.DISKMAP + uint32(b)*uint32(BSIZE)
}

// BlockIsMapped reports whether b is currently paged into the cache.
func (c *Cache_t) BlockIsMapped(b int) bool {
	_, _, ok := c.serverEnv().AS.Lookup(diskAddr(b))
	return ok
}

// readBlockRaw pages b in (reading its sectors off disk on a first touch)
// without consulting the bitmap, used to bootstrap the super block and the
// bitmap's own blocks before a Bitmap_t exists to ask.
func (c *Cache_t) readBlockRaw(b int) (*vm.AddrSpace, uint32, defs.Err_t) {
	if b < 0 || b >= c.nblocks {
		return nil, 0, defs.EINVAL
	}
	as := c.serverEnv().AS
	va := diskAddr(b)
	if _, _, ok := as.Lookup(va); ok {
		return as, va, defs.EOK
	}
	if err := c.k.MemAlloc(c.server, va, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		return nil, 0, err
	}
	pg, _, err := as.Deref(va)
	if err != defs.EOK {
		return nil, 0, err
	}
	c.disk.IdeRead(b*sectorsPerBlock, sectorsPerBlock, pg[:])
	return as, va, defs.EOK
}

// ReadBlock pages block b into the cache and returns its virtual address
// (spec §4.7). Fails with EINVAL ("BadBlock") if b is out of range or, once
// a bitmap is attached, if the bitmap marks b free — reading an unallocated
// block is a bug in the caller, not a cache miss.
func (c *Cache_t) ReadBlock(b int) (uint32, defs.Err_t) {
	if c.bitmap != nil && b >= 3 && c.bitmap.IsFree(b) {
		return 0, defs.EINVAL
	}
	_, va, err := c.readBlockRaw(b)
	if err != defs.EOK {
		return 0, err
	}
	return va, defs.EOK
}

// WriteBlock writes b's cached page back to disk and clears its dirty bit.
// It is a caller error to write a block that is not mapped.
func (c *Cache_t) WriteBlock(b int) defs.Err_t {
	as := c.serverEnv().AS
	va := diskAddr(b)
	pg, _, err := as.Deref(va)
	if err != defs.EOK {
		return defs.EINVAL
	}
	c.disk.IdeWrite(b*sectorsPerBlock, sectorsPerBlock, pg[:])
	c.clearDirty(b)
	return defs.EOK
}

// MarkDirty records that b's cached page has been modified in memory and
// needs a WriteBlock before it may be safely unmapped or before FsSync
// returns (spec §4.8's design note on tracking dirty blocks, restoring what
// spec §9 flagged as missing from the distillation).
func (c *Cache_t) MarkDirty(b int) {
	if !c.dirty[b] {
		c.dirty[b] = true
		c.ndirty.Given(1)
	}
}

// clearDirty removes b from the dirty set, keeping ndirty in step.
func (c *Cache_t) clearDirty(b int) {
	if c.dirty[b] {
		delete(c.dirty, b)
		c.ndirty.Taken(1)
	}
}

// UnmapBlock evicts b from the cache, silently doing nothing if it is not
// mapped. A dirty block must be written back first; unmapping a dirty block
// is a caller error (spec §4.7).
func (c *Cache_t) UnmapBlock(b int) defs.Err_t {
	if !c.BlockIsMapped(b) {
		return defs.EOK
	}
	if c.dirty[b] {
		return defs.EINVAL
	}
	return c.k.MemUnmap(c.server, diskAddr(b))
}

// AllocBlock scans the bitmap for a free block at or past block 3 (blocks
// 0-2 are reserved for the boot block, super block, and the first bitmap
// block), marks it used, flushes the affected bitmap block, maps a fresh
// zeroed frame for it, and returns its number (spec §4.7/§4.8: alloc_block
// is the only path that marks a block used).
func (c *Cache_t) AllocBlock() (int, defs.Err_t) {
	if c.bitmap == nil {
		return 0, defs.EINVAL
	}
	b, ok := c.bitmap.findFree()
	if !ok {
		return 0, defs.ENODISK
	}
	c.bitmap.setUsed(b)
	bmBlock, _, _ := c.bitmap.blockAndOffset(b)
	if err := c.WriteBlock(bmBlock); err != defs.EOK {
		return 0, err
	}
	as, va, err := c.readBlockRaw(b)
	if err != defs.EOK {
		return 0, err
	}
	pg, _, derr := as.Deref(va)
	if derr != defs.EOK {
		return 0, derr
	}
	for i := range pg {
		pg[i] = 0
	}
	c.MarkDirty(b)
	return b, defs.EOK
}

// FreeBlock marks b free in the bitmap and flushes the affected bitmap
// block. Freeing block 0 is a fatal error (spec §4.7); callers are file
// Truncate and ClearBlock, the only paths through which a block becomes
// free (spec §4.8).
func (c *Cache_t) FreeBlock(b int) {
	if b == 0 {
		panic("fs: attempt to free block 0")
	}
	if c.bitmap == nil {
		panic("fs: FreeBlock before bitmap attached")
	}
	c.bitmap.setFree(b)
	bmBlock, _, _ := c.bitmap.blockAndOffset(b)
	c.WriteBlock(bmBlock)
	c.clearDirty(b)
}

// DirtyCount reports how many blocks currently await a WriteBlock, for the
// profile/stat debug device (package device) to report as a cache-pressure
// counter.
func (c *Cache_t) DirtyCount() int {
	return int(c.ndirty.Value())
}

// Sync writes back every dirty block (spec §4.8's fs_sync).
func (c *Cache_t) Sync() defs.Err_t {
	for b := range c.dirty {
		if err := c.WriteBlock(b); err != defs.EOK {
			return err
		}
	}
	return defs.EOK
}
