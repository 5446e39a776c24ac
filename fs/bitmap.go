package fs

import "corekernel/util"

// Bitmap_t tracks which of the filesystem's blocks are free, one bit per
// block, packed into whole cache blocks starting at StartBlock (spec §4.8).
// A set bit means free, matching the teacher's own free-block bitmap
// convention in biscuit/src/fs/super.go's Freeblock/Freeblocklen fields.
type Bitmap_t struct {
	cache      *Cache_t
	startBlock int
	nblocks    int // total blocks covered (== superblock's Nblocks)
}

// NbitmapBlocks returns how many blocks a bitmap covering nblocks blocks
// occupies.
func NbitmapBlocks(nblocks int) int {
	bitsPerBlock := BSIZE * 8
	return util.Ceildiv(nblocks, bitsPerBlock)
}

// NewBitmap attaches a bitmap view over the cache, starting at startBlock
// and covering nblocks blocks.
func NewBitmap(cache *Cache_t, startBlock, nblocks int) *Bitmap_t {
	return &Bitmap_t{cache: cache, startBlock: startBlock, nblocks: nblocks}
}

func (bm *Bitmap_t) blockAndOffset(b int) (block int, byteOff int, bit uint) {
	bitsPerBlock := BSIZE * 8
	block = bm.startBlock + b/bitsPerBlock
	within := b % bitsPerBlock
	byteOff = within / 8
	bit = uint(within % 8)
	return
}

// IsFree reports whether block b is currently marked free.
func (bm *Bitmap_t) IsFree(b int) bool {
	block, off, bit := bm.blockAndOffset(b)
	_, va, err := bm.cache.readBlockRaw(block)
	if err != 0 {
		panic("fs: bitmap block unreadable")
	}
	pg, _, derr := bm.cache.serverEnv().AS.Deref(va)
	if derr != 0 {
		panic("fs: bitmap block unmapped after read")
	}
	return pg[off]&(1<<bit) != 0
}

func (bm *Bitmap_t) setBit(b int, val bool) {
	block, off, bit := bm.blockAndOffset(b)
	_, va, err := bm.cache.readBlockRaw(block)
	if err != 0 {
		panic("fs: bitmap block unreadable")
	}
	pg, _, derr := bm.cache.serverEnv().AS.Deref(va)
	if derr != 0 {
		panic("fs: bitmap block unmapped after read")
	}
	if val {
		pg[off] |= 1 << bit
	} else {
		pg[off] &^= 1 << bit
	}
	bm.cache.MarkDirty(block)
}

func (bm *Bitmap_t) setFree(b int) { bm.setBit(b, true) }
func (bm *Bitmap_t) setUsed(b int) { bm.setBit(b, false) }

// FormatBitmap marks every data block (block 3 through nblocks-1) free,
// for use once when formatting a fresh disk image. Blocks 0-2 (boot, super,
// first bitmap block) are implicitly reserved simply by findFree and
// ReadBlock's freeness check never considering them (spec §4.7).
func (bm *Bitmap_t) FormatBitmap() {
	for b := 3; b < bm.nblocks; b++ {
		bm.setFree(b)
	}
}

// findFree scans for the lowest free block at or past block 3 (spec
// §4.7: blocks 0-2 are reserved for boot, super, and the first bitmap
// block).
func (bm *Bitmap_t) findFree() (int, bool) {
	for b := 3; b < bm.nblocks; b++ {
		if bm.IsFree(b) {
			return b, true
		}
	}
	return 0, false
}
