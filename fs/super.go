package fs

import (
	"corekernel/defs"
)

// SuperMagic identifies a disk image as holding this filesystem's layout
// (spec §4.8).
const SuperMagic uint32 = 0x68286097

// Layout (all fields little-endian uint32, packed into block 1):
//
//	0   magic
//	4   nblocks
//	8   root File record (fileRecordSize bytes)
const (
	superMagicOff    = 0
	superNblocksOff  = 4
	superRootFileOff = 8
)

// Superblock_t wraps block 1: the filesystem's magic number, total block
// count, and the root directory's embedded File record (spec §4.8 names the
// root directory's record as living in the super block itself, rather than
// in a directory entry, since it has no parent). The field-accessor style
// mirrors the teacher kernel's own Superblock_t in biscuit/src/fs/super.go.
type Superblock_t struct {
	cache *Cache_t
	block int
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLe32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// ReadSuper loads the super block from disk block 1 (bootstrapped via the
// cache's bitmap-free raw path, since the bitmap is not yet attached).
func ReadSuper(cache *Cache_t, block int) (*Superblock_t, defs.Err_t) {
	_, va, err := cache.readBlockRaw(block)
	if err != defs.EOK {
		return nil, err
	}
	pg, _, derr := cache.serverEnv().AS.Deref(va)
	if derr != defs.EOK {
		return nil, derr
	}
	if le32(pg[superMagicOff:]) != SuperMagic {
		return nil, defs.EINVAL
	}
	return &Superblock_t{cache: cache, block: block}, defs.EOK
}

// FormatSuper initializes block 1 as a fresh super block covering nblocks
// total blocks, with an empty root directory File record.
func FormatSuper(cache *Cache_t, block, nblocks int) (*Superblock_t, defs.Err_t) {
	_, va, err := cache.readBlockRaw(block)
	if err != defs.EOK {
		return nil, err
	}
	pg, _, derr := cache.serverEnv().AS.Deref(va)
	if derr != defs.EOK {
		return nil, derr
	}
	for i := range pg {
		pg[i] = 0
	}
	putLe32(pg[superMagicOff:], SuperMagic)
	putLe32(pg[superNblocksOff:], uint32(nblocks))
	root := decodeFile(pg[superRootFileOff : superRootFileOff+fileRecordSize])
	root.Typ = TDir
	encodeFile(pg[superRootFileOff:superRootFileOff+fileRecordSize], root)
	cache.MarkDirty(block)
	return &Superblock_t{cache: cache, block: block}, defs.EOK
}

func (sb *Superblock_t) bytes() []byte {
	_, va, err := sb.cache.readBlockRaw(sb.block)
	if err != defs.EOK {
		panic("fs: super block unreadable")
	}
	pg, _, derr := sb.cache.serverEnv().AS.Deref(va)
	if derr != defs.EOK {
		panic("fs: super block unmapped after read")
	}
	return pg[:]
}

// Nblocks returns the total number of blocks on the disk image.
func (sb *Superblock_t) Nblocks() int {
	return int(le32(sb.bytes()[superNblocksOff:]))
}

// RootFile returns the in-memory File_t for the root directory, whose
// on-disk location is the super block itself rather than a directory entry.
func (sb *Superblock_t) RootFile() *File_t {
	b := sb.bytes()
	f := decodeFile(b[superRootFileOff : superRootFileOff+fileRecordSize])
	f.loc = fileLoc{isRoot: true, block: sb.block}
	f.Dir = nil
	return f
}
