package fs

import (
	"corekernel/defs"
	"corekernel/env"
	"corekernel/kernel"
)

// Layout constants fixing where the super block and bitmap live (spec
// §4.7/§4.8): block 0 is reserved for a boot sector this kernel never
// populates, block 1 is the super block, and the bitmap begins at block 2.
const (
	superBlockNum   = 1
	bitmapStartBlock = 2
)

// FormatFs lays out a brand-new filesystem across nblocks blocks of disk
// (a fresh super block, a zeroed-then-all-free bitmap, and an empty root
// directory) and returns the assembled Fs_t, ready for use by the FS server
// or a host tool building a disk image (spec §4.8; grounded on the teacher
// kernel's mkfs.go / ufs.MkDisk sequence of super-then-bitmap-then-root
// initialization).
func FormatFs(k *kernel.Kernel_t, server env.Envid_t, disk Disk_i, nblocks int) (*Fs_t, defs.Err_t) {
	cache := NewCache(k, server, disk, nblocks)
	super, err := FormatSuper(cache, superBlockNum, nblocks)
	if err != defs.EOK {
		return nil, err
	}
	bitmap := NewBitmap(cache, bitmapStartBlock, nblocks)
	cache.SetBitmap(bitmap)
	bitmap.FormatBitmap()
	return &Fs_t{Cache: cache, Bitmap: bitmap, Super: super}, defs.EOK
}

// OpenFs mounts an existing, already-formatted disk image (spec §4.8's
// counterpart to FormatFs, used when booting against a disk a prior mkfs
// run — or a prior FormatFs call — already populated).
func OpenFs(k *kernel.Kernel_t, server env.Envid_t, disk Disk_i, nblocks int) (*Fs_t, defs.Err_t) {
	cache := NewCache(k, server, disk, nblocks)
	super, err := ReadSuper(cache, superBlockNum)
	if err != defs.EOK {
		return nil, err
	}
	bitmap := NewBitmap(cache, bitmapStartBlock, super.Nblocks())
	cache.SetBitmap(bitmap)
	return &Fs_t{Cache: cache, Bitmap: bitmap, Super: super}, defs.EOK
}
