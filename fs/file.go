package fs

import (
	"corekernel/defs"
	"corekernel/limits"
	"corekernel/ustr"
	"corekernel/util"
)

// File types (spec §3).
const (
	TFile = 0
	TDir  = 1
)

// fileRecordSize is the fixed size of one on-disk File record (spec §3:
// name, size, type, NDIRECT direct pointers, one indirect pointer).
const fileRecordSize = 256

const (
	fNameOff     = 0
	fNameLen     = 128
	fSizeOff     = 128
	fTypOff      = 132
	fDirectOff   = 136
	fIndirectOff = fDirectOff + 4*limits.NDIRECT
)

// filesPerBlock is how many File records a directory data block holds.
const filesPerBlock = BSIZE / fileRecordSize

// fileLoc pins down where a File record's bytes live on disk: either the
// super block's embedded root-directory slot, or a (block, byte offset)
// inside some directory's data (spec §9's design note on keeping the
// in-memory parent pointer separate from the serialized record — only loc
// and the decoded fields round-trip through disk; Dir is rebuilt by
// whichever walk produced the File_t).
type fileLoc struct {
	isRoot bool
	block  int
	off    int
}

// File_t is the in-memory representation of a File record plus the
// in-memory-only back-pointer to its containing directory (spec §3, §9).
type File_t struct {
	Name   ustr.Ustr
	Size   uint32
	Typ    uint32
	Direct [limits.NDIRECT]uint32
	Indir  uint32

	Dir *File_t // in-memory only; nil for the root

	loc fileLoc
}

func decodeFile(b []byte) *File_t {
	f := &File_t{}
	f.Name = ustr.MkUstrSlice(b[fNameOff : fNameOff+fNameLen])
	f.Size = le32(b[fSizeOff:])
	f.Typ = le32(b[fTypOff:])
	for i := 0; i < limits.NDIRECT; i++ {
		f.Direct[i] = le32(b[fDirectOff+4*i:])
	}
	f.Indir = le32(b[fIndirectOff:])
	return f
}

func encodeFile(b []byte, f *File_t) {
	for i := range b[:fileRecordSize] {
		b[i] = 0
	}
	f.Name.PutName(b[fNameOff : fNameOff+fNameLen])
	putLe32(b[fSizeOff:], f.Size)
	putLe32(b[fTypOff:], f.Typ)
	for i := 0; i < limits.NDIRECT; i++ {
		putLe32(b[fDirectOff+4*i:], f.Direct[i])
	}
	putLe32(b[fIndirectOff:], f.Indir)
}

// Fs_t ties the block cache, bitmap, and super block together into the
// file/directory operations spec §4.8 names, grounded on the client-facing
// shapes of the teacher kernel's ufs.Fs_t (biscuit/src/ufs/ufs.go) but
// re-implemented against this repo's own Cache_t/Bitmap_t rather than
// biscuit's journaling log.
type Fs_t struct {
	Cache *Cache_t
	Bitmap *Bitmap_t
	Super  *Superblock_t
}

// record reads f's backing bytes fresh off its location (the super block's
// embedded slot, or wherever its containing directory block placed it).
func (fs *Fs_t) record(f *File_t) []byte {
	if f.loc.isRoot {
		return fs.Super.bytes()[superRootFileOff : superRootFileOff+fileRecordSize]
	}
	va, err := fs.Cache.ReadBlock(f.loc.block)
	if err != defs.EOK {
		panic("fs: file's directory block vanished")
	}
	pg, _, derr := fs.Cache.serverEnv().AS.Deref(va)
	if derr != defs.EOK {
		panic("fs: file's directory block unmapped after read")
	}
	return pg[f.loc.off : f.loc.off+fileRecordSize]
}

// flush writes f's in-memory fields back to its on-disk record and marks
// the containing block dirty (spec §4.8: file_flush). The root directory's
// record lives in the super block, which Sync also covers via the cache's
// dirty set.
func (fs *Fs_t) flush(f *File_t) {
	b := fs.record(f)
	encodeFile(b, f)
	if f.loc.isRoot {
		fs.Cache.MarkDirty(fs.Super.block)
	} else {
		fs.Cache.MarkDirty(f.loc.block)
	}
}

// FileFlush is the exported form of flush (spec §4.8's file_flush): persist
// f's current in-memory metadata.
func (fs *Fs_t) FileFlush(f *File_t) { fs.flush(f) }

// blockWalk maps a file-relative block number to its on-disk block number,
// optionally allocating it (spec §4.8: file_block_walk). fileBn must be
// less than NDIRECT+NINDIRECT (spec §9's corrected bound — the distilled
// spec's looser `file_bn < NINDIRECT` check admitted indices that would
// overflow the indirect block).
func (fs *Fs_t) blockWalk(f *File_t, fileBn int, alloc bool) (int, defs.Err_t) {
	if fileBn < 0 || fileBn >= limits.NDIRECT+limits.NINDIRECT {
		return 0, defs.EINVAL
	}
	if fileBn < limits.NDIRECT {
		if f.Direct[fileBn] == 0 {
			if !alloc {
				return 0, defs.ENOTFOUND
			}
			nb, err := fs.Cache.AllocBlock()
			if err != defs.EOK {
				return 0, err
			}
			f.Direct[fileBn] = uint32(nb)
			fs.flush(f)
		}
		return int(f.Direct[fileBn]), defs.EOK
	}

	idx := fileBn - limits.NDIRECT
	if f.Indir == 0 {
		if !alloc {
			return 0, defs.ENOTFOUND
		}
		nb, err := fs.Cache.AllocBlock()
		if err != defs.EOK {
			return 0, err
		}
		f.Indir = uint32(nb)
		fs.flush(f)
	}
	iva, err := fs.Cache.ReadBlock(int(f.Indir))
	if err != defs.EOK {
		return 0, err
	}
	ipg, _, derr := fs.Cache.serverEnv().AS.Deref(iva)
	if derr != defs.EOK {
		return 0, derr
	}
	bn := le32(ipg[4*idx:])
	if bn == 0 {
		if !alloc {
			return 0, defs.ENOTFOUND
		}
		nb, aerr := fs.Cache.AllocBlock()
		if aerr != defs.EOK {
			return 0, aerr
		}
		putLe32(ipg[4*idx:], uint32(nb))
		fs.Cache.MarkDirty(int(f.Indir))
		bn = uint32(nb)
	}
	return int(bn), defs.EOK
}

// mapBlock is blockWalk with allocation enabled (spec §4.8: file_map_block).
func (fs *Fs_t) mapBlock(f *File_t, fileBn int) (int, defs.Err_t) {
	return fs.blockWalk(f, fileBn, true)
}

// clearBlock frees the block at fileBn (if any) and zeroes its pointer,
// marking the block free via Cache.FreeBlock (spec §4.8: file_clear_block,
// one of the two paths — with Truncate — that frees blocks).
func (fs *Fs_t) clearBlock(f *File_t, fileBn int) defs.Err_t {
	bn, err := fs.blockWalk(f, fileBn, false)
	if err == defs.ENOTFOUND {
		return defs.EOK
	}
	if err != defs.EOK {
		return err
	}
	fs.Cache.FreeBlock(bn)
	if fileBn < limits.NDIRECT {
		f.Direct[fileBn] = 0
		fs.flush(f)
		return defs.EOK
	}
	iva, ierr := fs.Cache.ReadBlock(int(f.Indir))
	if ierr != defs.EOK {
		return ierr
	}
	ipg, _, derr := fs.Cache.serverEnv().AS.Deref(iva)
	if derr != defs.EOK {
		return derr
	}
	putLe32(ipg[4*(fileBn-limits.NDIRECT):], 0)
	fs.Cache.MarkDirty(int(f.Indir))
	return defs.EOK
}

// getBlock returns the virtual address of fileBn's data, failing with
// ENOTFOUND if it has never been allocated (spec §4.8: file_get_block, the
// read-only counterpart to mapBlock).
func (fs *Fs_t) getBlock(f *File_t, fileBn int) (uint32, defs.Err_t) {
	bn, err := fs.blockWalk(f, fileBn, false)
	if err != defs.EOK {
		return 0, err
	}
	return fs.Cache.ReadBlock(bn)
}

// nblocksUsed returns how many data blocks f currently occupies, rounding
// its byte size up to whole blocks (spec §4.8's block-count invariant).
func nblocksUsed(size uint32) int {
	return int(util.Ceildiv(uint64(size), uint64(BSIZE)))
}

// DirLookup searches f (which must be a directory) for an entry named
// name, returning its File_t with Dir set to f (spec §4.8: dir_lookup).
func (fs *Fs_t) DirLookup(f *File_t, name ustr.Ustr) (*File_t, defs.Err_t) {
	if f.Typ != TDir {
		return nil, defs.EINVAL
	}
	nb := nblocksUsed(f.Size)
	for bi := 0; bi < nb; bi++ {
		va, err := fs.getBlock(f, bi)
		if err != defs.EOK {
			continue
		}
		pg, _, derr := fs.Cache.serverEnv().AS.Deref(va)
		if derr != defs.EOK {
			return nil, derr
		}
		for slot := 0; slot < filesPerBlock; slot++ {
			off := slot * fileRecordSize
			rec := pg[off : off+fileRecordSize]
			if rec[0] == 0 {
				continue // empty slot: every valid record has a non-empty name
			}
			child := decodeFile(rec)
			if child.Name.Eq(name) {
				bn, _ := fs.blockWalk(f, bi, false)
				child.loc = fileLoc{block: bn, off: off}
				child.Dir = f
				return child, defs.EOK
			}
		}
	}
	return nil, defs.ENOTFOUND
}

// DirAllocFile finds (or grows the directory to make) a free record slot,
// writes a fresh File record named name with the given type, and returns it
// (spec §4.8: dir_alloc_file).
func (fs *Fs_t) DirAllocFile(dir *File_t, name ustr.Ustr, typ uint32) (*File_t, defs.Err_t) {
	if dir.Typ != TDir {
		return nil, defs.EINVAL
	}
	if !name.FitsName(fNameLen) {
		return nil, defs.EBADPATH
	}
	if existing, err := fs.DirLookup(dir, name); err == defs.EOK {
		_ = existing
		return nil, defs.EEXISTS
	}

	nb := nblocksUsed(dir.Size)
	for bi := 0; bi < nb; bi++ {
		bn, _ := fs.blockWalk(dir, bi, false)
		va, _ := fs.Cache.ReadBlock(bn)
		pg, _, derr := fs.Cache.serverEnv().AS.Deref(va)
		if derr != defs.EOK {
			return nil, derr
		}
		for slot := 0; slot < filesPerBlock; slot++ {
			off := slot * fileRecordSize
			rec := pg[off : off+fileRecordSize]
			if rec[0] == 0 {
				child := &File_t{Name: append(ustr.Ustr{}, name...), Typ: typ, Dir: dir, loc: fileLoc{block: bn, off: off}}
				fs.flush(child)
				return child, defs.EOK
			}
		}
	}

	// no free slot: grow the directory by one block.
	bi := nb
	bn, err := fs.mapBlock(dir, bi)
	if err != defs.EOK {
		return nil, err
	}
	dir.Size += uint32(BSIZE)
	fs.flush(dir)
	child := &File_t{Name: append(ustr.Ustr{}, name...), Typ: typ, Dir: dir, loc: fileLoc{block: bn, off: 0}}
	fs.flush(child)
	return child, defs.EOK
}

// WalkPath resolves an absolute or root-relative path to a File_t,
// following each non-empty, non-dot component through DirLookup (spec
// §4.8: walk_path).
func (fs *Fs_t) WalkPath(path ustr.Ustr) (*File_t, defs.Err_t) {
	cur := fs.Super.RootFile()
	for _, elem := range path.Elems() {
		if elem.Isdotdot() {
			if cur.Dir != nil {
				cur = cur.Dir
			}
			continue
		}
		next, err := fs.DirLookup(cur, elem)
		if err != defs.EOK {
			return nil, err
		}
		cur = next
	}
	return cur, defs.EOK
}

// FileCreate resolves path's parent directory and allocates a new File
// record of typ named by path's final component (spec §4.8: file_create).
func (fs *Fs_t) FileCreate(path ustr.Ustr, typ uint32) (*File_t, defs.Err_t) {
	elems := path.Elems()
	if len(elems) == 0 {
		return nil, defs.EBADPATH
	}
	parent, err := fs.WalkPath(parentPath(elems))
	if err != defs.EOK {
		return nil, err
	}
	return fs.DirAllocFile(parent, elems[len(elems)-1], typ)
}

func parentPath(elems []ustr.Ustr) ustr.Ustr {
	p := ustr.MkUstrRoot()
	for i := 0; i < len(elems)-1; i++ {
		p = p.Extend(elems[i])
	}
	return p
}

// FileOpen resolves path to an existing File_t (spec §4.8: file_open).
func (fs *Fs_t) FileOpen(path ustr.Ustr) (*File_t, defs.Err_t) {
	return fs.WalkPath(path)
}

// FileSetSize grows or shrinks f to exactly size bytes, allocating or
// freeing whole blocks as needed and always leaving f.Size a multiple of no
// more than one partially-used trailing block (spec §4.8: file_set_size).
// If f has a containing directory, that directory's block is flushed too,
// since the File record embedded there changed.
func (fs *Fs_t) FileSetSize(f *File_t, size uint32) defs.Err_t {
	oldBlocks := nblocksUsed(f.Size)
	newBlocks := nblocksUsed(size)
	if newBlocks < oldBlocks {
		for bi := newBlocks; bi < oldBlocks; bi++ {
			if err := fs.clearBlock(f, bi); err != defs.EOK {
				return err
			}
		}
		if newBlocks <= limits.NDIRECT && f.Indir != 0 {
			fs.Cache.FreeBlock(int(f.Indir))
			f.Indir = 0
			fs.flush(f)
		}
	} else if newBlocks > oldBlocks {
		for bi := oldBlocks; bi < newBlocks; bi++ {
			if _, err := fs.mapBlock(f, bi); err != defs.EOK {
				return err
			}
		}
	}
	f.Size = size
	fs.flush(f)
	return defs.EOK
}

// FileTruncate shrinks f to zero length, freeing every data block it holds
// (spec §4.8: file_truncate — the other of the two paths, with
// clearBlock, that frees blocks).
func (fs *Fs_t) FileTruncate(f *File_t) defs.Err_t {
	return fs.FileSetSize(f, 0)
}

// FileRemove truncates f and clears its directory slot, making the record
// available for reuse by a later DirAllocFile (spec §4.8: file_remove).
// Removing a non-empty directory fails with EINVAL.
func (fs *Fs_t) FileRemove(f *File_t) defs.Err_t {
	if f.Typ == TDir {
		cur := decodeFile(fs.record(f))
		nb := nblocksUsed(cur.Size)
		for bi := 0; bi < nb; bi++ {
			va, err := fs.getBlock(cur, bi)
			if err != defs.EOK {
				continue
			}
			pg, _, derr := fs.Cache.serverEnv().AS.Deref(va)
			if derr != defs.EOK {
				return derr
			}
			for slot := 0; slot < filesPerBlock; slot++ {
				off := slot * fileRecordSize
				rec := pg[off : off+fileRecordSize]
				if rec[0] != 0 {
					return defs.EINVAL
				}
			}
		}
	}
	if err := fs.FileTruncate(f); err != defs.EOK {
		return err
	}
	b := fs.record(f)
	for i := range b[:fileRecordSize] {
		b[i] = 0
	}
	if f.loc.isRoot {
		fs.Cache.MarkDirty(fs.Super.block)
	} else {
		fs.Cache.MarkDirty(f.loc.block)
	}
	return defs.EOK
}

// FileClose is a no-op beyond FileFlush in this single-client design (spec
// §1's Non-goals rule out multiple clients holding the same open file, so
// there is no reference count to drop): any pending metadata change is
// persisted, matching spec §4.8's file_close.
func (fs *Fs_t) FileClose(f *File_t) defs.Err_t {
	fs.flush(f)
	return defs.EOK
}

// FsSync flushes every dirty cache block to disk (spec §4.8: fs_sync).
func (fs *Fs_t) FsSync() defs.Err_t {
	return fs.Cache.Sync()
}

// MapBlockVA resolves (allocating if necessary) f's fileBn'th block and
// returns its cache virtual address, for the FS server's MAP request (spec
// §4.9).
func (fs *Fs_t) MapBlockVA(f *File_t, fileBn int) (uint32, defs.Err_t) {
	bn, err := fs.mapBlock(f, fileBn)
	if err != defs.EOK {
		return 0, err
	}
	return fs.Cache.ReadBlock(bn)
}

// MarkFileBlockDirty marks f's fileBn'th block dirty, silently succeeding
// if that block was never allocated, for the FS server's DIRTY request
// (spec §4.9).
func (fs *Fs_t) MarkFileBlockDirty(f *File_t, fileBn int) defs.Err_t {
	bn, err := fs.blockWalk(f, fileBn, false)
	if err == defs.ENOTFOUND {
		return defs.EOK
	}
	if err != defs.EOK {
		return err
	}
	fs.Cache.MarkDirty(bn)
	return defs.EOK
}

// WriteAt writes data into f at offset, allocating and extending as needed,
// for callers that share the block cache's own address space and so have
// no need for the IPC wire protocol packages fsreq/fsserver define for
// remote clients — the FS server's own bootstrap code and host tools like
// cmd/mkfs that build a disk image directly (spec §4.8's natural
// counterpart to file_set_size/file_map_block; grounded on the teacher
// kernel's ufs.Ufs_t.Append).
func (fs *Fs_t) WriteAt(f *File_t, offset uint32, data []byte) defs.Err_t {
	as := fs.Cache.serverEnv().AS
	total := 0
	off := offset
	for total < len(data) {
		bi := int(off) / BSIZE
		va, err := fs.MapBlockVA(f, bi)
		if err != defs.EOK {
			return err
		}
		pg, _, derr := as.Deref(va)
		if derr != defs.EOK {
			return derr
		}
		within := int(off) % BSIZE
		n := copy(pg[within:], data[total:])
		if n == 0 {
			break
		}
		if derr := fs.MarkFileBlockDirty(f, bi); derr != defs.EOK {
			return derr
		}
		total += n
		off += uint32(n)
	}
	if offset+uint32(len(data)) > f.Size {
		if err := fs.FileSetSize(f, offset+uint32(len(data))); err != defs.EOK {
			return err
		}
	}
	return defs.EOK
}
