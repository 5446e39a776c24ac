// Package fsserver implements the FS server's request loop and open-file
// table (spec §4.9). The server is "an ordinary environment" (spec §1): it
// drives its own address space and talks to clients purely through the
// syscalls and IPC primitives any environment has access to, via its own
// *kernel.Kernel_t/env.Envid_t handle, exactly as package fs does for the
// block cache. Request/response shapes are grounded on the teacher kernel's
// ufs.Ufs_t client operations (biscuit/src/ufs/ufs.go), adapted from
// biscuit's direct Go-call interface down to spec §6's IPC wire contract
// (package fsreq).
package fsserver

import (
	"corekernel/defs"
	"corekernel/env"
	"corekernel/fs"
	"corekernel/fsreq"
	"corekernel/ipc"
	"corekernel/kernel"
	"corekernel/limits"
	"corekernel/mem"
	"corekernel/ustr"
	"corekernel/vm"
)

// openEnt is one slot of the server's open-file table (spec §3's Open
// entry).
type openEnt struct {
	file   *fs.File_t
	fdPage mem.Pa_t // physical frame backing the slot's Filefd page; 0 = never allocated
	fileid uint32
}

// fdSlotVA returns the server-private virtual address of open-table slot
// i's Filefd page, in a window just past the block cache's disk window so
// it never collides with cached disk blocks.
func fdSlotVA(i int) uint32 {
	base := limits.DISKMAP + uint32(limits.DISKWINDOW)
	return base + uint32(i)*uint32(limits.PGSIZE)
}

// Server_t is the FS server: its own environment handle, the filesystem it
// serves, and its open-file table.
type Server_t struct {
	k  *kernel.Kernel_t
	id env.Envid_t
	fs *fs.Fs_t

	open  []openEnt
	nopen limits.Sysatomic_t // live count of slots a client currently holds open
}

// NewServer builds a server bound to id's environment, serving fsys.
func NewServer(k *kernel.Kernel_t, id env.Envid_t, fsys *fs.Fs_t) *Server_t {
	s := &Server_t{k: k, id: id, fs: fsys, open: make([]openEnt, limits.MAXOPEN)}
	for i := range s.open {
		s.open[i].fileid = uint32(i)
	}
	return s
}

func (s *Server_t) selfEnv() *env.Env {
	e, err := s.k.Lookup(s.id)
	if err != defs.EOK {
		panic("fsserver: server's own environment vanished")
	}
	return e
}

// Arm issues ipc_recv at REQVA, making the server wait for its next request
// (spec §4.9).
func (s *Server_t) Arm() {
	ipc.Recv(s.k, limits.REQVA)
}

// FsDirtyCount reports the block cache's current dirty-block count, for the
// profile/stat debug device (package device) to report as a cache-pressure
// counter.
func (s *Server_t) FsDirtyCount() int {
	return s.fs.Cache.DirtyCount()
}

// FsOpenCount reports how many open-table slots a client currently holds,
// for the profile/stat debug device (package device) to report alongside
// FsDirtyCount.
func (s *Server_t) FsOpenCount() int {
	return int(s.nopen.Value())
}

// openAlloc implements spec §4.9's open_alloc: reclaim a slot whose Filefd
// page has refcount 0 (never allocated) or 1 (server-only, i.e. the client
// that used to hold it has long since unmapped it), bump its fileid
// generation, and zero its page.
//
// Simplification, noted in DESIGN.md: frame index 0 is a legitimate
// allocation from package mem's free list, so using Pa_t(0) as a sentinel
// for "never allocated" is only correct because every setup in this repo
// runs FormatFs or OpenFs first, whose super-block read takes frame 0 for
// the block cache before the FS server's open table touches the allocator.
// A from-scratch allocator reset between the two would need a separate
// boolean, not a frame-address sentinel.
func (s *Server_t) openAlloc() (int, uint32, defs.Err_t) {
	srv := s.selfEnv()
	for i := range s.open {
		ent := &s.open[i]
		refc := 0
		if ent.fdPage != 0 {
			refc = s.k.Phys.Refcnt(ent.fdPage)
		}
		if ent.fdPage != 0 && refc > 1 {
			continue
		}
		va := fdSlotVA(i)
		if ent.fdPage == 0 {
			if err := s.k.MemAlloc(s.id, va, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
				return 0, 0, err
			}
			pa, _, ok := srv.AS.Lookup(va)
			if !ok {
				return 0, 0, defs.EINVAL
			}
			ent.fdPage = pa
		} else {
			pg, _, err := srv.AS.Deref(va)
			if err != defs.EOK {
				return 0, 0, err
			}
			for j := range pg {
				pg[j] = 0
			}
		}
		ent.fileid += limits.MAXOPEN
		return i, ent.fileid, defs.EOK
	}
	return 0, 0, defs.EMAXOPEN
}

// openLookup implements spec §4.9's open_lookup: i = fileid mod MAXOPEN;
// the slot must be held by a client (refcount >= 2) and its stored fileid
// must match.
func (s *Server_t) openLookup(fileid uint32) (*openEnt, defs.Err_t) {
	i := int(fileid) % limits.MAXOPEN
	ent := &s.open[i]
	if ent.fdPage == 0 || ent.fileid != fileid {
		return nil, defs.EINVAL
	}
	if s.k.Phys.Refcnt(ent.fdPage) < 2 {
		return nil, defs.EINVAL
	}
	return ent, defs.EOK
}

// HandleOnce services exactly one request: the caller must have already
// scheduled the server as Cur with a freshly delivered IPC message (i.e.
// the server was Recving at REQVA and some client's Send just matched it).
// It dispatches, replies to the sender, unmaps REQVA, and re-arms (spec
// §4.9: "after dispatch, the server unmaps REQVA so the next ipc_recv
// receives fresh payload").
func (s *Server_t) HandleOnce() {
	srv := s.k.Cur
	if srv.ID != s.id {
		panic("fsserver: HandleOnce called while server is not current")
	}
	reqType := int(srv.LastValue)
	sender := srv.LastSender
	hasPage := srv.LastPage

	var value int32
	var srcVA uint32
	var perm vm.Perm

	if !hasPage {
		value = int32(defs.EINVAL) // missing argument page: not logged; the sender gets an EINVAL reply
	} else {
		pg, _, derr := srv.AS.Deref(limits.REQVA)
		if derr != defs.EOK {
			value = int32(defs.EINVAL)
		} else {
			value, srcVA, perm = s.dispatch(reqType, pg[:], sender)
		}
	}

	s.k.MemUnmap(s.id, limits.REQVA)
	ipc.Send(s.k, sender, uint32(value), srcVA, perm)
	s.Arm()
}

// dispatch executes one request's payload (already copied in at req) and
// returns the scalar to reply with plus, for OPEN/MAP, the server-local VA
// and permission of the page to share back to the sender.
func (s *Server_t) dispatch(reqType int, req []byte, sender env.Envid_t) (int32, uint32, vm.Perm) {
	switch reqType {
	case fsreq.Open:
		path := ustr.MkUstrSlice(req[fsreq.OpenPathOff : fsreq.OpenPathOff+fsreq.OpenPathLen])
		omode := fsreq.GetU32(req[fsreq.OpenOmodeOff:])
		f, err := s.fs.FileOpen(path)
		if err != defs.EOK {
			return int32(err), 0, 0
		}
		i, fileid, aerr := s.openAlloc()
		if aerr != defs.EOK {
			return int32(aerr), 0, 0
		}
		s.open[i].file = f
		srv := s.selfEnv()
		va := fdSlotVA(i)
		pg, _, derr := srv.AS.Deref(va)
		if derr != defs.EOK {
			return int32(derr), 0, 0
		}
		fsreq.Encode(pg[:fsreq.FilefdSize], fsreq.Filefd{
			DevID: uint32(defs.D_FILE), Mode: omode,
			Fileid: int32(fileid), Size: f.Size, Typ: f.Typ,
		})
		s.nopen.Given(1)
		return 0, va, vm.PTE_P | vm.PTE_U | vm.PTE_W | vm.PTE_LIBRARY

	case fsreq.Map:
		fileid := fsreq.GetU32(req[fsreq.MapFileidOff:])
		offset := fsreq.GetU32(req[fsreq.MapOffsetOff:])
		ent, err := s.openLookup(fileid)
		if err != defs.EOK {
			return int32(err), 0, 0
		}
		va, merr := s.fs.MapBlockVA(ent.file, int(offset)/fs.BSIZE)
		if merr != defs.EOK {
			return int32(merr), 0, 0
		}
		return 0, va, vm.PTE_P | vm.PTE_U | vm.PTE_W

	case fsreq.SetSize:
		fileid := fsreq.GetU32(req[fsreq.SetSizeFileidOff:])
		size := fsreq.GetU32(req[fsreq.SetSizeSizeOff:])
		ent, err := s.openLookup(fileid)
		if err != defs.EOK {
			return int32(err), 0, 0
		}
		if serr := s.fs.FileSetSize(ent.file, size); serr != defs.EOK {
			return int32(serr), 0, 0
		}
		srv := s.selfEnv()
		i := int(fileid) % limits.MAXOPEN
		if pg, _, derr := srv.AS.Deref(fdSlotVA(i)); derr == defs.EOK {
			fsreq.PutU32(pg[fsreq.FfdSizeOff:], ent.file.Size) // refresh the shared file_copy.Size
		}
		return 0, 0, 0

	case fsreq.Close:
		fileid := fsreq.GetU32(req[fsreq.CloseFileidOff:])
		ent, err := s.openLookup(fileid)
		if err != defs.EOK {
			return int32(err), 0, 0
		}
		s.fs.FileClose(ent.file)
		s.nopen.Taken(1)
		return 0, 0, 0

	case fsreq.Dirty:
		fileid := fsreq.GetU32(req[fsreq.DirtyFileidOff:])
		offset := fsreq.GetU32(req[fsreq.DirtyOffsetOff:])
		ent, err := s.openLookup(fileid)
		if err != defs.EOK {
			return int32(err), 0, 0
		}
		if derr := s.fs.MarkFileBlockDirty(ent.file, int(offset)/fs.BSIZE); derr != defs.EOK {
			return int32(derr), 0, 0
		}
		return 0, 0, 0

	case fsreq.Remove:
		path := ustr.MkUstrSlice(req[fsreq.RemovePathOff : fsreq.RemovePathOff+fsreq.RemovePathLen])
		f, err := s.fs.WalkPath(path)
		if err != defs.EOK {
			return int32(err), 0, 0
		}
		if rerr := s.fs.FileRemove(f); rerr != defs.EOK {
			return int32(rerr), 0, 0
		}
		return 0, 0, 0

	case fsreq.Sync:
		if err := s.fs.FsSync(); err != defs.EOK {
			return int32(err), 0, 0
		}
		return 0, 0, 0

	case fsreq.Stat:
		fileid := fsreq.GetU32(req[fsreq.StatFileidOff:])
		ent, err := s.openLookup(fileid)
		if err != defs.EOK {
			return int32(err), 0, 0
		}
		fsreq.PutU32(req[fsreq.StatSizeOff:], ent.file.Size)
		fsreq.PutU32(req[fsreq.StatTypOff:], ent.file.Typ)
		return 0, 0, 0

	default:
		return int32(defs.EINVAL), 0, 0
	}
}
