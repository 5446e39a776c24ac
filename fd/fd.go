// Package fd implements the client side of the system: the per-process
// file-descriptor table at the fixed FDTABLE region, and the device
// dispatch that routes read/write/close by device ID (spec §4.10). It is
// grounded on the teacher kernel's fd.Fd_t/Fdops_i split (biscuit/src/fd
// /fd.go), but dispatch here is a switch on the slot's device ID rather
// than a per-device method interface, adapted from biscuit's direct
// syscall-table dispatch down to this kernel's IPC-based FS protocol
// (package fsreq).
package fd

import (
	"corekernel/defs"
	"corekernel/device"
	"corekernel/env"
	"corekernel/fsreq"
	"corekernel/fsserver"
	"corekernel/ipc"
	"corekernel/kernel"
	"corekernel/limits"
	"corekernel/ustr"
	"corekernel/vm"
)

// Device IDs a client FD can name (spec §3): file, console, pipe, plus the
// stat and prof debug devices. Typed as
// uint32 to match Filefd.DevID's wire representation (package fsreq).
const (
	DevFile    = uint32(defs.D_FILE)
	DevConsole = uint32(defs.D_CONSOLE)
	DevPipe    = uint32(defs.D_PIPE)
	DevStat    = uint32(defs.D_STAT)
	DevProf    = uint32(defs.D_PROF)
)

// slotVA returns the fixed virtual address of FD-table slot i (spec §4.10:
// "slot i is considered allocated iff its page is mapped").
func slotVA(i int) uint32 {
	return limits.FDTABLE + uint32(i)*uint32(limits.PGSIZE)
}

// Client_t is one process's view of the FD table: its own kernel handle,
// its own environment id, and a handle to the FS server it talks to over
// IPC.
//
// Simplification, noted in DESIGN.md: a real system's scheduler runs the FS
// server's main loop independently of any one client's request, driven by
// whichever env the round-robin scheduler happens to pick next. This
// repo's client instead drives the rendezvous to completion itself — after
// sending a request it pumps Kernel_t.Schedule() and, whenever the server
// comes up, calls its HandleOnce() directly — which is observably identical
// from the client's point of view (spec §5's synchronous send/receive
// happens-before still holds) but assumes no third environment is also
// runnable during the round trip.
type Client_t struct {
	k      *kernel.Kernel_t
	id     env.Envid_t
	srvID  env.Envid_t
	server *fsserver.Server_t

	// consoles/pipes back the non-file device kinds: unlike D_FILE slots,
	// these never involve the FS server, so there is nothing for the
	// Filefd page's Fileid field to name — the slot number itself is the
	// key (spec §1 treats console/pipe as external collaborators specified
	// only by interface, so this repo supplies the minimal in-process
	// version from package device rather than a real driver).
	consoles map[int]*device.Console_t
	pipes    map[int]*device.Pipe_t
	stats    map[int]*device.Stat_t
	profs    map[int]*device.Prof_t
}

// NewClient builds a client bound to id's environment, talking to server
// (running as srvID's environment).
func NewClient(k *kernel.Kernel_t, id env.Envid_t, srvID env.Envid_t, server *fsserver.Server_t) *Client_t {
	return &Client_t{
		k: k, id: id, srvID: srvID, server: server,
		consoles: make(map[int]*device.Console_t),
		pipes:    make(map[int]*device.Pipe_t),
		stats:    make(map[int]*device.Stat_t),
		profs:    make(map[int]*device.Prof_t),
	}
}

// debugCounters snapshots the kernel's allocator and cache occupancy, the
// source the D_STAT/D_PROF devices report (spec §3's reserved device
// table).
func (c *Client_t) debugCounters() map[string]int64 {
	return map[string]int64{
		"frames_free":     int64(c.k.Phys.Free()),
		"frames_total":    int64(c.k.Phys.Total()),
		"fs_dirty_blocks": int64(c.server.FsDirtyCount()),
		"fs_open_files":   int64(c.server.FsOpenCount()),
	}
}

func (c *Client_t) selfEnv() *env.Env {
	e, err := c.k.Lookup(c.id)
	if err != defs.EOK {
		panic("fd: client's own environment vanished")
	}
	return e
}

// request performs one synchronous round trip to the FS server: send
// reqType/reqPage, ipc_recv the reply, then pump the scheduler — running
// the server's HandleOnce whenever it comes up — until this client is
// Runnable again (spec §4.9's wire contract, driven from the client's
// side; see Client_t's doc comment on the scheduling simplification this
// implies).
func (c *Client_t) request(reqType int, reqVA uint32, respVA uint32) (int32, bool) {
	if err := ipc.Send(c.k, c.srvID, uint32(reqType), reqVA, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		return int32(err), false
	}
	ipc.Recv(c.k, respVA)
	for {
		e := c.k.Schedule()
		if e.ID == c.id {
			break
		}
		if e.ID == c.srvID {
			c.server.HandleOnce()
		}
	}
	self := c.selfEnv()
	return int32(self.LastValue), self.LastPage
}

// fdAlloc returns the lowest-numbered unmapped FD-table slot (spec §4.10:
// fd_alloc).
func (c *Client_t) fdAlloc() int {
	self := c.selfEnv()
	for i := 0; i < limits.MAXOPEN; i++ {
		if _, _, ok := self.AS.Lookup(slotVA(i)); !ok {
			return i
		}
	}
	return -1
}

// scratchReqVA is the client's own staging page for outgoing request
// payloads: PFTEMP, the page just below REQVA. Reusing PFTEMP is safe here because CoW fork's page-fault handler and FD
// requests never execute concurrently in this single-threaded-per-env
// model (spec §5).
const scratchReqVA = limits.PFTEMP

// Open sends an OPEN request for path and, on success, installs the
// returned Filefd page (shared LIBRARY with the server) at a fresh
// FD-table slot, returning its descriptor number (spec §4.9/§4.10).
func (c *Client_t) Open(path ustr.Ustr, omode uint32) (int, defs.Err_t) {
	self := c.selfEnv()
	if err := c.k.MemAlloc(c.id, scratchReqVA, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		return -1, err
	}
	pg, _, derr := self.AS.Deref(scratchReqVA)
	if derr != defs.EOK {
		return -1, derr
	}
	for i := range pg {
		pg[i] = 0
	}
	path.PutName(pg[fsreq.OpenPathOff : fsreq.OpenPathOff+fsreq.OpenPathLen])
	fsreq.PutU32(pg[fsreq.OpenOmodeOff:], omode)

	value, hasPage := c.request(fsreq.Open, scratchReqVA, limits.REQVA)
	c.k.MemUnmap(c.id, scratchReqVA)
	if value < 0 {
		return -1, defs.Err_t(value)
	}
	if !hasPage {
		return -1, defs.EINVAL
	}

	slot := c.fdAlloc()
	if slot < 0 {
		return -1, defs.EMAXOPEN
	}
	// ipc_can_send already installed the shared Filefd frame at this
	// client's own REQVA (its registered ipc_recv destination); re-map it
	// within the same environment to its permanent FD-table slot.
	if err := c.k.MemMap(c.id, limits.REQVA, c.id, slotVA(slot), vm.PTE_P|vm.PTE_U|vm.PTE_W|vm.PTE_LIBRARY); err != defs.EOK {
		return -1, err
	}
	c.k.MemUnmap(c.id, limits.REQVA)
	fpg, _, ferr := self.AS.Deref(slotVA(slot))
	if ferr != defs.EOK {
		return -1, ferr
	}
	ffd := fsreq.Decode(fpg[:fsreq.FilefdSize])
	ffd.DevID = DevFile
	ffd.Offset = 0
	ffd.Mode = omode
	fsreq.Encode(fpg[:fsreq.FilefdSize], ffd)
	return slot, defs.EOK
}

// installLocalDevice allocates a fresh FD-table slot and writes a Filefd
// record naming devID, with no server involvement (spec §4.10: only D_FILE
// slots talk to the FS server).
func (c *Client_t) installLocalDevice(devID uint32, omode uint32) (int, defs.Err_t) {
	self := c.selfEnv()
	slot := c.fdAlloc()
	if slot < 0 {
		return -1, defs.EMAXOPEN
	}
	if err := c.k.MemAlloc(c.id, slotVA(slot), vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		return -1, err
	}
	pg, _, derr := self.AS.Deref(slotVA(slot))
	if derr != defs.EOK {
		return -1, derr
	}
	fsreq.Encode(pg[:fsreq.FilefdSize], fsreq.Filefd{DevID: devID, Mode: omode})
	return slot, defs.EOK
}

// OpenConsole allocates an FD-table slot bound to the console device.
func (c *Client_t) OpenConsole() (int, defs.Err_t) {
	slot, err := c.installLocalDevice(DevConsole, fsreq.ORead|fsreq.OWrite)
	if err != defs.EOK {
		return -1, err
	}
	c.consoles[slot] = device.NewConsole()
	return slot, defs.EOK
}

// OpenPipe allocates an FD-table slot bound to a fresh pipe with the given
// buffer capacity.
func (c *Client_t) OpenPipe(capacity int) (int, defs.Err_t) {
	slot, err := c.installLocalDevice(DevPipe, fsreq.ORead|fsreq.OWrite)
	if err != defs.EOK {
		return -1, err
	}
	c.pipes[slot] = device.NewPipe(capacity)
	return slot, defs.EOK
}

// OpenStat allocates an FD-table slot bound to the text-format debug
// counters device (spec §3's D_STAT slot).
func (c *Client_t) OpenStat() (int, defs.Err_t) {
	slot, err := c.installLocalDevice(DevStat, fsreq.ORead)
	if err != defs.EOK {
		return -1, err
	}
	c.stats[slot] = device.NewStat(c.debugCounters)
	return slot, defs.EOK
}

// OpenProf allocates an FD-table slot bound to the pprof-format debug
// counters device (spec §3's D_PROF slot).
func (c *Client_t) OpenProf() (int, defs.Err_t) {
	slot, err := c.installLocalDevice(DevProf, fsreq.ORead)
	if err != defs.EOK {
		return -1, err
	}
	c.profs[slot] = device.NewProf(c.debugCounters)
	return slot, defs.EOK
}

func (c *Client_t) readFilefd(slot int) (fsreq.Filefd, *vm.AddrSpace, defs.Err_t) {
	self := c.selfEnv()
	pg, _, err := self.AS.Deref(slotVA(slot))
	if err != defs.EOK {
		return fsreq.Filefd{}, nil, defs.EINVAL
	}
	return fsreq.Decode(pg[:fsreq.FilefdSize]), self.AS, defs.EOK
}

func (c *Client_t) writeFilefdOffset(slot int, off uint32) {
	self := c.selfEnv()
	pg, _, err := self.AS.Deref(slotVA(slot))
	if err != defs.EOK {
		return
	}
	fsreq.PutU32(pg[4:], off) // Filefd.Offset
}

// Read dispatches by device (spec §4.10). For D_FILE it issues one MAP
// request per block the read spans and copies out of the shared cache
// page; on success it advances the descriptor's offset.
func (c *Client_t) Read(slot int, dst []byte) (int, defs.Err_t) {
	ffd, as, err := c.readFilefd(slot)
	if err != defs.EOK {
		return -1, err
	}
	switch ffd.DevID {
	case DevFile:
		n, rerr := c.fileRead(slot, ffd, as, dst)
		if rerr != defs.EOK {
			return -1, rerr
		}
		c.writeFilefdOffset(slot, ffd.Offset+uint32(n))
		return n, defs.EOK
	case DevConsole:
		con, ok := c.consoles[slot]
		if !ok {
			return -1, defs.EINVAL
		}
		return con.Read(dst)
	case DevPipe:
		p, ok := c.pipes[slot]
		if !ok {
			return -1, defs.EINVAL
		}
		return p.Read(dst)
	case DevStat:
		st, ok := c.stats[slot]
		if !ok {
			return -1, defs.EINVAL
		}
		return st.Read(dst)
	case DevProf:
		pr, ok := c.profs[slot]
		if !ok {
			return -1, defs.EINVAL
		}
		return pr.Read(dst)
	default:
		return -1, defs.EINVAL
	}
}

// Write dispatches by device, analogous to Read (spec §4.10).
func (c *Client_t) Write(slot int, src []byte) (int, defs.Err_t) {
	ffd, as, err := c.readFilefd(slot)
	if err != defs.EOK {
		return -1, err
	}
	switch ffd.DevID {
	case DevFile:
		n, werr := c.fileWrite(slot, ffd, as, src)
		if werr != defs.EOK {
			return -1, werr
		}
		c.writeFilefdOffset(slot, ffd.Offset+uint32(n))
		return n, defs.EOK
	case DevConsole:
		con, ok := c.consoles[slot]
		if !ok {
			return -1, defs.EINVAL
		}
		return con.Write(src)
	case DevPipe:
		p, ok := c.pipes[slot]
		if !ok {
			return -1, defs.EINVAL
		}
		return p.Write(src)
	case DevStat:
		st, ok := c.stats[slot]
		if !ok {
			return -1, defs.EINVAL
		}
		return st.Write(src)
	case DevProf:
		pr, ok := c.profs[slot]
		if !ok {
			return -1, defs.EINVAL
		}
		return pr.Write(src)
	default:
		return -1, defs.EINVAL
	}
}

// fileRead issues one MAP request per block the read spans, copying the
// intersection of [offset, offset+len(dst)) with the file's size out of
// each returned cache page (spec §4.10).
func (c *Client_t) fileRead(slot int, ffd fsreq.Filefd, as *vm.AddrSpace, dst []byte) (int, defs.Err_t) {
	const bsize = limits.PGSIZE
	total := 0
	off := ffd.Offset
	for total < len(dst) && off < ffd.Size {
		blockOff := off - (off % uint32(bsize))
		va, err := c.mapRequest(slot, blockOff)
		if err != defs.EOK {
			return total, err
		}
		pg, _, derr := as.Deref(va)
		if derr != defs.EOK {
			return total, derr
		}
		within := int(off % uint32(bsize))
		n := copy(dst[total:], pg[within:])
		avail := int(ffd.Size - off)
		if n > avail {
			n = avail
		}
		if n == 0 {
			break
		}
		total += n
		off += uint32(n)
	}
	return total, defs.EOK
}

// fileWrite issues MAP (allocating), copies in, DIRTY, and — if the write
// extended past the file's cached size — SET_SIZE (spec §4.10).
func (c *Client_t) fileWrite(slot int, ffd fsreq.Filefd, as *vm.AddrSpace, src []byte) (int, defs.Err_t) {
	const bsize = limits.PGSIZE
	total := 0
	off := ffd.Offset
	for total < len(src) {
		blockOff := off - (off % uint32(bsize))
		va, err := c.mapRequest(slot, blockOff)
		if err != defs.EOK {
			return total, err
		}
		pg, _, derr := as.Deref(va)
		if derr != defs.EOK {
			return total, derr
		}
		within := int(off % uint32(bsize))
		n := copy(pg[within:], src[total:])
		if n == 0 {
			break
		}
		if derr := c.dirtyRequest(slot, blockOff); derr != defs.EOK {
			return total, derr
		}
		total += n
		off += uint32(n)
	}
	if off > ffd.Size {
		if err := c.setSizeRequest(slot, off); err != defs.EOK {
			return total, err
		}
	}
	return total, defs.EOK
}

func (c *Client_t) mapRequest(slot int, offset uint32) (uint32, defs.Err_t) {
	ffd, _, err := c.readFilefd(slot)
	if err != defs.EOK {
		return 0, err
	}
	value, hasPage := c.requestWithArgs(fsreq.Map, ffd.Fileid, offset)
	if value < 0 {
		return 0, defs.Err_t(value)
	}
	if !hasPage {
		return 0, defs.EINVAL
	}
	return limits.REQVA, defs.EOK
}

func (c *Client_t) dirtyRequest(slot int, offset uint32) defs.Err_t {
	ffd, _, err := c.readFilefd(slot)
	if err != defs.EOK {
		return err
	}
	value, _ := c.requestWithArgs(fsreq.Dirty, ffd.Fileid, offset)
	if value < 0 {
		return defs.Err_t(value)
	}
	return defs.EOK
}

func (c *Client_t) setSizeRequest(slot int, size uint32) defs.Err_t {
	ffd, as, err := c.readFilefd(slot)
	if err != defs.EOK {
		return err
	}
	value, _ := c.requestWithArgs(fsreq.SetSize, ffd.Fileid, size)
	if value < 0 {
		return defs.Err_t(value)
	}
	if pg, _, derr := as.Deref(slotVA(slot)); derr == defs.EOK {
		fsreq.PutU32(pg[fsreq.FfdSizeOff:], size)
	}
	return defs.EOK
}

// Stat dispatches STAT to the server, returning the open file's current
// size and type (spec §3's reserved stat device-table entry). The response
// is written back into the same shared request page the server read the
// fileid from, rather than returned as a separate mapped page (spec §4.4's
// page-sharing means the client's own scratch frame already holds it).
func (c *Client_t) Stat(slot int) (uint32, uint32, defs.Err_t) {
	ffd, _, err := c.readFilefd(slot)
	if err != defs.EOK {
		return 0, 0, err
	}
	if ffd.DevID != DevFile {
		return 0, 0, defs.EINVAL
	}
	self := c.selfEnv()
	if err := c.k.MemAlloc(c.id, scratchReqVA, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		return 0, 0, err
	}
	pg, _, derr := self.AS.Deref(scratchReqVA)
	if derr != defs.EOK {
		return 0, 0, derr
	}
	fsreq.PutU32(pg[fsreq.StatFileidOff:], uint32(ffd.Fileid))

	value, _ := c.request(fsreq.Stat, scratchReqVA, limits.REQVA)
	if value < 0 {
		c.k.MemUnmap(c.id, scratchReqVA)
		return 0, 0, defs.Err_t(value)
	}
	size := fsreq.GetU32(pg[fsreq.StatSizeOff:])
	typ := fsreq.GetU32(pg[fsreq.StatTypOff:])
	c.k.MemUnmap(c.id, scratchReqVA)
	return size, typ, defs.EOK
}

func (c *Client_t) requestWithArgs(reqType int, fileid int32, arg uint32) (int32, bool) {
	self := c.selfEnv()
	if err := c.k.MemAlloc(c.id, scratchReqVA, vm.PTE_P|vm.PTE_U|vm.PTE_W); err != defs.EOK {
		return int32(err), false
	}
	pg, _, derr := self.AS.Deref(scratchReqVA)
	if derr != defs.EOK {
		return int32(derr), false
	}
	fsreq.PutU32(pg[0:], uint32(fileid))
	fsreq.PutU32(pg[4:], arg)
	value, hasPage := c.request(reqType, scratchReqVA, limits.REQVA)
	c.k.MemUnmap(c.id, scratchReqVA)
	return value, hasPage
}

// Close dispatches CLOSE to the server, then unmaps the descriptor's local
// slot (spec §4.10).
func (c *Client_t) Close(slot int) defs.Err_t {
	ffd, _, err := c.readFilefd(slot)
	if err != defs.EOK {
		return err
	}
	switch ffd.DevID {
	case DevFile:
		if value, _ := c.requestWithArgs(fsreq.Close, ffd.Fileid, 0); value < 0 {
			return defs.Err_t(value)
		}
	case DevConsole:
		delete(c.consoles, slot)
	case DevPipe:
		delete(c.pipes, slot)
	case DevStat:
		delete(c.stats, slot)
	case DevProf:
		delete(c.profs, slot)
	}
	return c.k.MemUnmap(c.id, slotVA(slot))
}
