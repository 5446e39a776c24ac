// Package disk models the IDE block device spec §1 treats as an external
// collaborator: only its ide_read(disk, sector, dst, count)/ide_write(...)
// interface is specified, not its driver. The request/ack-channel shape is
// grounded directly on the teacher kernel's fs.Bdev_req_t and fs.Disk_i
// (biscuit/src/fs/blk.go), including its synchronous Start-then-wait-on-
// AckCh idiom; this package keeps that shape rather than a bare function
// call, since the ambient stack texture (spec's AMBIENT STACK section)
// calls for teacher idioms even where the underlying device is simulated.
package disk

import "sync"

// SectorSize is the disk's native sector size. BSIZE/SectorSize sectors
// make up one filesystem block (spec §6).
const SectorSize = 512

// Memdisk_t is an in-memory stand-in for the IDE driver: a flat byte slice
// addressed by sector. It is safe for the single in-process caller this
// kernel drives it with; the teacher's AckCh rendezvous is kept as the API
// shape even though the backing store never actually blocks.
type Memdisk_t struct {
	mu      sync.Mutex
	sectors []byte
}

// New allocates an in-memory disk of nsectors sectors, all zeroed.
func New(nsectors int) *Memdisk_t {
	return &Memdisk_t{sectors: make([]byte, nsectors*SectorSize)}
}

// IdeRead reads count sectors starting at sector into dst (spec §1's
// ide_read), routed through Start/AckCh like every other disk request.
func (d *Memdisk_t) IdeRead(sector, count int, dst []byte) {
	req := &Req_t{Sector: sector, Count: count, Buf: dst, Write: false, AckCh: make(chan bool, 1)}
	d.Start(req)
	<-req.AckCh
}

// IdeWrite writes count sectors starting at sector from src, routed through
// Start/AckCh like every other disk request.
func (d *Memdisk_t) IdeWrite(sector, count int, src []byte) {
	req := &Req_t{Sector: sector, Count: count, Buf: src, Write: true, AckCh: make(chan bool, 1)}
	d.Start(req)
	<-req.AckCh
}

// Nsectors reports the disk's total sector count.
func (d *Memdisk_t) Nsectors() int {
	return len(d.sectors) / SectorSize
}

// Bytes returns a copy of the disk's entire backing store, for host tools
// (cmd/mkfs) that need to persist an image built in memory out to a file.
func (d *Memdisk_t) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.sectors))
	copy(out, d.sectors)
	return out
}

// Req_t mirrors the teacher kernel's Bdev_req_t shape (a command plus an
// acknowledgement channel); IdeRead/IdeWrite build one and wait on its
// AckCh, and a caller driving the disk directly (e.g. a future real IDE
// driver behind the same interface) can do the same.
type Req_t struct {
	Sector int
	Count  int
	Buf    []byte
	Write  bool
	AckCh  chan bool
}

// Start services req synchronously against d and signals its AckCh,
// matching the teacher's Disk_i.Start contract. It is the one place that
// actually touches the backing store; IdeRead/IdeWrite are Start wrapped in
// a blocking wait on the very AckCh it signals.
func (d *Memdisk_t) Start(req *Req_t) bool {
	d.mu.Lock()
	off := req.Sector * SectorSize
	n := req.Count * SectorSize
	if req.Write {
		copy(d.sectors[off:off+n], req.Buf)
	} else {
		copy(req.Buf, d.sectors[off:off+n])
	}
	d.mu.Unlock()
	req.AckCh <- true
	return true
}
