// Package fsreq is the wire contract between the FS server (package
// fsserver) and its clients (package fd): request type codes, the
// per-type payload layout of the REQVA page, and the Filefd record shared
// between server and client for every open file (spec §3, §4.9, §6). It is
// its own package, underneath both fsserver and fd, because both sides of
// the IPC boundary must agree on these byte offsets independently of which
// side initiates a change to them.
package fsreq

// Request type codes, carried in the IPC scalar value alongside the
// request page mapped at REQVA (spec §4.9/§6).
const (
	Open = iota
	Map
	SetSize
	Close
	Dirty
	Remove
	Sync
	Stat
)

// Wire offsets within the REQVA page, matching spec §6's per-type payload
// layout.
const (
	OpenPathOff  = 0
	OpenPathLen  = 1024
	OpenOmodeOff = OpenPathLen

	MapFileidOff = 0
	MapOffsetOff = 4

	SetSizeFileidOff = 0
	SetSizeSizeOff   = 4

	CloseFileidOff = 0

	DirtyFileidOff = 0
	DirtyOffsetOff = 4

	RemovePathOff = 0
	RemovePathLen = 1024

	// STAT's request carries only a fileid; the server overwrites the same
	// page in place with the response (spec §3's device descriptor reserves
	// a stat function pointer; this is its wire form), since the request and
	// reply share one physical frame for the duration of the round trip
	// (spec §4.4's IPC page-sharing, reused here exactly as OPEN reuses it
	// for the Filefd page).
	StatFileidOff = 0
	StatSizeOff   = 0
	StatTypOff    = 4
)

// Open mode bits (spec §4.10's fd permission bits).
const (
	ORead  = 0x1
	OWrite = 0x2
)

// Filefd is the record backing every FD-table slot (spec §3): for files
// opened via the FS server this page is literally the same physical frame
// shared LIBRARY between server and client, which is how advancing Offset
// on the client side becomes visible to the server on the very next
// request naming the same Fileid (spec §5's canonical shared-mutable-state
// example). DevID/Offset/Mode are client-owned fields; Fileid/Size/Typ are
// server-owned, written once at OPEN time and re-synced by SetSize.
type Filefd struct {
	DevID  uint32
	Offset uint32
	Mode   uint32
	Fileid int32
	Size   uint32
	Typ    uint32
}

// FilefdSize is the encoded byte length of a Filefd record.
const FilefdSize = 24

const (
	ffdDevIDOff  = 0
	ffdOffsetOff = 4
	ffdModeOff   = 8
	ffdFileidOff = 12
	ffdSizeOff   = 16
	ffdTypOff    = 20
)

// FfdSizeOff is the byte offset of the Filefd.Size field, exported so the
// FS server can patch a live file's cached size in place after SetSize
// without re-encoding the whole record.
const FfdSizeOff = ffdSizeOff

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLe32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Encode serializes f into b, which must be at least FilefdSize bytes.
func Encode(b []byte, f Filefd) {
	putLe32(b[ffdDevIDOff:], f.DevID)
	putLe32(b[ffdOffsetOff:], f.Offset)
	putLe32(b[ffdModeOff:], f.Mode)
	putLe32(b[ffdFileidOff:], uint32(f.Fileid))
	putLe32(b[ffdSizeOff:], f.Size)
	putLe32(b[ffdTypOff:], f.Typ)
}

// Decode parses a Filefd out of b.
func Decode(b []byte) Filefd {
	return Filefd{
		DevID:  le32(b[ffdDevIDOff:]),
		Offset: le32(b[ffdOffsetOff:]),
		Mode:   le32(b[ffdModeOff:]),
		Fileid: int32(le32(b[ffdFileidOff:])),
		Size:   le32(b[ffdSizeOff:]),
		Typ:    le32(b[ffdTypOff:]),
	}
}

// PutU32/GetU32 are the same little-endian codec used for the bare scalar
// payload fields (fileid, offset, size) inside request pages, exported for
// package fsserver and package fd to share.
func PutU32(b []byte, v uint32) { putLe32(b, v) }
func GetU32(b []byte) uint32    { return le32(b) }
