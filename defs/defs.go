// Package defs holds the small vocabulary of types shared across the
// syscall/IPC ABI boundary: the error-kind integers and the fixed device
// identifiers. Both are part of the wire contract described in spec §6, so
// they live in one low, dependency-free package that every other package can
// import without risk of a cycle.
package defs

// Err_t is the signed error-kind integer that crosses every syscall and IPC
// boundary in this system: negative is an error kind, zero-or-positive is a
// result. This mirrors the teacher kernel's own Err_t convention, where
// errors are plain data instead of the `error` interface so they can be
// shipped as an IPC scalar.
type Err_t int

// Error kinds. The numeric values are part of the ABI between the FS server
// and its clients (spec §6) and must not be renumbered once assigned.
const (
	EOK         Err_t = 0
	EBADENV     Err_t = -1
	EINVAL      Err_t = -2
	ENOMEM      Err_t = -3
	ENODISK     Err_t = -4
	ENOTFOUND   Err_t = -5
	EBADPATH    Err_t = -6
	EEXISTS     Err_t = -7
	EMAXOPEN    Err_t = -8
	EIPCNOTRECV Err_t = -9
	ENOFREEENV  Err_t = -10
)

// String renders an Err_t for log lines; the zero value prints as "ok".
func (e Err_t) String() string {
	switch e {
	case EOK:
		return "ok"
	case EBADENV:
		return "bad-env"
	case EINVAL:
		return "invalid"
	case ENOMEM:
		return "no-mem"
	case ENODISK:
		return "no-disk"
	case ENOTFOUND:
		return "not-found"
	case EBADPATH:
		return "bad-path"
	case EEXISTS:
		return "file-exists"
	case EMAXOPEN:
		return "max-open"
	case EIPCNOTRECV:
		return "ipc-not-recv"
	case ENOFREEENV:
		return "no-free-env"
	default:
		return "unknown-err"
	}
}

// Device identifiers. Fixed across the system per spec §3; D_STAT and
// D_PROF are reserved slots the teacher's own defs/device.go carried but
// never wired to a real device — this repo's device package uses them for
// the debug/profile device (see SPEC_FULL.md's DOMAIN STACK section).
const (
	D_FILE    int = 0
	D_CONSOLE int = 1
	D_PIPE    int = 2
	D_STAT    int = 3
	D_PROF    int = 4
)
