// Package device implements the device kinds spec §1 names as external
// collaborators but leaves unspecified beyond their interface (console,
// pipe), plus the debug devices (prof.go) backing the D_STAT/D_PROF
// slots the teacher's own device table reserves but never wires to
// anything. Console and pipe are deliberately minimal in-process stand-ins
// — there is no real terminal or scheduler-level blocking here — existing
// only so the D_CONSOLE/D_PIPE device IDs in package defs have something to
// dispatch to (spec §3's device descriptor table; spec §4.10's read/write
// routing).
package device

import (
	"corekernel/circbuf"
	"corekernel/defs"
)

// Console_t is a write-mostly console: writes are appended to an
// in-memory transcript (standing in for a real terminal driver), and reads
// return EOF (0, EOK) since this repo has no keyboard input source.
type Console_t struct {
	transcript []byte
}

// NewConsole returns an empty console.
func NewConsole() *Console_t { return &Console_t{} }

// Write appends src to the console's transcript.
func (c *Console_t) Write(src []byte) (int, defs.Err_t) {
	c.transcript = append(c.transcript, src...)
	return len(src), defs.EOK
}

// Read always reports EOF; this console has no input source.
func (c *Console_t) Read(dst []byte) (int, defs.Err_t) {
	return 0, defs.EOK
}

// Transcript returns everything written to the console so far, for tests.
func (c *Console_t) Transcript() []byte { return c.transcript }

// Pipe_t is an unnamed pipe: a fixed-capacity byte ring (package circbuf)
// with one writer end and one reader end, both driven synchronously by
// whichever client calls Read/Write — there is no blocking-until-space
// here, matching spec §1's treatment of the pipe device as an external
// collaborator whose scheduling behavior this repo does not model.
type Pipe_t struct {
	buf *circbuf.Circbuf_t
}

// NewPipe allocates a pipe with the given buffer capacity.
func NewPipe(capacity int) *Pipe_t {
	return &Pipe_t{buf: circbuf.New(capacity)}
}

// Write copies as much of src into the pipe's buffer as fits.
func (p *Pipe_t) Write(src []byte) (int, defs.Err_t) {
	return p.buf.Copyin(src)
}

// Read copies out of the pipe's buffer into dst.
func (p *Pipe_t) Read(dst []byte) (int, defs.Err_t) {
	return p.buf.Copyout(dst)
}
