// Package ipc implements the two IPC syscalls spec §4.4/§4.6 describe:
// synchronous rendezvous with no queueing. A receiver blocks by marking
// itself NotRunnable and recording that it wants a message; a sender
// succeeds only against a blocked, matching receiver and otherwise fails
// immediately with EIPCNOTRECV. There is no retry loop here — a client that
// needs one builds it on top of these two calls (spec §4.6).
package ipc

import (
	"corekernel/defs"
	"corekernel/env"
	"corekernel/kernel"
	"corekernel/vm"
)

// Recv implements ipc_recv (spec §4.4): the caller records that it is
// waiting for a message to be written at dstVA and marks itself NotRunnable.
// It does not call the scheduler; the caller's next Schedule moves on to
// another environment. The match (if any) is completed by a later Send
// call; by the time the scheduler runs this environment again,
// Cur.LastValue/LastSender/LastPerm hold the delivered message.
func Recv(k *kernel.Kernel_t, dstVA uint32) {
	e := k.Cur
	e.Recving = true
	e.RecvVA = dstVA
	e.Status = env.NotRunnable
}

// Send implements ipc_can_send (spec §4.4): if dst is not currently
// Recving, it fails fast with EIPCNOTRECV. Otherwise it delivers value and
// perm to dst, optionally mapping the caller's page at srcVA into dst at
// dst.RecvVA (when srcVA != 0), clears dst's Recving flag, and marks it
// Runnable.
func Send(k *kernel.Kernel_t, dstID env.Envid_t, value uint32, srcVA uint32, perm vm.Perm) defs.Err_t {
	dst, err := k.Envs.Envid2Env(dstID, k.Cur, false)
	if err != defs.EOK {
		return err
	}
	if !dst.Recving {
		return defs.EIPCNOTRECV
	}
	sender := k.Cur
	dst.LastSender = sender.ID
	dst.LastValue = value
	dst.LastPerm = 0
	dst.LastPage = false
	if srcVA != 0 {
		frame, _, ok := sender.AS.Lookup(srcVA)
		if !ok {
			return defs.EINVAL
		}
		if err := dst.AS.Insert(frame, dst.RecvVA, perm); err != defs.EOK {
			return err
		}
		dst.LastPerm = perm
		dst.LastPage = true
	}
	dst.Recving = false
	dst.Status = env.Runnable
	return defs.EOK
}
