// Command kernel wires every package in this repository together into one
// runnable demonstration: boot a kernel, format a disk image, stand up the
// FS server as an ordinary environment, fork a CoW child, and drive a
// client through open/write/read/close over the synchronous IPC wire
// protocol (package fsreq). It plays the role the teacher kernel's own
// main/boot sequence plays, compressed into a single host process since
// there is no real hardware reset vector or trap gate here (spec §1's
// Non-goals explicitly exclude emulating one).
package main

import (
	"fmt"
	"log"

	"corekernel/defs"
	"corekernel/disk"
	"corekernel/env"
	"corekernel/fs"
	"corekernel/fsreq"
	"corekernel/fsserver"
	"corekernel/fd"
	"corekernel/kernel"
	"corekernel/kfork"
	"corekernel/ustr"
	"corekernel/vm"
)

const nblocks = 1024

func main() {
	k := kernel.New(nblocks + 2048)

	// The boot environment doubles as the FS server: spec §4.9 calls the FS
	// server "an ordinary environment," and nothing requires it to be a
	// child of anything.
	fsEnv, err := k.Boot()
	must("boot", err)

	d := disk.New(nblocks * fs.BSIZE / disk.SectorSize)
	fsys, err := fs.FormatFs(k, fsEnv.ID, d, nblocks)
	must("format", err)

	seedDemoFile(fsys)

	srv := fsserver.NewServer(k, fsEnv.ID, fsys)
	srv.Arm()

	// Spawn a client as fsEnv's child, then a grandchild via CoW fork, to
	// exercise both the FD/IPC path and the fork library in one run.
	clientEnv, err := k.EnvAlloc()
	must("env_alloc client", err)
	must("set_env_status client", k.SetEnvStatus(clientEnv.ID, env.Runnable))

	// Advance Cur onto the client: fsEnv is NotRunnable (blocked in Arm's
	// ipc_recv), so the scheduler lands on the newly Runnable client next.
	cur := k.Schedule()
	if cur.ID != clientEnv.ID {
		log.Fatalf("kernel: expected client to be scheduled, got %v", cur.ID)
	}

	client := fd.NewClient(k, clientEnv.ID, fsEnv.ID, srv)

	slot, operr := client.Open(ustr.Ustr("/hello"), fsreq.ORead|fsreq.OWrite)
	must("open /hello", operr)

	buf := make([]byte, 64)
	n, rerr := client.Read(slot, buf)
	must("read /hello", rerr)
	fmt.Printf("read %d bytes: %q\n", n, buf[:n])

	n, werr := client.Write(slot, []byte(" world"))
	must("write /hello", werr)
	fmt.Printf("wrote %d bytes\n", n)

	must("close /hello", client.Close(slot))

	demoStatAndProf(client)
	demoForkCOW(k, clientEnv.ID)
}

// demoStatAndProf exercises the D_STAT/D_PROF debug devices: a text
// counters snapshot and a gzip-compressed pprof profile of the same
// counters, respectively (spec §3's reserved device table).
func demoStatAndProf(client *fd.Client_t) {
	statSlot, err := client.OpenStat()
	must("open_stat", err)
	statBuf := make([]byte, 256)
	n, rerr := client.Read(statSlot, statBuf)
	must("read stat", rerr)
	fmt.Printf("stat snapshot:\n%s", statBuf[:n])
	must("close stat", client.Close(statSlot))

	profSlot, err := client.OpenProf()
	must("open_prof", err)
	profBuf := make([]byte, 4096)
	n, rerr = client.Read(profSlot, profBuf)
	must("read prof", rerr)
	fmt.Printf("prof snapshot: %d bytes of gzip-compressed pprof data\n", n)
	must("close prof", client.Close(profSlot))
}

func seedDemoFile(fsys *fs.Fs_t) {
	f, err := fsys.FileCreate(ustr.Ustr("/hello"), fs.TFile)
	must("create /hello", err)
	must("write /hello", fsys.WriteAt(f, 0, []byte("hello")))
}

// demoForkCOW forks parentID and shows the copy-on-write property spec §8
// asks for: a write in one environment, once resolved through the fault
// handler, is invisible to the other (spec §4.5's duppage/Pgfault pair).
// There is no hardware trap here, so the "fault" is invoked directly,
// standing in for the trampoline a real write would take.
func demoForkCOW(k *kernel.Kernel_t, parentID env.Envid_t) {
	parent, err := k.Lookup(parentID)
	must("lookup parent", err)
	k.Cur = parent

	const va = 0x10000000
	must("mem_alloc demo page", k.MemAlloc(parent.ID, va, vm.PTE_P|vm.PTE_U|vm.PTE_W))
	pg, _, derr := parent.AS.Deref(va)
	must("deref demo page", derr)
	pg[0] = 0xAA

	child, ferr := kfork.Fork(k)
	must("fork", ferr)

	// Simulate the child writing its copy: resolve the CoW fault, then
	// write through the now-private frame.
	must("child pgfault", kfork.Pgfault(k, child, va))
	cpg, _, cerr := child.AS.Deref(va)
	must("deref child page", cerr)
	cpg[0] = 0xBB

	ppg, _, perr := parent.AS.Deref(va)
	must("deref parent page", perr)
	fmt.Printf("cow fork: parent byte=%#x child byte=%#x (independent after fault)\n", ppg[0], cpg[0])
}

func must(step string, err defs.Err_t) {
	if err != defs.EOK {
		log.Fatalf("kernel: %s: %v", step, err)
	}
}
