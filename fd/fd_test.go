package fd

import (
	"testing"

	"corekernel/defs"
	"corekernel/disk"
	"corekernel/env"
	"corekernel/fs"
	"corekernel/fsreq"
	"corekernel/fsserver"
	"corekernel/kernel"
	"corekernel/ustr"
)

const testNblocks = 64

// newTestClient boots a kernel, formats a disk, seeds /hello, stands up the
// FS server, and spawns+schedules a client environment, mirroring the wiring
// cmd/kernel's demo performs.
func newTestClient(t *testing.T) (*kernel.Kernel_t, *Client_t, env.Envid_t) {
	t.Helper()
	k := kernel.New(256)
	fsEnv, err := k.Boot()
	if err != defs.EOK {
		t.Fatalf("boot: %v", err)
	}
	d := disk.New(testNblocks * fs.BSIZE / disk.SectorSize)
	fsys, err := fs.FormatFs(k, fsEnv.ID, d, testNblocks)
	if err != defs.EOK {
		t.Fatalf("format_fs: %v", err)
	}
	f, err := fsys.FileCreate(ustr.Ustr("/hello"), fs.TFile)
	if err != defs.EOK {
		t.Fatalf("file_create: %v", err)
	}
	if err := fsys.WriteAt(f, 0, []byte("hello")); err != defs.EOK {
		t.Fatalf("write_at: %v", err)
	}

	srv := fsserver.NewServer(k, fsEnv.ID, fsys)
	srv.Arm()

	clientEnv, err := k.EnvAlloc()
	if err != defs.EOK {
		t.Fatalf("env_alloc: %v", err)
	}
	if err := k.SetEnvStatus(clientEnv.ID, env.Runnable); err != defs.EOK {
		t.Fatalf("set_env_status: %v", err)
	}
	cur := k.Schedule()
	if cur.ID != clientEnv.ID {
		t.Fatalf("expected client to be scheduled, got %v", cur.ID)
	}

	client := NewClient(k, clientEnv.ID, fsEnv.ID, srv)
	return k, client, clientEnv.ID
}

func TestOpenReadWriteCloseRoundTrip(t *testing.T) {
	_, client, _ := newTestClient(t)

	slot, err := client.Open(ustr.Ustr("/hello"), fsreq.ORead|fsreq.OWrite)
	if err != defs.EOK {
		t.Fatalf("open: %v", err)
	}

	buf := make([]byte, 64)
	n, rerr := client.Read(slot, buf)
	if rerr != defs.EOK {
		t.Fatalf("read: %v", rerr)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("read %q, want %q", buf[:n], "hello")
	}

	n, werr := client.Write(slot, []byte(" world"))
	if werr != defs.EOK {
		t.Fatalf("write: %v", werr)
	}
	if n != len(" world") {
		t.Fatalf("wrote %d bytes, want %d", n, len(" world"))
	}

	if err := client.Close(slot); err != defs.EOK {
		t.Fatalf("close: %v", err)
	}
}

func TestReadAfterWriteSeesAppendedBytes(t *testing.T) {
	_, client, _ := newTestClient(t)

	slot, err := client.Open(ustr.Ustr("/hello"), fsreq.ORead|fsreq.OWrite)
	if err != defs.EOK {
		t.Fatalf("open: %v", err)
	}
	buf := make([]byte, 5)
	if _, rerr := client.Read(slot, buf); rerr != defs.EOK {
		t.Fatalf("read: %v", rerr)
	}
	if _, werr := client.Write(slot, []byte(" world")); werr != defs.EOK {
		t.Fatalf("write: %v", werr)
	}
	if err := client.Close(slot); err != defs.EOK {
		t.Fatalf("close: %v", err)
	}

	slot2, err := client.Open(ustr.Ustr("/hello"), fsreq.ORead)
	if err != defs.EOK {
		t.Fatalf("reopen: %v", err)
	}
	full := make([]byte, 64)
	n, rerr := client.Read(slot2, full)
	if rerr != defs.EOK {
		t.Fatalf("read: %v", rerr)
	}
	if string(full[:n]) != "hello world" {
		t.Fatalf("read %q, want %q", full[:n], "hello world")
	}
}

func TestStatReportsSizeAndType(t *testing.T) {
	_, client, _ := newTestClient(t)

	slot, err := client.Open(ustr.Ustr("/hello"), fsreq.ORead)
	if err != defs.EOK {
		t.Fatalf("open: %v", err)
	}
	size, typ, serr := client.Stat(slot)
	if serr != defs.EOK {
		t.Fatalf("stat: %v", serr)
	}
	if size != 5 {
		t.Fatalf("size = %d, want 5", size)
	}
	if typ != fs.TFile {
		t.Fatalf("typ = %d, want TFile", typ)
	}
	if err := client.Close(slot); err != defs.EOK {
		t.Fatalf("close: %v", err)
	}
}

// TestOpenReadAbcdScenario exercises the exact walkthrough: client
// open("/x", RDWR), read(fd, buf, 4) against a file containing "ABCD\0";
// expect return value 4, buf == "ABCD", and the fd's offset left at 4.
func TestOpenReadAbcdScenario(t *testing.T) {
	k := kernel.New(256)
	fsEnv, err := k.Boot()
	if err != defs.EOK {
		t.Fatalf("boot: %v", err)
	}
	d := disk.New(testNblocks * fs.BSIZE / disk.SectorSize)
	fsys, err := fs.FormatFs(k, fsEnv.ID, d, testNblocks)
	if err != defs.EOK {
		t.Fatalf("format_fs: %v", err)
	}
	f, err := fsys.FileCreate(ustr.Ustr("/x"), fs.TFile)
	if err != defs.EOK {
		t.Fatalf("file_create: %v", err)
	}
	if err := fsys.WriteAt(f, 0, []byte("ABCD\x00")); err != defs.EOK {
		t.Fatalf("write_at: %v", err)
	}

	srv := fsserver.NewServer(k, fsEnv.ID, fsys)
	srv.Arm()

	clientEnv, err := k.EnvAlloc()
	if err != defs.EOK {
		t.Fatalf("env_alloc: %v", err)
	}
	if err := k.SetEnvStatus(clientEnv.ID, env.Runnable); err != defs.EOK {
		t.Fatalf("set_env_status: %v", err)
	}
	k.Schedule()
	client := NewClient(k, clientEnv.ID, fsEnv.ID, srv)

	slot, err := client.Open(ustr.Ustr("/x"), fsreq.ORead|fsreq.OWrite)
	if err != defs.EOK {
		t.Fatalf("open: %v", err)
	}
	buf := make([]byte, 4)
	n, rerr := client.Read(slot, buf)
	if rerr != defs.EOK {
		t.Fatalf("read: %v", rerr)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if string(buf) != "ABCD" {
		t.Fatalf("buf = %q, want %q", buf, "ABCD")
	}

	// A second 1-byte read only sees the trailing NUL if the fd's offset
	// advanced to 4 after the first read, not back to 0.
	tail := make([]byte, 1)
	n, rerr = client.Read(slot, tail)
	if rerr != defs.EOK {
		t.Fatalf("tail read: %v", rerr)
	}
	if n != 1 || tail[0] != 0 {
		t.Fatalf("expected the offset to have advanced to 4, got n=%d byte=%d", n, tail[0])
	}
}

func TestOpenMissingPathFails(t *testing.T) {
	_, client, _ := newTestClient(t)

	if _, err := client.Open(ustr.Ustr("/nope"), fsreq.ORead); err != defs.ENOTFOUND {
		t.Fatalf("expected ENOTFOUND, got %v", err)
	}
}

func TestConsoleEchoesWrittenBytes(t *testing.T) {
	_, client, _ := newTestClient(t)

	slot, err := client.OpenConsole()
	if err != defs.EOK {
		t.Fatalf("open_console: %v", err)
	}
	if _, werr := client.Write(slot, []byte("hi")); werr != defs.EOK {
		t.Fatalf("write: %v", werr)
	}
	buf := make([]byte, 8)
	n, rerr := client.Read(slot, buf)
	if rerr != defs.EOK || n != 0 {
		t.Fatalf("expected (0, EOK) reading from the console, got (%d, %v)", n, rerr)
	}
	if err := client.Close(slot); err != defs.EOK {
		t.Fatalf("close: %v", err)
	}
}

func TestPipeWriteThenReadRoundTrip(t *testing.T) {
	_, client, _ := newTestClient(t)

	slot, err := client.OpenPipe(64)
	if err != defs.EOK {
		t.Fatalf("open_pipe: %v", err)
	}
	if _, werr := client.Write(slot, []byte("ABCD")); werr != defs.EOK {
		t.Fatalf("write: %v", werr)
	}
	buf := make([]byte, 4)
	n, rerr := client.Read(slot, buf)
	if rerr != defs.EOK {
		t.Fatalf("read: %v", rerr)
	}
	if string(buf[:n]) != "ABCD" {
		t.Fatalf("read %q, want %q", buf[:n], "ABCD")
	}
	if err := client.Close(slot); err != defs.EOK {
		t.Fatalf("close: %v", err)
	}
}

func TestStatDeviceReportsCounters(t *testing.T) {
	_, client, _ := newTestClient(t)

	slot, err := client.OpenStat()
	if err != defs.EOK {
		t.Fatalf("open_stat: %v", err)
	}
	buf := make([]byte, 256)
	n, rerr := client.Read(slot, buf)
	if rerr != defs.EOK {
		t.Fatalf("read: %v", rerr)
	}
	if n == 0 {
		t.Fatal("expected a non-empty counters snapshot")
	}
	if _, werr := client.Write(slot, []byte("x")); werr != defs.EINVAL {
		t.Fatalf("expected EINVAL writing to the stat device, got %v", werr)
	}
	if err := client.Close(slot); err != defs.EOK {
		t.Fatalf("close: %v", err)
	}
}

func TestProfDeviceReportsCounters(t *testing.T) {
	_, client, _ := newTestClient(t)

	slot, err := client.OpenProf()
	if err != defs.EOK {
		t.Fatalf("open_prof: %v", err)
	}
	buf := make([]byte, 4096)
	n, rerr := client.Read(slot, buf)
	if rerr != defs.EOK {
		t.Fatalf("read: %v", rerr)
	}
	if n == 0 {
		t.Fatal("expected a non-empty pprof snapshot")
	}
	if err := client.Close(slot); err != defs.EOK {
		t.Fatalf("close: %v", err)
	}
}
