package disk

import "testing"

func TestIdeWriteThenIdeReadRoundTrip(t *testing.T) {
	d := New(4)
	want := make([]byte, SectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	d.IdeWrite(1, 1, want)

	got := make([]byte, SectorSize)
	d.IdeRead(1, 1, got)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestIdeReadWriteMultiSector(t *testing.T) {
	d := New(4)
	want := make([]byte, SectorSize*2)
	for i := range want {
		want[i] = byte(i % 251)
	}
	d.IdeWrite(2, 2, want)

	got := make([]byte, SectorSize*2)
	d.IdeRead(2, 2, got)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestNsectorsAndBytesReflectSize(t *testing.T) {
	d := New(8)
	if d.Nsectors() != 8 {
		t.Fatalf("nsectors = %d, want 8", d.Nsectors())
	}
	if len(d.Bytes()) != 8*SectorSize {
		t.Fatalf("bytes len = %d, want %d", len(d.Bytes()), 8*SectorSize)
	}
}

func TestBytesReturnsACopyNotTheLiveBackingStore(t *testing.T) {
	d := New(1)
	snap := d.Bytes()
	snap[0] = 0xFF

	fresh := d.Bytes()
	if fresh[0] == 0xFF {
		t.Fatal("mutating a Bytes() snapshot must not affect the disk's own storage")
	}
}

func TestStartServicesReadAndWriteAndAcks(t *testing.T) {
	d := New(2)
	wreq := &Req_t{Sector: 0, Count: 1, Buf: []byte("hello world!" + string(make([]byte, SectorSize-12))), Write: true, AckCh: make(chan bool, 1)}
	if ok := d.Start(wreq); !ok {
		t.Fatal("expected Start to report success")
	}
	<-wreq.AckCh

	buf := make([]byte, SectorSize)
	rreq := &Req_t{Sector: 0, Count: 1, Buf: buf, Write: false, AckCh: make(chan bool, 1)}
	d.Start(rreq)
	<-rreq.AckCh
	if string(buf[:12]) != "hello world!" {
		t.Fatalf("read back %q, want %q", buf[:12], "hello world!")
	}
}
