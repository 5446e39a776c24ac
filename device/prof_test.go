package device

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/pprof/profile"

	"corekernel/defs"
)

func fixedCounters() map[string]int64 {
	return map[string]int64{"frames_free": 12, "frames_total": 64, "fs_dirty_blocks": 3}
}

func TestStatReadFormatsCountersSorted(t *testing.T) {
	s := NewStat(fixedCounters)
	buf := make([]byte, 256)
	n, err := s.Read(buf)
	if err != defs.EOK {
		t.Fatalf("read: %v", err)
	}
	got := string(buf[:n])
	wantOrder := []string{"frames_free: 12", "frames_total: 64", "fs_dirty_blocks: 3"}
	prev := -1
	for _, line := range wantOrder {
		idx := strings.Index(got, line)
		if idx < 0 {
			t.Fatalf("output %q missing line %q", got, line)
		}
		if idx < prev {
			t.Fatalf("lines out of sorted order in %q", got)
		}
		prev = idx
	}
}

func TestStatWriteIsReadOnly(t *testing.T) {
	s := NewStat(fixedCounters)
	if _, err := s.Write([]byte("x")); err != defs.EINVAL {
		t.Fatalf("expected EINVAL writing to a stat device, got %v", err)
	}
}

func TestProfReadProducesParsablePprofProfile(t *testing.T) {
	p := NewProf(fixedCounters)
	buf := make([]byte, 4096)
	n, err := p.Read(buf)
	if err != defs.EOK {
		t.Fatalf("read: %v", err)
	}
	parsed, perr := profile.Parse(bytes.NewReader(buf[:n]))
	if perr != nil {
		t.Fatalf("parse: %v", perr)
	}
	if len(parsed.Sample) != len(fixedCounters()) {
		t.Fatalf("got %d samples, want %d", len(parsed.Sample), len(fixedCounters()))
	}
	seen := map[string]int64{}
	for _, s := range parsed.Sample {
		name := s.Location[0].Line[0].Function.Name
		seen[name] = s.Value[0]
	}
	for name, want := range fixedCounters() {
		if seen[name] != want {
			t.Fatalf("counter %q = %d, want %d", name, seen[name], want)
		}
	}
}

func TestProfWriteIsReadOnly(t *testing.T) {
	p := NewProf(fixedCounters)
	if _, err := p.Write([]byte("x")); err != defs.EINVAL {
		t.Fatalf("expected EINVAL writing to a prof device, got %v", err)
	}
}
