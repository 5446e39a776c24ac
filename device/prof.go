package device

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/google/pprof/profile"

	"corekernel/defs"
)

// Counters_i is a snapshot source shared by Stat_t and Prof_t: a callback
// returning the kernel's current named counters (frame pool occupancy,
// cache dirty-block count, and the like) at read time, rather than a fixed
// struct, so the debug device never goes stale relative to whichever
// allocator/cache it is wired to.
type Counters_i func() map[string]int64

// Stat_t is the D_STAT debug device (spec §3's reserved device table):
// a plain-text "name: value" snapshot of the kernel's counters, read in one
// shot per Read call.
type Stat_t struct {
	counters Counters_i
}

// NewStat returns a stat device reporting counters on each Read.
func NewStat(counters Counters_i) *Stat_t {
	return &Stat_t{counters: counters}
}

func sortedNames(m map[string]int64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Read formats the current counters as sorted "name: value\n" lines into
// dst, truncating if dst is too small.
func (s *Stat_t) Read(dst []byte) (int, defs.Err_t) {
	var buf bytes.Buffer
	m := s.counters()
	for _, name := range sortedNames(m) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(strconv.FormatInt(m[name], 10))
		buf.WriteByte('\n')
	}
	return copy(dst, buf.Bytes()), defs.EOK
}

// Write always fails: stat is a read-only device.
func (s *Stat_t) Write(src []byte) (int, defs.Err_t) {
	return 0, defs.EINVAL
}

// Prof_t is the D_PROF debug device (spec §3's reserved device table): the
// same counters as Stat_t, but serialized as a gzip-compressed pprof
// profile (package github.com/google/pprof/profile) so host tooling can
// inspect them with `go tool pprof` instead of parsing text.
type Prof_t struct {
	counters Counters_i
}

// NewProf returns a pprof-format debug device reporting counters on each
// Read.
func NewProf(counters Counters_i) *Prof_t {
	return &Prof_t{counters: counters}
}

// snapshot builds one Sample per counter, each carrying its own synthetic
// Location/Function named after the counter, so `go tool pprof -top` lists
// counters by name.
func (p *Prof_t) snapshot() *profile.Profile {
	m := p.counters()
	names := sortedNames(m)

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "snapshot", Unit: "count"},
		Period:     1,
	}
	for i, name := range names {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: name, SystemName: name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{m[name]},
		})
	}
	return prof
}

// Read serializes the current counters as a gzip-compressed pprof profile
// into dst, truncating if dst is too small.
func (p *Prof_t) Read(dst []byte) (int, defs.Err_t) {
	var buf bytes.Buffer
	if err := p.snapshot().Write(&buf); err != nil {
		return 0, defs.EINVAL
	}
	return copy(dst, buf.Bytes()), defs.EOK
}

// Write always fails: prof is a read-only device.
func (p *Prof_t) Write(src []byte) (int, defs.Err_t) {
	return 0, defs.EINVAL
}
