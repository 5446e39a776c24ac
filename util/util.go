// Package util contains small numeric helpers shared across the kernel
// packages. It has no dependency on any other package in this module so that
// everything else, from the physical allocator up to the FS server, can use
// it without creating import cycles.
package util

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Ceildiv divides a by b, rounding up. Used throughout the FS layer to turn
// a byte size into a block count.
func Ceildiv[T Int](a, b T) T {
	return (a + b - 1) / b
}
