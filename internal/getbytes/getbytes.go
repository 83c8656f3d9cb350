// Package getbytes converts float64 sample slices to and from raw bytes
// without copying, using unsafe.Slice. The frame codec is on the hot path at
// large sample counts, where an element-by-element binary.Write dominates
// encode latency.
package getbytes

import (
	"unsafe"
)

// FromSliceFloat64 converts a []float64 to []byte using unsafe.Slice.
// The result aliases d: the caller must not let d change while the bytes
// are in use.
func FromSliceFloat64(d []float64) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0]) / unsafe.Sizeof(byte(0))
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// FromSliceUint64 converts a []uint64 to []byte using unsafe.Slice.
func FromSliceUint64(d []uint64) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0]) / unsafe.Sizeof(byte(0))
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// ToSliceFloat64 reinterprets b as a []float64. The length of b must be a
// multiple of 8; excess bytes are ignored. The result aliases b.
func ToSliceFloat64(b []byte) []float64 {
	n := len(b) / int(unsafe.Sizeof(float64(0)))
	if n == 0 {
		return []float64{}
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), n)
}
