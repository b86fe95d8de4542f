// Package mpi implements the multi-precision integers used by the DER codec.
//
// An Int stores its magnitude as little-endian 32-bit limbs and a separate
// sign. The limb slice is owned exclusively by the Int: Free and every
// reallocation zero the previous limbs before dropping them, so key material
// does not linger in released memory.
//
// The zero value is ready to use and represents zero without allocation.
package mpi

import (
	"errors"
	"math/big"
	"math/bits"
)

const (
	// limbBytes is the number of bytes per limb.
	limbBytes = 4

	// limbBits is the number of bits per limb.
	limbBits = 32

	// MaxLimbs bounds every allocation. Grow beyond it fails with ErrAllocFailed.
	MaxLimbs = 10000

	// MaxBytes is the largest magnitude, in bytes, an Int can hold.
	MaxBytes = MaxLimbs * limbBytes
)

var (
	// ErrAllocFailed indicates a limb allocation beyond MaxLimbs.
	ErrAllocFailed = errors.New("mpi: allocation failed")

	// ErrBufferTooSmall indicates the output buffer cannot hold the value.
	ErrBufferTooSmall = errors.New("mpi: buffer too small")
)

// Int is a signed multi-precision integer.
type Int struct {
	neg bool
	p   []uint32
}

// Init resets x to an empty value (sign +1, no limbs) without freeing.
// Use Free to release and wipe existing limbs.
func (x *Int) Init() {
	x.neg = false
	x.p = nil
}

// Free wipes and releases the limbs of x and returns it to the Init state.
// It is safe to call on a zero value and more than once.
func (x *Int) Free() {
	if x == nil {
		return
	}
	clear(x.p)
	x.neg = false
	x.p = nil
}

// Grow ensures x has at least n limbs. New limbs are zero and the existing
// value is preserved.
func (x *Int) Grow(n int) error {
	if n > MaxLimbs || n < 0 {
		return ErrAllocFailed
	}
	if len(x.p) >= n {
		return nil
	}
	p := make([]uint32, n)
	copy(p, x.p)
	clear(x.p)
	x.p = p
	return nil
}

// Lset sets x to the small signed integer z.
func (x *Int) Lset(z int32) error {
	if err := x.Grow(1); err != nil {
		return err
	}
	clear(x.p)
	if z < 0 {
		x.p[0] = uint32(-int64(z))
		x.neg = true
	} else {
		x.p[0] = uint32(z)
		x.neg = false
	}
	return nil
}

// ReadBinary sets x to the unsigned big-endian value in b.
//
// Leading zero bytes are ignored. The limb slice is reallocated to exactly
// the number of limbs the value needs whenever that differs from the current
// count.
func (x *Int) ReadBinary(b []byte) error {
	start := 0
	for start < len(b) && b[start] == 0 {
		start++
	}
	n := (len(b) - start + limbBytes - 1) / limbBytes
	if n > MaxLimbs {
		return ErrAllocFailed
	}

	if n != len(x.p) {
		clear(x.p)
		if n == 0 {
			x.p = nil
		} else {
			x.p = make([]uint32, n)
		}
	} else {
		clear(x.p)
	}
	x.neg = false

	for i, j := len(b)-1, 0; i >= start; i, j = i-1, j+1 {
		x.p[j/limbBytes] |= uint32(b[i]) << ((j % limbBytes) * 8)
	}
	return nil
}

// WriteBinary exports the magnitude of x as big-endian bytes filling buf
// exactly, left-padded with zeros. It fails with ErrBufferTooSmall, leaving
// buf untouched, when the value needs more than len(buf) bytes.
func (x *Int) WriteBinary(buf []byte) error {
	n := x.Size()
	if len(buf) < n {
		return ErrBufferTooSmall
	}
	clear(buf)
	for i := 0; i < n; i++ {
		buf[len(buf)-1-i] = byte(x.p[i/limbBytes] >> ((i % limbBytes) * 8))
	}
	return nil
}

// Bytes returns the minimal big-endian magnitude of x. Zero yields an empty slice.
func (x *Int) Bytes() []byte {
	buf := make([]byte, x.Size())
	_ = x.WriteBinary(buf)
	return buf
}

// BitLen returns the number of significant bits in the magnitude of x.
func (x *Int) BitLen() int {
	i := x.used()
	if i == 0 {
		return 0
	}
	return (i-1)*limbBits + bits.Len32(x.p[i-1])
}

// Size returns the number of bytes needed to hold the magnitude of x.
func (x *Int) Size() int {
	return (x.BitLen() + 7) / 8
}

// Limbs returns the number of allocated limbs.
func (x *Int) Limbs() int { return len(x.p) }

// Sign returns -1 if x is negative and +1 otherwise. Zero reports +1 unless
// it was explicitly set negative.
func (x *Int) Sign() int {
	if x.neg {
		return -1
	}
	return 1
}

// IsZero reports whether the magnitude of x is zero.
func (x *Int) IsZero() bool { return x.used() == 0 }

// Copy sets x to the value of src. Limbs above the used length of src are
// zeroed in x, not released.
func (x *Int) Copy(src *Int) error {
	if x == src {
		return nil
	}
	n := src.used()
	if n == 0 {
		x.Free()
		x.neg = src.neg
		return nil
	}
	if err := x.Grow(n); err != nil {
		return err
	}
	clear(x.p[n:])
	copy(x.p, src.p[:n])
	x.neg = src.neg
	return nil
}

// CmpAbs compares the magnitudes of x and y.
func (x *Int) CmpAbs(y *Int) int {
	i, j := x.used(), y.used()
	switch {
	case i > j:
		return 1
	case i < j:
		return -1
	}
	for k := i - 1; k >= 0; k-- {
		switch {
		case x.p[k] > y.p[k]:
			return 1
		case x.p[k] < y.p[k]:
			return -1
		}
	}
	return 0
}

// Cmp compares x and y as signed values. Zero compares equal to zero
// regardless of sign.
func (x *Int) Cmp(y *Int) int {
	if x.IsZero() && y.IsZero() {
		return 0
	}
	xs, ys := x.Sign(), y.Sign()
	if x.IsZero() {
		xs = 0
	}
	if y.IsZero() {
		ys = 0
	}
	if xs != ys {
		if xs > ys {
			return 1
		}
		return -1
	}
	c := x.CmpAbs(y)
	if xs < 0 {
		return -c
	}
	return c
}

// SetBig sets x to the value of b.
func (x *Int) SetBig(b *big.Int) error {
	if b == nil {
		x.Free()
		return nil
	}
	if err := x.ReadBinary(b.Bytes()); err != nil {
		return err
	}
	x.neg = b.Sign() < 0
	return nil
}

// Big returns x as a new big.Int.
func (x *Int) Big() *big.Int {
	b := new(big.Int).SetBytes(x.Bytes())
	if x.neg {
		b.Neg(b)
	}
	return b
}

// used returns the number of limbs up to and including the highest nonzero one.
func (x *Int) used() int {
	for i := len(x.p); i > 0; i-- {
		if x.p[i-1] != 0 {
			return i
		}
	}
	return 0
}
