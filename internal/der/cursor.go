package der

import "github.com/remiblancher/sehal/internal/mpi"

// Cursor reads DER elements front to back from a byte slice it does not copy.
// A failed read leaves the offset where it was.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a Cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Empty reports whether all input has been consumed.
func (c *Cursor) Empty() bool { return c.off == len(c.buf) }

// GetLen decodes a length field and returns the declared length. The length
// must not exceed the bytes remaining after the field.
func (c *Cursor) GetLen() (int, error) {
	off := c.off
	if len(c.buf)-off < 1 {
		return 0, ErrOutOfData
	}

	b := c.buf[off]
	off++

	var n uint64
	if b&0x80 == 0 {
		n = uint64(b)
	} else {
		k := int(b & 0x7f)
		if k == 0 || k > maxLengthOctets {
			return 0, ErrInvalidLength
		}
		if len(c.buf)-off < k {
			return 0, ErrOutOfData
		}
		for i := 0; i < k; i++ {
			n = n<<8 | uint64(c.buf[off+i])
		}
		off += k
	}

	if n > uint64(len(c.buf)-off) {
		return 0, ErrOutOfData
	}
	c.off = off
	return int(n), nil
}

// GetTag checks that the next element carries tag and returns its length.
func (c *Cursor) GetTag(tag byte) (int, error) {
	if c.Remaining() < 1 {
		return 0, ErrOutOfData
	}
	if c.buf[c.off] != tag {
		return 0, ErrUnexpectedTag
	}
	start := c.off
	c.off++
	n, err := c.GetLen()
	if err != nil {
		c.off = start
		return 0, err
	}
	return n, nil
}

// GetMPI reads an INTEGER element into x. The content is taken as an
// unsigned big-endian magnitude.
func (c *Cursor) GetMPI(x *mpi.Int) error {
	start := c.off
	n, err := c.GetTag(TagInteger)
	if err != nil {
		return err
	}
	if err := x.ReadBinary(c.buf[c.off : c.off+n]); err != nil {
		c.off = start
		return err
	}
	c.off += n
	return nil
}

// Skip consumes n content bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return ErrOutOfData
	}
	c.off += n
	return nil
}
