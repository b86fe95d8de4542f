package der

import "github.com/remiblancher/sehal/internal/mpi"

// Writer emits DER elements back to front into a fixed buffer. Every write
// checks the remaining room first, so a Writer never touches memory outside
// its buffer; on ErrBufferTooSmall nothing is written by that call.
type Writer struct {
	buf []byte
	off int // start of the written region
}

// NewWriter returns a Writer that fills buf from its end.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf, off: len(buf)}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) - w.off }

// Available returns the free room left at the front of the buffer.
func (w *Writer) Available() int { return w.off }

// Bytes returns the written region. It aliases the underlying buffer.
func (w *Writer) Bytes() []byte { return w.buf[w.off:] }

// WriteRaw prepends b verbatim.
func (w *Writer) WriteRaw(b []byte) (int, error) {
	if w.off < len(b) {
		return 0, ErrBufferTooSmall
	}
	w.off -= len(b)
	copy(w.buf[w.off:], b)
	return len(b), nil
}

// WriteLen prepends the DER length field for n.
func (w *Writer) WriteLen(n int) (int, error) {
	if n < 0 || uint64(n) > 0xffffffff {
		return 0, ErrInvalidLength
	}
	var enc [1 + maxLengthOctets]byte
	size := lenSize(n)
	if size == 1 {
		enc[0] = byte(n)
	} else {
		enc[0] = 0x80 | byte(size-1)
		for i := size - 1; i > 0; i-- {
			enc[i] = byte(n)
			n >>= 8
		}
	}
	return w.WriteRaw(enc[:size])
}

// WriteTag prepends a single tag byte.
func (w *Writer) WriteTag(tag byte) (int, error) {
	return w.WriteRaw([]byte{tag})
}

// WriteMPI prepends x as a DER INTEGER and returns the number of bytes
// written. Zero is encoded as a single 0x00 content byte, and a 0x00 pad is
// added when the most significant content bit would otherwise be set.
func (w *Writer) WriteMPI(x *mpi.Int) (int, error) {
	size := x.Size()
	if size == 0 {
		size = 1
	}
	pad := 0
	if size == x.Size() && x.BitLen()%8 == 0 {
		pad = 1
	}
	content := size + pad
	if w.off < 1+lenSize(content)+content {
		return 0, ErrBufferTooSmall
	}

	w.off -= size
	if err := x.WriteBinary(w.buf[w.off : w.off+size]); err != nil {
		w.off += size
		return 0, err
	}
	if pad == 1 {
		w.off--
		w.buf[w.off] = 0x00
	}

	n := content
	ln, err := w.WriteLen(content)
	if err != nil {
		return 0, err
	}
	n += ln
	tn, err := w.WriteTag(TagInteger)
	if err != nil {
		return 0, err
	}
	return n + tn, nil
}
