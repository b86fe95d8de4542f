package der

import "github.com/remiblancher/sehal/internal/mpi"

const (
	// MaxOperandBytes is the widest r or s accepted, the P-521 field size.
	MaxOperandBytes = 66

	// MaxSignatureLen is the longest DER ECDSA signature for MaxOperandBytes
	// operands: a 3-byte SEQUENCE header and two INTEGERs of at most
	// 3 header/pad bytes plus the operand each.
	MaxSignatureLen = 3 + 2*(3+MaxOperandBytes)
)

// integerBound returns the worst-case INTEGER encoding size for an n-byte magnitude.
func integerBound(n int) int {
	if n == 0 {
		n = 1
	}
	return 1 + lenSize(n+1) + n + 1
}

// SignatureBound returns the worst-case DER size of a signature whose r and
// s magnitudes are rLen and sLen bytes long.
func SignatureBound(rLen, sLen int) int {
	content := integerBound(rLen) + integerBound(sLen)
	return 1 + lenSize(content) + content
}

// MarshalSignature encodes SEQUENCE { INTEGER r, INTEGER s }.
//
// The elements are written back to front into a scratch buffer sized from
// the operands: s first, then r, then the SEQUENCE header, which yields r
// ahead of s in the output.
func MarshalSignature(r, s *mpi.Int) ([]byte, error) {
	if r.Size() > MaxOperandBytes || s.Size() > MaxOperandBytes {
		return nil, ErrBufferTooSmall
	}

	w := NewWriter(make([]byte, SignatureBound(r.Size(), s.Size())))

	n, err := w.WriteMPI(s)
	if err != nil {
		return nil, err
	}
	rn, err := w.WriteMPI(r)
	if err != nil {
		return nil, err
	}
	n += rn

	if _, err := w.WriteLen(n); err != nil {
		return nil, err
	}
	if _, err := w.WriteTag(Constructed | TagSequence); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// WriteSignature encodes (r, s) into out and returns the encoded length.
// out is left untouched if it is too small.
func WriteSignature(r, s *mpi.Int, out []byte) (int, error) {
	sig, err := MarshalSignature(r, s)
	if err != nil {
		return 0, err
	}
	if len(out) < len(sig) {
		return 0, ErrBufferTooSmall
	}
	return copy(out, sig), nil
}

// ParseSignature decodes a DER ECDSA signature into r and s. The SEQUENCE
// must span the whole input and hold exactly two INTEGERs. On failure r and
// s are freed.
func ParseSignature(sig []byte, r, s *mpi.Int) error {
	if err := parseSignature(NewCursor(sig), r, s); err != nil {
		r.Free()
		s.Free()
		return err
	}
	return nil
}

func parseSignature(c *Cursor, r, s *mpi.Int) error {
	n, err := c.GetTag(Constructed | TagSequence)
	if err != nil {
		return err
	}
	if n != c.Remaining() {
		return ErrLengthMismatch
	}
	if err := c.GetMPI(r); err != nil {
		return err
	}
	if err := c.GetMPI(s); err != nil {
		return err
	}
	if !c.Empty() {
		return ErrLengthMismatch
	}
	return nil
}
