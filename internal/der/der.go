// Package der implements the subset of ASN.1 DER needed to move ECDSA
// signatures between the firmware's raw (r, s) form and the standard
// SEQUENCE { INTEGER r, INTEGER s } encoding.
//
// Reading goes front to back through a Cursor. Writing goes back to front
// through a Writer over a caller-provided scratch buffer, so that each
// element's length is known before its header is emitted.
package der

import "errors"

// ASN.1 tags and tag bits.
const (
	TagInteger     byte = 0x02
	TagBitString   byte = 0x03
	TagOctetString byte = 0x04
	TagNull        byte = 0x05
	TagOID         byte = 0x06
	TagSequence    byte = 0x10
	TagSet         byte = 0x11

	Constructed byte = 0x20
)

// maxLengthOctets is the largest long-form length prefix accepted (0x84).
const maxLengthOctets = 4

var (
	// ErrOutOfData indicates the input ends before the declared element does.
	ErrOutOfData = errors.New("der: out of data")

	// ErrInvalidLength indicates an indefinite or over-long length encoding.
	ErrInvalidLength = errors.New("der: invalid length")

	// ErrUnexpectedTag indicates the next element does not carry the expected tag.
	ErrUnexpectedTag = errors.New("der: unexpected tag")

	// ErrLengthMismatch indicates an element does not span exactly the bytes it should.
	ErrLengthMismatch = errors.New("der: length mismatch")

	// ErrBufferTooSmall indicates the write buffer cannot hold the encoding.
	ErrBufferTooSmall = errors.New("der: buffer too small")
)

// lenSize returns the size of the DER length encoding of n.
func lenSize(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	case n <= 0xffffff:
		return 4
	default:
		return 5
	}
}
