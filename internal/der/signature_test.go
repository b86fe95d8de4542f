package der

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
	"testing"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/sehal/internal/mpi"
)

// oracleSignature builds the reference encoding with cryptobyte.
func oracleSignature(t *testing.T, r, s *big.Int) []byte {
	t.Helper()
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	out, err := b.Bytes()
	if err != nil {
		t.Fatalf("cryptobyte error = %v", err)
	}
	return out
}

// =============================================================================
// Signature Encoding Tests
// =============================================================================

func TestU_SignatureBound(t *testing.T) {
	if got := SignatureBound(MaxOperandBytes, MaxOperandBytes); got != MaxSignatureLen {
		t.Errorf("SignatureBound(66, 66) = %d, want %d", got, MaxSignatureLen)
	}
	if MaxSignatureLen != 141 {
		t.Errorf("MaxSignatureLen = %d, want 141", MaxSignatureLen)
	}
	if got := SignatureBound(32, 32); got != 72 {
		t.Errorf("SignatureBound(32, 32) = %d, want 72", got)
	}
}

func TestU_MarshalSignature_OrderIsRThenS(t *testing.T) {
	r := mpiFromHex(t, "11")
	s := mpiFromHex(t, "22")

	sig, err := MarshalSignature(r, s)
	if err != nil {
		t.Fatalf("MarshalSignature() error = %v", err)
	}
	want := []byte{0x30, 0x06, 0x02, 0x01, 0x11, 0x02, 0x01, 0x22}
	if !bytes.Equal(sig, want) {
		t.Fatalf("MarshalSignature() = %x, want %x", sig, want)
	}

	in := cryptobyte.String(sig)
	var inner cryptobyte.String
	var first, second big.Int
	if !in.ReadASN1(&inner, asn1.SEQUENCE) || !inner.ReadASN1Integer(&first) || !inner.ReadASN1Integer(&second) {
		t.Fatal("cryptobyte failed to parse signature")
	}
	if first.Int64() != 0x11 || second.Int64() != 0x22 {
		t.Errorf("decoded (%d, %d), want r first", first.Int64(), second.Int64())
	}
}

func TestU_MarshalSignature_MatchesCryptobyte(t *testing.T) {
	tests := []struct {
		name string
		r, s string
	}{
		{"[Unit] MarshalSignature: zero values", "0", "0"},
		{"[Unit] MarshalSignature: high bits", "80", "ff"},
		{"[Unit] MarshalSignature: P-256 width", strings.Repeat("ab", 32), strings.Repeat("cd", 32)},
		{"[Unit] MarshalSignature: short s", strings.Repeat("7f", 32), "01"},
		{"[Unit] MarshalSignature: P-521 width", "01" + strings.Repeat("ff", 65), "01" + strings.Repeat("80", 65)},
		{"[Unit] MarshalSignature: long form sequence", strings.Repeat("ff", 64), strings.Repeat("ff", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, s := mpiFromHex(t, tt.r), mpiFromHex(t, tt.s)
			sig, err := MarshalSignature(r, s)
			if err != nil {
				t.Fatalf("MarshalSignature() error = %v", err)
			}
			if want := oracleSignature(t, r.Big(), s.Big()); !bytes.Equal(sig, want) {
				t.Errorf("MarshalSignature() = %x\nwant %x", sig, want)
			}
			if len(sig) > MaxSignatureLen {
				t.Errorf("len = %d exceeds %d", len(sig), MaxSignatureLen)
			}
		})
	}
}

func TestU_MarshalSignature_OperandTooWide(t *testing.T) {
	wide := mpiFromHex(t, "01"+strings.Repeat("00", MaxOperandBytes))
	small := mpiFromHex(t, "01")
	if _, err := MarshalSignature(wide, small); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("wide r error = %v, want ErrBufferTooSmall", err)
	}
	if _, err := MarshalSignature(small, wide); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("wide s error = %v, want ErrBufferTooSmall", err)
	}
}

func TestU_WriteSignature(t *testing.T) {
	r, s := mpiFromHex(t, "80"), mpiFromHex(t, "01")

	t.Run("[Unit] WriteSignature: fits", func(t *testing.T) {
		out := make([]byte, MaxSignatureLen)
		n, err := WriteSignature(r, s, out)
		if err != nil {
			t.Fatalf("WriteSignature() error = %v", err)
		}
		if want := oracleSignature(t, r.Big(), s.Big()); !bytes.Equal(out[:n], want) {
			t.Errorf("WriteSignature() = %x, want %x", out[:n], want)
		}
	})

	t.Run("[Unit] WriteSignature: output too small", func(t *testing.T) {
		out := bytes.Repeat([]byte{0xee}, 4)
		if _, err := WriteSignature(r, s, out); !errors.Is(err, ErrBufferTooSmall) {
			t.Fatalf("WriteSignature() error = %v, want ErrBufferTooSmall", err)
		}
		if !bytes.Equal(out, bytes.Repeat([]byte{0xee}, 4)) {
			t.Error("output modified on failure")
		}
	})
}

// =============================================================================
// Signature Decoding Tests
// =============================================================================

func TestU_ParseSignature_RoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256([]byte("round trip"))
	for i := 0; i < 16; i++ {
		std, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
		if err != nil {
			t.Fatal(err)
		}

		var r, s mpi.Int
		if err := ParseSignature(std, &r, &s); err != nil {
			t.Fatalf("ParseSignature() error = %v", err)
		}
		again, err := MarshalSignature(&r, &s)
		if err != nil {
			t.Fatalf("MarshalSignature() error = %v", err)
		}
		if !bytes.Equal(again, std) {
			t.Fatalf("re-encoded %x, want %x", again, std)
		}
		if !ecdsa.VerifyASN1(&priv.PublicKey, digest[:], again) {
			t.Fatal("re-encoded signature does not verify")
		}
	}
}

func TestU_ParseSignature_Strict(t *testing.T) {
	valid := []byte{0x30, 0x06, 0x02, 0x01, 0x11, 0x02, 0x01, 0x22}
	tests := []struct {
		name    string
		in      []byte
		wantErr error
	}{
		{"[Unit] ParseSignature: empty", nil, ErrOutOfData},
		{"[Unit] ParseSignature: not a sequence", []byte{0x31, 0x00}, ErrUnexpectedTag},
		{"[Unit] ParseSignature: trailing bytes after sequence", append(append([]byte{}, valid...), 0x00), ErrLengthMismatch},
		{"[Unit] ParseSignature: sequence overruns", []byte{0x30, 0x07, 0x02, 0x01, 0x11, 0x02, 0x01, 0x22}, ErrOutOfData},
		{"[Unit] ParseSignature: third element", []byte{0x30, 0x09, 0x02, 0x01, 0x11, 0x02, 0x01, 0x22, 0x02, 0x01, 0x33}, ErrLengthMismatch},
		{"[Unit] ParseSignature: missing s", []byte{0x30, 0x03, 0x02, 0x01, 0x11}, ErrOutOfData},
		{"[Unit] ParseSignature: wrong inner tag", []byte{0x30, 0x06, 0x04, 0x01, 0x11, 0x02, 0x01, 0x22}, ErrUnexpectedTag},
		{"[Unit] ParseSignature: integer overruns sequence", []byte{0x30, 0x06, 0x02, 0x05, 0x11, 0x02, 0x01, 0x22}, ErrOutOfData},
		{"[Unit] ParseSignature: indefinite length", []byte{0x30, 0x80, 0x02, 0x01, 0x11, 0x02, 0x01, 0x22, 0x00, 0x00}, ErrInvalidLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r, s mpi.Int
			_ = r.Lset(99)
			_ = s.Lset(99)
			err := ParseSignature(tt.in, &r, &s)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseSignature() error = %v, want %v", err, tt.wantErr)
			}
			if r.Limbs() != 0 || s.Limbs() != 0 {
				t.Error("r and s must be freed on failure")
			}
		})
	}

	t.Run("[Unit] ParseSignature: valid", func(t *testing.T) {
		var r, s mpi.Int
		if err := ParseSignature(valid, &r, &s); err != nil {
			t.Fatalf("ParseSignature() error = %v", err)
		}
		if r.Big().Int64() != 0x11 || s.Big().Int64() != 0x22 {
			t.Errorf("got (%s, %s)", r.Big(), s.Big())
		}
	})
}
