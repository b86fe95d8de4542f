package der

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"

	"golang.org/x/crypto/cryptobyte"

	"github.com/remiblancher/sehal/internal/mpi"
)

func mpiFromHex(t *testing.T, h string) *mpi.Int {
	t.Helper()
	b, ok := new(big.Int).SetString(h, 16)
	if !ok {
		t.Fatalf("bad hex %q", h)
	}
	var x mpi.Int
	if err := x.SetBig(b); err != nil {
		t.Fatalf("SetBig() error = %v", err)
	}
	return &x
}

// =============================================================================
// Backward Writer Tests
// =============================================================================

func TestU_Writer_WriteLen(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want []byte
	}{
		{"[Unit] WriteLen: short", 0x05, []byte{0x05}},
		{"[Unit] WriteLen: 0x7f", 0x7f, []byte{0x7f}},
		{"[Unit] WriteLen: 0x80", 0x80, []byte{0x81, 0x80}},
		{"[Unit] WriteLen: 0xff", 0xff, []byte{0x81, 0xff}},
		{"[Unit] WriteLen: 0x100", 0x100, []byte{0x82, 0x01, 0x00}},
		{"[Unit] WriteLen: 0x10000", 0x10000, []byte{0x83, 0x01, 0x00, 0x00}},
		{"[Unit] WriteLen: 0x1000000", 0x1000000, []byte{0x84, 0x01, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(make([]byte, 8))
			n, err := w.WriteLen(tt.n)
			if err != nil {
				t.Fatalf("WriteLen() error = %v", err)
			}
			if n != len(tt.want) || !bytes.Equal(w.Bytes(), tt.want) {
				t.Errorf("WriteLen() = %d %x, want %x", n, w.Bytes(), tt.want)
			}

			// The encoding decodes back to n when followed by enough content.
			if tt.n <= 0x100 {
				enc := append(append([]byte{}, tt.want...), make([]byte, tt.n)...)
				got, err := NewCursor(enc).GetLen()
				if err != nil || got != tt.n {
					t.Errorf("GetLen() = %d, %v; want %d", got, err, tt.n)
				}
			}
		})
	}

	t.Run("[Unit] WriteLen: negative", func(t *testing.T) {
		if _, err := NewWriter(make([]byte, 8)).WriteLen(-1); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("WriteLen(-1) error = %v, want ErrInvalidLength", err)
		}
	})
}

func TestU_Writer_WriteMPI(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want []byte
	}{
		{"[Unit] WriteMPI: zero", "0", []byte{0x02, 0x01, 0x00}},
		{"[Unit] WriteMPI: small", "7f", []byte{0x02, 0x01, 0x7f}},
		{"[Unit] WriteMPI: high bit pads", "80", []byte{0x02, 0x02, 0x00, 0x80}},
		{"[Unit] WriteMPI: two bytes", "0102", []byte{0x02, 0x02, 0x01, 0x02}},
		{"[Unit] WriteMPI: high bit two bytes", "ff01", []byte{0x02, 0x03, 0x00, 0xff, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(make([]byte, 16))
			n, err := w.WriteMPI(mpiFromHex(t, tt.hex))
			if err != nil {
				t.Fatalf("WriteMPI() error = %v", err)
			}
			if n != len(tt.want) || !bytes.Equal(w.Bytes(), tt.want) {
				t.Errorf("WriteMPI() = %d %x, want %x", n, w.Bytes(), tt.want)
			}
		})
	}
}

func TestU_Writer_Exhaustion(t *testing.T) {
	t.Run("[Unit] WriteRaw: exact fit then exhausted", func(t *testing.T) {
		w := NewWriter(make([]byte, 3))
		if _, err := w.WriteRaw([]byte{1, 2, 3}); err != nil {
			t.Fatalf("WriteRaw() error = %v", err)
		}
		if _, err := w.WriteTag(0x30); !errors.Is(err, ErrBufferTooSmall) {
			t.Errorf("WriteTag() error = %v, want ErrBufferTooSmall", err)
		}
		if w.Len() != 3 || w.Available() != 0 {
			t.Errorf("Len/Available = %d/%d, want 3/0", w.Len(), w.Available())
		}
	})

	t.Run("[Unit] WriteMPI: no partial write", func(t *testing.T) {
		// 32-byte value with high bit set needs 35 bytes.
		x := mpiFromHex(t, "ff"+strings.Repeat("00", 31))
		for size := 0; size < 35; size++ {
			buf := bytes.Repeat([]byte{0xee}, size)
			w := NewWriter(buf)
			if _, err := w.WriteMPI(x); !errors.Is(err, ErrBufferTooSmall) {
				t.Fatalf("size %d: WriteMPI() error = %v, want ErrBufferTooSmall", size, err)
			}
			if w.Len() != 0 || !bytes.Equal(buf, bytes.Repeat([]byte{0xee}, size)) {
				t.Fatalf("size %d: buffer modified on failure", size)
			}
		}
		w := NewWriter(make([]byte, 35))
		if n, err := w.WriteMPI(x); err != nil || n != 35 {
			t.Errorf("WriteMPI() = %d, %v; want 35, nil", n, err)
		}
	})
}

func TestU_Writer_MatchesCryptobyte(t *testing.T) {
	values := []string{"1", "7f", "80", "ff", "100", "8000000000000000", "deadbeefcafebabe0123456789abcdef"}
	for _, v := range values {
		x := mpiFromHex(t, v)

		w := NewWriter(make([]byte, 64))
		if _, err := w.WriteMPI(x); err != nil {
			t.Fatalf("WriteMPI(%s) error = %v", v, err)
		}

		var b cryptobyte.Builder
		b.AddASN1BigInt(x.Big())
		want, err := b.Bytes()
		if err != nil {
			t.Fatalf("cryptobyte error = %v", err)
		}
		if !bytes.Equal(w.Bytes(), want) {
			t.Errorf("WriteMPI(%s) = %x, cryptobyte = %x", v, w.Bytes(), want)
		}

		in := cryptobyte.String(w.Bytes())
		var got big.Int
		if !in.ReadASN1Integer(&got) || !in.Empty() || got.Cmp(x.Big()) != 0 {
			t.Errorf("cryptobyte cannot read back %s", v)
		}
	}
}
