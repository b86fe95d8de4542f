package der

import (
	"errors"
	"testing"

	"github.com/remiblancher/sehal/internal/mpi"
)

// =============================================================================
// Length Decoding Tests
// =============================================================================

func TestU_Cursor_GetLen(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    int
		wantOff int
		wantErr error
	}{
		{"[Unit] GetLen: short form zero", []byte{0x00}, 0, 1, nil},
		{"[Unit] GetLen: short form", []byte{0x03, 1, 2, 3}, 3, 1, nil},
		{"[Unit] GetLen: short form max", append([]byte{0x7f}, make([]byte, 0x7f)...), 0x7f, 1, nil},
		{"[Unit] GetLen: 0x81 form", append([]byte{0x81, 0x80}, make([]byte, 0x80)...), 0x80, 2, nil},
		{"[Unit] GetLen: 0x82 form", append([]byte{0x82, 0x01, 0x00}, make([]byte, 0x100)...), 0x100, 3, nil},
		{"[Unit] GetLen: 0x83 form", append([]byte{0x83, 0x00, 0x00, 0x02}, 0, 0), 2, 4, nil},
		{"[Unit] GetLen: 0x84 form", []byte{0x84, 0x00, 0x00, 0x00, 0x00}, 0, 5, nil},
		{"[Unit] GetLen: empty input", nil, 0, 0, ErrOutOfData},
		{"[Unit] GetLen: indefinite rejected", []byte{0x80, 0x00}, 0, 0, ErrInvalidLength},
		{"[Unit] GetLen: 0x85 rejected", []byte{0x85, 0, 0, 0, 0, 0}, 0, 0, ErrInvalidLength},
		{"[Unit] GetLen: truncated long form", []byte{0x82, 0x01}, 0, 0, ErrOutOfData},
		{"[Unit] GetLen: declared beyond input", []byte{0x05, 1, 2}, 0, 0, ErrOutOfData},
		{"[Unit] GetLen: 0x84 beyond input", []byte{0x84, 0xff, 0xff, 0xff, 0xff}, 0, 0, ErrOutOfData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(tt.in)
			got, err := c.GetLen()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetLen() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GetLen() = %d, want %d", got, tt.want)
			}
			if c.Offset() != tt.wantOff {
				t.Errorf("Offset() = %d, want %d", c.Offset(), tt.wantOff)
			}
		})
	}
}

func TestU_Cursor_GetTag(t *testing.T) {
	t.Run("[Unit] GetTag: match", func(t *testing.T) {
		c := NewCursor([]byte{0x04, 0x02, 0xaa, 0xbb})
		n, err := c.GetTag(TagOctetString)
		if err != nil {
			t.Fatalf("GetTag() error = %v", err)
		}
		if n != 2 || c.Remaining() != 2 {
			t.Errorf("GetTag() = %d remaining %d, want 2/2", n, c.Remaining())
		}
	})

	t.Run("[Unit] GetTag: mismatch leaves offset", func(t *testing.T) {
		c := NewCursor([]byte{0x04, 0x00})
		if _, err := c.GetTag(TagInteger); !errors.Is(err, ErrUnexpectedTag) {
			t.Fatalf("GetTag() error = %v, want ErrUnexpectedTag", err)
		}
		if c.Offset() != 0 {
			t.Errorf("Offset() = %d after failure, want 0", c.Offset())
		}
	})

	t.Run("[Unit] GetTag: bad length restores offset", func(t *testing.T) {
		c := NewCursor([]byte{0x02, 0x80})
		if _, err := c.GetTag(TagInteger); !errors.Is(err, ErrInvalidLength) {
			t.Fatalf("GetTag() error = %v, want ErrInvalidLength", err)
		}
		if c.Offset() != 0 {
			t.Errorf("Offset() = %d after failure, want 0", c.Offset())
		}
	})

	t.Run("[Unit] GetTag: empty input", func(t *testing.T) {
		if _, err := NewCursor(nil).GetTag(TagInteger); !errors.Is(err, ErrOutOfData) {
			t.Errorf("GetTag() error = %v, want ErrOutOfData", err)
		}
	})
}

func TestU_Cursor_GetMPI(t *testing.T) {
	c := NewCursor([]byte{0x02, 0x03, 0x00, 0x80, 0x01, 0x02, 0x01, 0x00})

	var x mpi.Int
	if err := c.GetMPI(&x); err != nil {
		t.Fatalf("GetMPI() error = %v", err)
	}
	if got := x.Big().Int64(); got != 0x8001 {
		t.Errorf("GetMPI() = %#x, want 0x8001", got)
	}

	var z mpi.Int
	if err := c.GetMPI(&z); err != nil {
		t.Fatalf("GetMPI() error = %v", err)
	}
	if !z.IsZero() {
		t.Error("second INTEGER should be zero")
	}
	if !c.Empty() {
		t.Errorf("Remaining() = %d, want 0", c.Remaining())
	}
}

func TestU_Cursor_Skip(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3})
	if err := c.Skip(2); err != nil {
		t.Fatalf("Skip(2) error = %v", err)
	}
	if err := c.Skip(2); !errors.Is(err, ErrOutOfData) {
		t.Errorf("Skip(2) error = %v, want ErrOutOfData", err)
	}
	if c.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", c.Remaining())
	}
}
