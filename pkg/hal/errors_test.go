package hal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/remiblancher/sehal/internal/der"
	"github.com/remiblancher/sehal/internal/mpi"
	"github.com/remiblancher/sehal/pkg/firmware"
)

// =============================================================================
// Error Taxonomy Tests
// =============================================================================

func TestU_Code(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"[Unit] Code: nil", nil, CodeSuccess},
		{"[Unit] Code: fail", ErrFail, CodeFail},
		{"[Unit] Code: not supported", notSupported("op", "x"), CodeNotSupported},
		{"[Unit] Code: invalid args", invalidArgs("op", "x"), CodeInvalidArgs},
		{"[Unit] Code: alloc", fmt.Errorf("wrap: %w", ErrAllocFailed), CodeAllocFailed},
		{"[Unit] Code: memory", ErrNotEnoughMemory, CodeNotEnoughMemory},
		{"[Unit] Code: timeout", ErrHardwareTimeout, CodeHardwareTimeout},
		{"[Unit] Code: canceled", fmt.Errorf("%w: %w", ErrCanceled, context.Canceled), CodeFail},
		{"[Unit] Code: foreign error", errors.New("boom"), CodeFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestU_Translate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"[Unit] translate: mpi alloc", mpi.ErrAllocFailed, ErrAllocFailed},
		{"[Unit] translate: mpi buffer", mpi.ErrBufferTooSmall, ErrNotEnoughMemory},
		{"[Unit] translate: der buffer", der.ErrBufferTooSmall, ErrNotEnoughMemory},
		{"[Unit] translate: out of data", der.ErrOutOfData, ErrInvalidArgs},
		{"[Unit] translate: invalid length", der.ErrInvalidLength, ErrInvalidArgs},
		{"[Unit] translate: unexpected tag", der.ErrUnexpectedTag, ErrInvalidArgs},
		{"[Unit] translate: length mismatch", der.ErrLengthMismatch, ErrInvalidArgs},
		{"[Unit] translate: unknown", errors.New("odd"), ErrFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("translate() = %v, want %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("translate() = %v, lost original %v", got, tt.err)
			}
			var he *Error
			if !errors.As(got, &he) || he.Op != "op" {
				t.Errorf("translate() = %v, want *Error with Op", got)
			}
		})
	}

	if translate("op", nil) != nil {
		t.Error("translate(nil) should be nil")
	}
}

func TestU_Error_Message(t *testing.T) {
	e := &Error{Op: "ecdsa_sign_md", Status: firmware.StatusEmptySlot, Err: ErrFail}
	want := "hal ecdsa_sign_md: operation failed (firmware: empty slot)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	e = invalidArgs("get_certificate", "cert is nil")
	want = "hal get_certificate: invalid arguments: cert is nil"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}
