package hal

import (
	"bytes"
	"context"
	"testing"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// =============================================================================
// AES Tests
// =============================================================================

func TestU_AES_RoundTrip(t *testing.T) {
	iv := DataOf(make([]byte, 16))

	tests := []struct {
		name   string
		param  AESParam
		plain  []byte
		cipher int
	}{
		{"[Unit] AES: ecb no padding", AESParam{Mode: AESECBNoPad}, make([]byte, 32), 32},
		{"[Unit] AES: ecb pkcs7", AESParam{Mode: AESECBPKCS7}, []byte("hello"), 16},
		{"[Unit] AES: cbc pkcs7 full block", AESParam{Mode: AESCBCPKCS7, IV: iv}, make([]byte, 16), 32},
		{"[Unit] AES: ctr", AESParam{Mode: AESCTR, IV: iv}, []byte("odd length"), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _ := newTestDevice(t)
			ctx := context.Background()

			ct := NewData(64)
			if err := dev.AESEncrypt(ctx, DataOf(tt.plain), tt.param, 1, ct); err != nil {
				t.Fatalf("AESEncrypt() error = %v", err)
			}
			if ct.Len != tt.cipher {
				t.Errorf("ciphertext length = %d, want %d", ct.Len, tt.cipher)
			}

			pt := NewData(64)
			if err := dev.AESDecrypt(ctx, DataOf(ct.Bytes()), tt.param, 1, pt); err != nil {
				t.Fatalf("AESDecrypt() error = %v", err)
			}
			if !bytes.Equal(pt.Bytes(), tt.plain) {
				t.Errorf("plaintext = %x, want %x", pt.Bytes(), tt.plain)
			}
		})
	}
}

func TestU_AES_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		param AESParam
		in    []byte
		want  error
	}{
		{"[Unit] AES: unknown mode", AESParam{Mode: AESUnknown}, make([]byte, 16), ErrNotSupported},
		{"[Unit] AES: cbc without iv", AESParam{Mode: AESCBCNoPad}, make([]byte, 16), ErrInvalidArgs},
		{"[Unit] AES: short iv", AESParam{Mode: AESCTR, IV: DataOf(make([]byte, 8))}, make([]byte, 16), ErrInvalidArgs},
		{"[Unit] AES: unaligned no padding", AESParam{Mode: AESECBNoPad}, make([]byte, 15), ErrInvalidArgs},
		{"[Unit] AES: empty input", AESParam{Mode: AESECBPKCS7}, []byte{}, ErrInvalidArgs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, fw := newTestDevice(t)
			wantKind(t, dev.AESEncrypt(context.Background(), DataOf(tt.in), tt.param, 0, NewData(64)), tt.want)
			if fw.Invocations() != 0 {
				t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
			}
		})
	}
}

func TestU_AES_OpcodeCarriesPadding(t *testing.T) {
	dev, fw := newTestDevice(t)
	_ = dev.AESEncrypt(context.Background(), DataOf([]byte("x")), AESParam{Mode: AESECBPKCS7}, 0, NewData(16))

	calls := fw.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if !calls[0].Opcode.Has(firmware.FlagPKCS7) || calls[0].Opcode.Mode() != firmware.ModeECB {
		t.Errorf("opcode = %v, want ecb with pkcs7", calls[0].Opcode)
	}
}

// =============================================================================
// RSA Encryption Tests
// =============================================================================

func TestU_RSA_EncryptDecrypt(t *testing.T) {
	dev, fw := newTestDevice(t)
	ctx := context.Background()
	mode := RSAMode{Padding: RSAOAEP, Hash: HashSHA256}
	msg := []byte("session key")

	ct := NewData(512)
	if err := dev.RSAEncrypt(ctx, DataOf(msg), mode, 3, ct); err != nil {
		t.Fatalf("RSAEncrypt() error = %v", err)
	}
	pt := NewData(512)
	if err := dev.RSADecrypt(ctx, DataOf(ct.Bytes()), mode, 3, pt); err != nil {
		t.Fatalf("RSADecrypt() error = %v", err)
	}
	if !bytes.Equal(pt.Bytes(), msg) {
		t.Errorf("plaintext = %q, want %q", pt.Bytes(), msg)
	}
	if want := firmware.HashSHA256 | firmware.FlagOAEP; fw.Calls()[0].Opcode != want {
		t.Errorf("opcode = %v, want %v", fw.Calls()[0].Opcode, want)
	}
}

func TestU_RSA_EncryptUnsupportedPadding(t *testing.T) {
	dev, _ := newTestDevice(t)
	err := dev.RSAEncrypt(context.Background(), DataOf([]byte("x")), RSAMode{Padding: RSAPSS, Hash: HashSHA256}, 0, NewData(512))
	wantKind(t, err, ErrNotSupported)
}
