package hal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/remiblancher/sehal/internal/firmware/fwtest"
	"github.com/remiblancher/sehal/pkg/firmware"
)

type ecdsaSig struct {
	R, S *big.Int
}

var (
	cannedR = bytes.Repeat([]byte{0x8a}, 32) // top bit set, needs a 0x00 pad
	cannedS = append([]byte{0x00, 0x00, 0x01}, bytes.Repeat([]byte{0x42}, 29)...)
)

func p256SHA256() ECDSAMode {
	return ECDSAMode{Curve: CurveP256, Hash: HashSHA256}
}

func signedDevice(t *testing.T) (*Device, *fwtest.Mailbox) {
	t.Helper()
	dev, fw := newTestDevice(t)
	fw.R = cannedR
	fw.S = cannedS
	return dev, fw
}

// =============================================================================
// ECDSA Sign Tests
// =============================================================================

func TestU_ECDSASignMD_EncodesDER(t *testing.T) {
	dev, fw := signedDevice(t)
	digest := sha256.Sum256([]byte("message"))

	sig := NewData(MaxSignatureLen)
	if err := dev.ECDSASignMD(context.Background(), p256SHA256(), DataOf(digest[:]), 3, sig); err != nil {
		t.Fatalf("ECDSASignMD() error = %v", err)
	}

	out := sig.Bytes()
	if out[0] != 0x30 {
		t.Fatalf("signature starts with 0x%02x, want 0x30", out[0])
	}

	var parsed ecdsaSig
	rest, err := asn1.Unmarshal(out, &parsed)
	if err != nil {
		t.Fatalf("asn1.Unmarshal() error = %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("trailing bytes after signature: %d", len(rest))
	}
	if parsed.R.Cmp(new(big.Int).SetBytes(cannedR)) != 0 {
		t.Errorf("r = %x, want %x", parsed.R.Bytes(), cannedR)
	}
	if parsed.S.Cmp(new(big.Int).SetBytes(cannedS)) != 0 {
		t.Errorf("s = %x, want %x", parsed.S.Bytes(), cannedS)
	}

	calls := fw.Calls()
	if len(calls) != 1 || calls[0].Name != "ECDSASign" {
		t.Fatalf("calls = %v, want one ECDSASign", calls)
	}
	if want := firmware.KeyECP256 | firmware.HashSHA256; calls[0].Opcode != want {
		t.Errorf("opcode = %v, want %v", calls[0].Opcode, want)
	}
	if calls[0].Slot != 3 {
		t.Errorf("slot = %d, want 3", calls[0].Slot)
	}
}

func TestU_ECDSASignMD_FactorySlot(t *testing.T) {
	dev, _ := signedDevice(t)
	digest := sha256.Sum256([]byte("identity"))

	sig := NewData(MaxSignatureLen)
	if err := dev.ECDSASignMD(context.Background(), p256SHA256(), DataOf(digest[:]), firmware.FactoryKeySlot, sig); err != nil {
		t.Fatalf("ECDSASignMD(factory slot) error = %v", err)
	}
}

func TestU_ECDSASignMD_Invalid(t *testing.T) {
	digest := sha256.Sum256([]byte("message"))

	tests := []struct {
		name string
		mode ECDSAMode
		hash *Data
		slot uint32
		sign *Data
		want error
	}{
		{"[Unit] ECDSASignMD: curve25519 has no ecdsa", ECDSAMode{Curve: Curve25519, Hash: HashSHA256}, DataOf(digest[:]), 0, NewData(80), ErrNotSupported},
		{"[Unit] ECDSASignMD: md5 unsupported", ECDSAMode{Curve: CurveP256, Hash: HashMD5}, DataOf(digest[:16]), 0, NewData(80), ErrNotSupported},
		{"[Unit] ECDSASignMD: unknown curve", ECDSAMode{Curve: CurveUnknown, Hash: HashSHA256}, DataOf(digest[:]), 0, NewData(80), ErrNotSupported},
		{"[Unit] ECDSASignMD: nil hash", p256SHA256(), nil, 0, NewData(80), ErrInvalidArgs},
		{"[Unit] ECDSASignMD: short digest", p256SHA256(), DataOf(digest[:20]), 0, NewData(80), ErrInvalidArgs},
		{"[Unit] ECDSASignMD: nil output", p256SHA256(), DataOf(digest[:]), 0, nil, ErrInvalidArgs},
		{"[Unit] ECDSASignMD: slot range", p256SHA256(), DataOf(digest[:]), 99, NewData(80), ErrInvalidArgs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, fw := signedDevice(t)
			err := dev.ECDSASignMD(context.Background(), tt.mode, tt.hash, tt.slot, tt.sign)
			wantKind(t, err, tt.want)
			if fw.Invocations() != 0 {
				t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
			}
		})
	}
}

func TestU_ECDSASignMD_OutputTooSmall(t *testing.T) {
	dev, _ := signedDevice(t)
	digest := sha256.Sum256([]byte("message"))

	sig := NewData(10)
	err := dev.ECDSASignMD(context.Background(), p256SHA256(), DataOf(digest[:]), 3, sig)
	wantKind(t, err, ErrInvalidArgs)
	if sig.Len != 0 {
		t.Errorf("Len = %d, want untouched 0", sig.Len)
	}
}

func TestU_ECDSASignMD_FirmwareFailure(t *testing.T) {
	dev, fw := signedDevice(t)
	fw.Fail["ECDSASign"] = firmware.StatusEmptySlot
	digest := sha256.Sum256([]byte("message"))

	err := dev.ECDSASignMD(context.Background(), p256SHA256(), DataOf(digest[:]), 5, NewData(80))
	wantKind(t, err, ErrFail)
	if Code(err) != CodeFail {
		t.Errorf("Code() = %d, want %d", Code(err), CodeFail)
	}
}

// =============================================================================
// ECDSA Verify Tests
// =============================================================================

func TestU_ECDSAVerifyMD_RoundTrip(t *testing.T) {
	dev, _ := signedDevice(t)
	ctx := context.Background()
	digest := sha256.Sum256([]byte("message"))

	sig := NewData(MaxSignatureLen)
	if err := dev.ECDSASignMD(ctx, p256SHA256(), DataOf(digest[:]), 3, sig); err != nil {
		t.Fatalf("ECDSASignMD() error = %v", err)
	}

	t.Run("[Unit] ECDSAVerifyMD: valid signature", func(t *testing.T) {
		if err := dev.ECDSAVerifyMD(ctx, p256SHA256(), DataOf(digest[:]), sig, 3); err != nil {
			t.Errorf("ECDSAVerifyMD() error = %v", err)
		}
	})

	t.Run("[Unit] ECDSAVerifyMD: flipped digest bit", func(t *testing.T) {
		bad := digest
		bad[0] ^= 0x01
		err := dev.ECDSAVerifyMD(ctx, p256SHA256(), DataOf(bad[:]), sig, 3)
		wantKind(t, err, ErrFail)
	})

	t.Run("[Unit] ECDSAVerifyMD: other slot", func(t *testing.T) {
		err := dev.ECDSAVerifyMD(ctx, p256SHA256(), DataOf(digest[:]), sig, 4)
		wantKind(t, err, ErrFail)
	})
}

func TestU_ECDSAVerifyMD_MalformedDER(t *testing.T) {
	digest := sha256.Sum256([]byte("message"))

	tests := []struct {
		name string
		sig  []byte
	}{
		{"[Unit] ECDSAVerifyMD: empty", []byte{}},
		{"[Unit] ECDSAVerifyMD: not a sequence", []byte{0x31, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01}},
		{"[Unit] ECDSAVerifyMD: truncated", []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02}},
		{"[Unit] ECDSAVerifyMD: trailing bytes", []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01, 0x00}},
		{"[Unit] ECDSAVerifyMD: indefinite length", []byte{0x30, 0x80, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01, 0x00, 0x00}},
		{"[Unit] ECDSAVerifyMD: missing s", []byte{0x30, 0x03, 0x02, 0x01, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, fw := signedDevice(t)
			err := dev.ECDSAVerifyMD(context.Background(), p256SHA256(), DataOf(digest[:]), &Data{Buf: tt.sig, Len: len(tt.sig)}, 3)
			wantKind(t, err, ErrInvalidArgs)
			if fw.Invocations() != 0 {
				t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
			}
		})
	}
}

func TestU_ECDSAVerifyMD_ComponentWiderThanField(t *testing.T) {
	dev, fw := signedDevice(t)
	digest := sha256.Sum256([]byte("message"))

	wide, err := asn1.Marshal(ecdsaSig{
		R: new(big.Int).Lsh(big.NewInt(1), 300),
		S: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("asn1.Marshal() error = %v", err)
	}

	err = dev.ECDSAVerifyMD(context.Background(), p256SHA256(), DataOf(digest[:]), DataOf(wide), 3)
	wantKind(t, err, ErrInvalidArgs)
	if fw.Invocations() != 0 {
		t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
	}
}

func TestU_ECDSAVerifyMD_PadsToField(t *testing.T) {
	dev, fw := signedDevice(t)
	digest := sha256.Sum256([]byte("message"))

	short, _ := asn1.Marshal(ecdsaSig{R: big.NewInt(7), S: big.NewInt(9)})
	_ = dev.ECDSAVerifyMD(context.Background(), p256SHA256(), DataOf(digest[:]), DataOf(short), 3)

	if fw.CallsTo("ECDSAVerify") != 1 {
		t.Fatalf("ECDSAVerify calls = %d, want 1", fw.CallsTo("ECDSAVerify"))
	}
}

// =============================================================================
// RSA Tests
// =============================================================================

func TestU_RSASignMD_RoundTrip(t *testing.T) {
	dev, fw := newTestDevice(t)
	ctx := context.Background()
	digest := sha256.Sum256([]byte("message"))
	mode := RSAMode{Padding: RSAPSS, Hash: HashSHA256}

	sig := NewData(512)
	if err := dev.RSASignMD(ctx, mode, DataOf(digest[:]), 2, sig); err != nil {
		t.Fatalf("RSASignMD() error = %v", err)
	}
	calls := fw.Calls()
	if want := firmware.HashSHA256 | firmware.FlagPSS; calls[0].Opcode != want {
		t.Errorf("opcode = %v, want %v", calls[0].Opcode, want)
	}

	if err := dev.RSAVerifyMD(ctx, mode, DataOf(digest[:]), sig, 2); err != nil {
		t.Errorf("RSAVerifyMD() error = %v", err)
	}

	pkcs1 := RSAMode{Padding: RSAPKCS1v15, Hash: HashSHA256}
	wantKind(t, dev.RSAVerifyMD(ctx, pkcs1, DataOf(digest[:]), sig, 2), ErrFail)
}

func TestU_RSASignMD_ModeMapping(t *testing.T) {
	digest := make([]byte, 32)

	tests := []struct {
		name string
		mode RSAMode
		want error
	}{
		{"[Unit] RSASignMD: pss salt mismatch", RSAMode{Padding: RSAPSS, Hash: HashSHA256, SaltLen: 20}, ErrNotSupported},
		{"[Unit] RSASignMD: pss mgf mismatch", RSAMode{Padding: RSAPSS, Hash: HashSHA256, MGF: HashSHA1}, ErrNotSupported},
		{"[Unit] RSASignMD: oaep is not a signature", RSAMode{Padding: RSAOAEP, Hash: HashSHA256}, ErrNotSupported},
		{"[Unit] RSASignMD: sha224", RSAMode{Padding: RSAPKCS1v15, Hash: HashSHA224}, ErrNotSupported},
		{"[Unit] RSASignMD: digest size mismatch", RSAMode{Padding: RSAPKCS1v15, Hash: HashSHA384}, ErrInvalidArgs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, fw := newTestDevice(t)
			err := dev.RSASignMD(context.Background(), tt.mode, DataOf(digest), 0, NewData(512))
			wantKind(t, err, tt.want)
			if fw.Invocations() != 0 {
				t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
			}
		})
	}
}
