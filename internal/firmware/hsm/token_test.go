//go:build cgo

package hsm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/remiblancher/sehal/pkg/firmware"
	"github.com/remiblancher/sehal/pkg/hal"
)

// =============================================================================
// SoftHSM Test Helpers
// =============================================================================

const (
	testTokenLabel = "sehal-test-token"
	testTokenPIN   = "1234"
	testSOPIN      = "12345678"
)

// setupSoftHSM initializes a throwaway SoftHSM token and returns options
// for it. The test is skipped when SoftHSM is not installed.
func setupSoftHSM(t *testing.T) Options {
	t.Helper()

	if _, err := exec.LookPath("softhsm2-util"); err != nil {
		t.Skip("softhsm2-util not found, skipping PKCS#11 tests")
	}
	lib := findSoftHSMLib()
	if lib == "" {
		t.Skip("SoftHSM library not found, skipping PKCS#11 tests")
	}

	dir := t.TempDir()
	tokens := filepath.Join(dir, "tokens")
	if err := os.MkdirAll(tokens, 0700); err != nil {
		t.Fatalf("failed to create token directory: %v", err)
	}
	conf := filepath.Join(dir, "softhsm2.conf")
	content := "directories.tokendir = " + tokens + "\nobjectstore.backend = file\nlog.level = ERROR\n"
	if err := os.WriteFile(conf, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write SoftHSM config: %v", err)
	}
	t.Setenv("SOFTHSM2_CONF", conf)

	cmd := exec.Command("softhsm2-util", "--init-token", "--free",
		"--label", testTokenLabel,
		"--pin", testTokenPIN,
		"--so-pin", testSOPIN)
	cmd.Env = append(os.Environ(), "SOFTHSM2_CONF="+conf)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to initialize SoftHSM token: %v\n%s", err, out)
	}

	t.Cleanup(CloseAll)
	return Options{Lib: lib, Token: testTokenLabel, PIN: testTokenPIN, Slots: 8}
}

func findSoftHSMLib() string {
	paths := []string{
		"/usr/local/lib/softhsm/libsofthsm2.so",
		"/usr/lib/softhsm/libsofthsm2.so",
		"/usr/lib64/softhsm/libsofthsm2.so",
		"/usr/lib/x86_64-linux-gnu/softhsm/libsofthsm2.so",
		"/opt/homebrew/lib/softhsm/libsofthsm2.so",
	}
	if env := os.Getenv("SOFTHSM2_LIB"); env != "" {
		paths = append([]string{env}, paths...)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func newTestToken(t *testing.T) *Token {
	t.Helper()
	tok, err := New(setupSoftHSM(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if st := tok.Init(); st != firmware.StatusOK {
		t.Fatalf("Init() status = %v", st)
	}
	t.Cleanup(func() { tok.Deinit() })
	return tok
}

// =============================================================================
// Options Tests
// =============================================================================

func TestU_New_RequiresLib(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New() without a module path should fail")
	}
}

func TestU_Token_NotReady(t *testing.T) {
	tok, err := New(Options{Lib: "/nonexistent/libpkcs11.so"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if st := tok.GenerateRandom(make([]byte, 8)); st != firmware.StatusNotReady {
		t.Errorf("GenerateRandom() before Init status = %v, want not ready", st)
	}
	if st := tok.Init(); st != firmware.StatusNotReady {
		t.Errorf("Init() with missing module status = %v, want not ready", st)
	}
}

func TestU_Objects_ECPointWrapping(t *testing.T) {
	point := append([]byte{0x04}, bytes.Repeat([]byte{0x07}, 64)...)
	wrapped := wrapPoint(point)
	if wrapped[0] != 0x04 || wrapped[1] != 65 {
		t.Fatalf("wrapPoint() header = % x", wrapped[:2])
	}
	if got := unwrapPoint(wrapped); !bytes.Equal(got, point) {
		t.Errorf("unwrapPoint(wrapped) = % x", got)
	}
	if got := unwrapPoint(point); !bytes.Equal(got, point) {
		t.Errorf("unwrapPoint(bare) = % x", got)
	}
}

func TestU_Objects_ECParams(t *testing.T) {
	der, st := ecParams(firmware.KeyECP256)
	if st != firmware.StatusOK {
		t.Fatalf("ecParams() status = %v", st)
	}
	want := []byte{0x06, 0x08, 0x2A, 0x86, 0x48, 0xCE, 0x3D, 0x03, 0x01, 0x07}
	if !bytes.Equal(der, want) {
		t.Errorf("ecParams(p256) = % x, want % x", der, want)
	}
	if _, st := ecParams(firmware.KeyX25519); st != firmware.StatusUnsupported {
		t.Errorf("ecParams(x25519) status = %v, want unsupported", st)
	}
}

// =============================================================================
// SoftHSM Tests
// =============================================================================

func TestU_Token_RandomAndHash(t *testing.T) {
	tok := newTestToken(t)

	buf := make([]byte, 32)
	if st := tok.GenerateRandom(buf); st != firmware.StatusOK {
		t.Fatalf("GenerateRandom() status = %v", st)
	}
	if bytes.Equal(buf, make([]byte, 32)) {
		t.Error("GenerateRandom() returned all zeros")
	}

	out := make([]byte, 32)
	n, st := tok.Hash(firmware.HashSHA256, []byte("abc"), out)
	if st != firmware.StatusOK {
		t.Fatalf("Hash() status = %v", st)
	}
	want := sha256.Sum256([]byte("abc"))
	if !bytes.Equal(out[:n], want[:]) {
		t.Errorf("Hash() = %x, want %x", out[:n], want)
	}
}

func TestU_Token_SlotRange(t *testing.T) {
	tok := newTestToken(t)
	if st := tok.GenerateKey(firmware.KeyECP256, 8); st != firmware.StatusSlotRange {
		t.Errorf("GenerateKey(8) status = %v, want slot range", st)
	}
}

func TestU_Token_HALSignVerify(t *testing.T) {
	tok := newTestToken(t)
	dev := hal.New(tok, hal.Config{MaxKeySlots: 8, Backend: "pkcs11"})
	ctx := context.Background()
	if err := dev.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := dev.GenerateKey(ctx, hal.KeyECSecP256R1, 1); err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	digest := sha256.Sum256([]byte("token payload"))
	mode := hal.ECDSAMode{Curve: hal.CurveP256, Hash: hal.HashSHA256}

	sig := hal.NewData(hal.MaxSignatureLen)
	if err := dev.ECDSASignMD(ctx, mode, hal.DataOf(digest[:]), 1, sig); err != nil {
		t.Fatalf("ECDSASignMD() error = %v", err)
	}

	key := hal.NewDataPair(32)
	if err := dev.GetKey(ctx, hal.KeyECSecP256R1, 1, key); err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(key.Bytes()),
		Y:     new(big.Int).SetBytes(key.PrivBytes()),
	}
	if !ecdsa.VerifyASN1(pub, digest[:], sig.Bytes()) {
		t.Error("stdlib rejects token signature")
	}
	if err := dev.ECDSAVerifyMD(ctx, mode, hal.DataOf(digest[:]), sig, 1); err != nil {
		t.Errorf("ECDSAVerifyMD() error = %v", err)
	}

	digest[0] ^= 0x80
	if err := dev.ECDSAVerifyMD(ctx, mode, hal.DataOf(digest[:]), sig, 1); hal.Code(err) != hal.Code(hal.ErrFail) {
		t.Errorf("ECDSAVerifyMD(tampered) error = %v, want operation failed", err)
	}
}

func TestU_Token_AESCBCRoundTrip(t *testing.T) {
	tok := newTestToken(t)
	key := bytes.Repeat([]byte{0x2b}, 16)
	if st := tok.SetKey(firmware.KeyAES128, 2, nil, key); st != firmware.StatusOK {
		t.Fatalf("SetKey() status = %v", st)
	}

	iv := make([]byte, 16)
	op := firmware.ModeCBC | firmware.FlagPKCS7
	plain := []byte("seventeen bytes!!")
	ct := make([]byte, 32)
	n, st := tok.AESEncrypt(op, 2, iv, plain, ct)
	if st != firmware.StatusOK || n != 32 {
		t.Fatalf("AESEncrypt() = %d, %v", n, st)
	}
	pt := make([]byte, 32)
	n, st = tok.AESDecrypt(op, 2, iv, ct[:n], pt)
	if st != firmware.StatusOK {
		t.Fatalf("AESDecrypt() status = %v", st)
	}
	if !bytes.Equal(pt[:n], plain) {
		t.Errorf("AESDecrypt() = %q, want %q", pt[:n], plain)
	}

	if _, st := tok.AESEncrypt(firmware.ModeCTR, 2, iv, plain, ct); st != firmware.StatusUnsupported {
		t.Errorf("AESEncrypt(ctr) status = %v, want unsupported", st)
	}
}

func TestU_Token_StorageLifecycle(t *testing.T) {
	tok := newTestToken(t)
	if st := tok.WriteStorage(3, []byte("blob")); st != firmware.StatusOK {
		t.Fatalf("WriteStorage() status = %v", st)
	}
	out := make([]byte, 16)
	n, st := tok.ReadStorage(3, out)
	if st != firmware.StatusOK || string(out[:n]) != "blob" {
		t.Fatalf("ReadStorage() = %q, %v", out[:n], st)
	}
	if st := tok.DeleteStorage(3); st != firmware.StatusOK {
		t.Fatalf("DeleteStorage() status = %v", st)
	}
	if _, st := tok.ReadStorage(3, out); st != firmware.StatusEmptySlot {
		t.Errorf("ReadStorage() after delete status = %v, want empty slot", st)
	}
	if st := tok.DeleteStorage(3); st != firmware.StatusEmptySlot {
		t.Errorf("DeleteStorage() twice status = %v, want empty slot", st)
	}
}

func TestU_Token_KeyTypeMismatch(t *testing.T) {
	tok := newTestToken(t)
	if st := tok.GenerateKey(firmware.KeyECP256, 4); st != firmware.StatusOK {
		t.Fatalf("GenerateKey() status = %v", st)
	}
	out := make([]byte, 128)
	if _, st := tok.GetPublicKey(firmware.KeyECP384, 4, out); st != firmware.StatusBadInput {
		t.Errorf("GetPublicKey(p384 on p256) status = %v, want bad input", st)
	}
	if st := tok.RemoveKey(firmware.KeyECP256, 4); st != firmware.StatusOK {
		t.Errorf("RemoveKey() status = %v", st)
	}
	if st := tok.RemoveKey(firmware.KeyECP256, 4); st != firmware.StatusEmptySlot {
		t.Errorf("RemoveKey() twice status = %v, want empty slot", st)
	}
}
