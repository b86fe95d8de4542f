// Package service serializes REST requests onto one HAL device.
package service

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/remiblancher/sehal/pkg/firmware"
	"github.com/remiblancher/sehal/pkg/hal"
	"github.com/remiblancher/sehal/pkg/signer"
)

// ErrBadRequest marks request errors caught before the device is reached.
var ErrBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// DeviceService guards a device with a mutex. The element processes one
// command at a time.
type DeviceService struct {
	mu      sync.Mutex
	dev     hal.Ops
	cfg     hal.Config
	backend string
}

// NewDeviceService wraps dev. cfg supplies the buffer limits.
func NewDeviceService(dev hal.Ops, cfg hal.Config) *DeviceService {
	def := hal.DefaultConfig()
	if cfg.MaxRandomSize <= 0 {
		cfg.MaxRandomSize = def.MaxRandomSize
	}
	if cfg.MaxCertSize <= 0 {
		cfg.MaxCertSize = def.MaxCertSize
	}
	if cfg.MaxStorageSize <= 0 {
		cfg.MaxStorageSize = def.MaxStorageSize
	}
	return &DeviceService{dev: dev, cfg: cfg, backend: cfg.Backend}
}

// Backend names the firmware in health responses.
func (s *DeviceService) Backend() string { return s.backend }

// Ready probes the element status.
func (s *DeviceService) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Status(ctx)
}

// Random returns n random bytes.
func (s *DeviceService) Random(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 || n > s.cfg.MaxRandomSize {
		return nil, badRequest("size must be in 1..%d", s.cfg.MaxRandomSize)
	}
	out := hal.NewData(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dev.GenerateRandom(ctx, n, out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Hash digests data on the element.
func (s *DeviceService) Hash(ctx context.Context, algorithm string, data []byte) ([]byte, error) {
	h, err := hal.ParseHashType(algorithm)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	out := hal.NewData(64)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dev.GetHash(ctx, h, hal.DataOf(data), out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// SignParams selects the key and scheme for Sign and Verify.
type SignParams struct {
	Slot    uint32
	KeyType string
	Hash    string
	Padding string
}

type scheme struct {
	key   hal.KeyType
	ecdsa hal.ECDSAMode
	rsa   hal.RSAMode
}

func (p SignParams) scheme() (scheme, error) {
	k, err := hal.ParseKeyType(p.KeyType)
	if err != nil {
		return scheme{}, badRequest("%v", err)
	}
	h, err := hal.ParseHashType(p.Hash)
	if err != nil {
		return scheme{}, badRequest("%v", err)
	}
	sc := scheme{key: k}
	switch {
	case k.IsEC():
		sc.ecdsa = hal.ECDSAMode{Curve: k.Curve(), Hash: h}
	case k.IsRSA():
		sc.rsa = hal.RSAMode{Padding: hal.RSAPKCS1v15, Hash: h}
		switch p.Padding {
		case "", "pkcs1":
		case "pss":
			sc.rsa.Padding = hal.RSAPSS
			sc.rsa.MGF = h
		default:
			return scheme{}, badRequest("unknown padding: %s", p.Padding)
		}
	default:
		return scheme{}, badRequest("key type %s does not sign", k)
	}
	return sc, nil
}

// Sign signs a precomputed digest with the key in p.Slot.
func (s *DeviceService) Sign(ctx context.Context, p SignParams, digest []byte) ([]byte, error) {
	sc, err := p.scheme()
	if err != nil {
		return nil, err
	}
	sig := hal.NewData(1024)
	if sc.key.IsEC() {
		sig = hal.NewData(hal.MaxSignatureLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.key.IsEC() {
		err = s.dev.ECDSASignMD(ctx, sc.ecdsa, hal.DataOf(digest), p.Slot, sig)
	} else {
		err = s.dev.RSASignMD(ctx, sc.rsa, hal.DataOf(digest), p.Slot, sig)
	}
	if err != nil {
		return nil, err
	}
	return sig.Bytes(), nil
}

// Verify checks a signature over digest. A signature the element rejects
// returns false with a nil error.
func (s *DeviceService) Verify(ctx context.Context, p SignParams, digest, sig []byte) (bool, error) {
	sc, err := p.scheme()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.key.IsEC() {
		err = s.dev.ECDSAVerifyMD(ctx, sc.ecdsa, hal.DataOf(digest), hal.DataOf(sig), p.Slot)
	} else {
		err = s.dev.RSAVerifyMD(ctx, sc.rsa, hal.DataOf(digest), hal.DataOf(sig), p.Slot)
	}
	var halErr *hal.Error
	if errors.As(err, &halErr) && halErr.Status == firmware.StatusVerifyFail {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PublicKeyPEM exports the public key in slot as a PEM PUBLIC KEY block.
func (s *DeviceService) PublicKeyPEM(ctx context.Context, slot uint32, keyType string) (string, error) {
	k, err := hal.ParseKeyType(keyType)
	if err != nil {
		return "", badRequest("%v", err)
	}
	if !k.IsEC() && !k.IsRSA() {
		return "", badRequest("key type %s has no exportable public key", k)
	}

	s.mu.Lock()
	pub, err := signer.PublicKey(ctx, s.dev, slot, k)
	s.mu.Unlock()
	if err != nil {
		var halErr *hal.Error
		if errors.As(err, &halErr) {
			return "", err
		}
		return "", badRequest("%v", err)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Certificate reads the certificate in slot. The factory slot reads the
// factory certificate.
func (s *DeviceService) Certificate(ctx context.Context, slot uint32) ([]byte, error) {
	out := hal.NewData(s.cfg.MaxCertSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dev.GetCertificate(ctx, slot, out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// PutCertificate stores cert in slot.
func (s *DeviceService) PutCertificate(ctx context.Context, slot uint32, cert []byte) error {
	if len(cert) == 0 {
		return badRequest("certificate is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.SetCertificate(ctx, slot, hal.DataOf(cert))
}

// ReadStorage reads the storage block in slot.
func (s *DeviceService) ReadStorage(ctx context.Context, slot uint32) ([]byte, error) {
	out := hal.NewData(s.cfg.MaxStorageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dev.ReadStorage(ctx, slot, out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// WriteStorage replaces the storage block in slot.
func (s *DeviceService) WriteStorage(ctx context.Context, slot uint32, data []byte) error {
	if len(data) == 0 {
		return badRequest("data is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.WriteStorage(ctx, slot, hal.DataOf(data))
}
