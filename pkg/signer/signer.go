// Package signer exposes a HAL key slot as a crypto.Signer and produces
// COSE_Sign1 messages with it.
//
// The private key never leaves the element: Sign hands the digest to
// ECDSASignMD or RSASignMD and returns what the element produced. ECDSA
// signatures are ASN.1 DER, as crypto.Signer requires.
package signer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/remiblancher/sehal/pkg/hal"
)

// Device is the subset of hal.Ops a Signer needs.
type Device interface {
	GetKey(ctx context.Context, mode hal.KeyType, slot uint32, key *hal.Data) error
	ECDSASignMD(ctx context.Context, mode hal.ECDSAMode, hash *hal.Data, slot uint32, sign *hal.Data) error
	RSASignMD(ctx context.Context, mode hal.RSAMode, hash *hal.Data, slot uint32, sign *hal.Data) error
}

// Signer signs digests with the key held in one slot.
type Signer struct {
	dev  Device
	slot uint32
	key  hal.KeyType
	pub  crypto.PublicKey
}

var _ crypto.Signer = (*Signer)(nil)

var ellipticCurves = map[hal.KeyType]elliptic.Curve{
	hal.KeyECSecP224R1: elliptic.P224(),
	hal.KeyECSecP256R1: elliptic.P256(),
	hal.KeyECSecP384R1: elliptic.P384(),
	hal.KeyECSecP521R1: elliptic.P521(),
}

var hashTypes = map[crypto.Hash]hal.HashType{
	crypto.SHA1:   hal.HashSHA1,
	crypto.SHA224: hal.HashSHA224,
	crypto.SHA256: hal.HashSHA256,
	crypto.SHA384: hal.HashSHA384,
	crypto.SHA512: hal.HashSHA512,
}

// New reads the public key of slot and returns a Signer for it. keyType
// must be an RSA key or an EC key on a NIST curve.
func New(ctx context.Context, dev Device, slot uint32, keyType hal.KeyType) (*Signer, error) {
	pub, err := PublicKey(ctx, dev, slot, keyType)
	if err != nil {
		return nil, err
	}
	return &Signer{dev: dev, slot: slot, key: keyType, pub: pub}, nil
}

// PublicKey exports the public key in slot as a crypto.PublicKey.
func PublicKey(ctx context.Context, dev Device, slot uint32, keyType hal.KeyType) (crypto.PublicKey, error) {
	switch {
	case keyType.IsEC():
		curve, ok := ellipticCurves[keyType]
		if !ok {
			return nil, fmt.Errorf("unsupported signer key type: %v", keyType)
		}
		size := (curve.Params().BitSize + 7) / 8
		key := hal.NewDataPair(size)
		if err := dev.GetKey(ctx, keyType, slot, key); err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		point := make([]byte, 1+2*size)
		point[0] = 0x04
		new(big.Int).SetBytes(key.Bytes()).FillBytes(point[1 : 1+size])
		new(big.Int).SetBytes(key.PrivBytes()).FillBytes(point[1+size:])
		pub, err := ecdsa.ParseUncompressedPublicKey(curve, point)
		if err != nil {
			return nil, fmt.Errorf("invalid public key from slot %d: %w", slot, err)
		}
		return pub, nil

	case keyType.IsRSA():
		key := hal.NewData(1024)
		if err := dev.GetKey(ctx, keyType, slot, key); err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		pub, err := x509.ParsePKCS1PublicKey(key.Bytes())
		if err != nil {
			return nil, fmt.Errorf("invalid public key from slot %d: %w", slot, err)
		}
		return pub, nil
	}
	return nil, fmt.Errorf("unsupported signer key type: %v", keyType)
}

// Public returns the public key.
func (s *Signer) Public() crypto.PublicKey { return s.pub }

// Slot returns the key slot.
func (s *Signer) Slot() uint32 { return s.slot }

// KeyType returns the slot's key type.
func (s *Signer) KeyType() hal.KeyType { return s.key }

// Sign signs digest without a deadline. See SignContext.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.SignContext(context.Background(), digest, opts)
}

// digestHashes names the hash of a bare ECDSA digest by its length.
var digestHashes = map[int]crypto.Hash{
	crypto.SHA256.Size(): crypto.SHA256,
	crypto.SHA384.Size(): crypto.SHA384,
	crypto.SHA512.Size(): crypto.SHA512,
}

// hashFor returns the hash digest was computed with. ECDSA callers such as
// go-cose pass nil opts; the hash is then taken from the digest length.
func (s *Signer) hashFor(digest []byte, opts crypto.SignerOpts) (crypto.Hash, error) {
	if opts != nil {
		return opts.HashFunc(), nil
	}
	if !s.key.IsEC() {
		return 0, errors.New("signer options are required for RSA keys")
	}
	h, ok := digestHashes[len(digest)]
	if !ok {
		return 0, fmt.Errorf("cannot infer hash from a %d byte digest", len(digest))
	}
	return h, nil
}

// SignContext signs digest, which must come from opts.HashFunc(). RSA keys
// use PSS when opts is *rsa.PSSOptions and PKCS#1 v1.5 otherwise. EC keys
// accept nil opts for SHA-256, SHA-384 and SHA-512 digests.
func (s *Signer) SignContext(ctx context.Context, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	h, err := s.hashFor(digest, opts)
	if err != nil {
		return nil, err
	}
	hash, ok := hashTypes[h]
	if !ok {
		return nil, fmt.Errorf("unsupported hash: %v", h)
	}

	if s.key.IsEC() {
		sig := hal.NewData(hal.MaxSignatureLen)
		mode := hal.ECDSAMode{Curve: s.key.Curve(), Hash: hash}
		if err := s.dev.ECDSASignMD(ctx, mode, hal.DataOf(digest), s.slot, sig); err != nil {
			return nil, fmt.Errorf("ECDSA signing failed: %w", err)
		}
		return sig.Bytes(), nil
	}

	mode := hal.RSAMode{Padding: hal.RSAPKCS1v15, Hash: hash}
	if pss, ok := opts.(*rsa.PSSOptions); ok {
		mode.Padding = hal.RSAPSS
		mode.MGF = hash
		if pss.SaltLength > 0 {
			mode.SaltLen = pss.SaltLength
		}
	}
	sig := hal.NewData(s.pub.(*rsa.PublicKey).Size())
	if err := s.dev.RSASignMD(ctx, mode, hal.DataOf(digest), s.slot, sig); err != nil {
		return nil, fmt.Errorf("RSA signing failed: %w", err)
	}
	return sig.Bytes(), nil
}

// bound pins a context for callers that only know crypto.Signer.
type bound struct {
	*Signer
	ctx context.Context
}

func (b bound) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return b.SignContext(b.ctx, digest, opts)
}

// WithContext returns a crypto.Signer whose Sign calls use ctx.
func (s *Signer) WithContext(ctx context.Context) crypto.Signer {
	return bound{Signer: s, ctx: ctx}
}
