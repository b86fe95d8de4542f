package signer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"

	gocose "github.com/veraison/go-cose"
)

// COSEAlgorithm returns the COSE algorithm for pub: ES256/384/512 by
// curve, or PS256 for RSA.
func COSEAlgorithm(pub crypto.PublicKey) (gocose.Algorithm, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return gocose.AlgorithmES256, nil
		case elliptic.P384():
			return gocose.AlgorithmES384, nil
		case elliptic.P521():
			return gocose.AlgorithmES512, nil
		}
		return 0, fmt.Errorf("no COSE algorithm for curve %s", k.Curve.Params().Name)
	case *rsa.PublicKey:
		return gocose.AlgorithmPS256, nil
	}
	return 0, fmt.Errorf("no COSE algorithm for key type %T", pub)
}

// SignCOSE wraps payload in a tagged COSE_Sign1 message signed by s. kid,
// when set, goes in the protected header.
func SignCOSE(ctx context.Context, s *Signer, payload, kid []byte) ([]byte, error) {
	alg, err := COSEAlgorithm(s.Public())
	if err != nil {
		return nil, err
	}
	cs, err := gocose.NewSigner(alg, s.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}

	msg := gocose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(alg)
	if len(kid) > 0 {
		msg.Headers.Protected[gocose.HeaderLabelKeyID] = kid
	}
	msg.Payload = payload

	if err := msg.Sign(nil, nil, cs); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return msg.MarshalCBOR()
}

// VerifyCOSE checks a COSE_Sign1 message against pub and returns its
// payload. The algorithm in the protected header must match pub.
func VerifyCOSE(data []byte, pub crypto.PublicKey) ([]byte, error) {
	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("failed to parse COSE_Sign1: %w", err)
	}

	want, err := COSEAlgorithm(pub)
	if err != nil {
		return nil, err
	}
	got, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("missing algorithm header: %w", err)
	}
	if got != want {
		return nil, fmt.Errorf("algorithm mismatch: message uses %v, key expects %v", got, want)
	}

	v, err := gocose.NewVerifier(want, pub)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE verifier: %w", err)
	}
	if err := msg.Verify(nil, v); err != nil {
		if errors.Is(err, gocose.ErrVerification) {
			return nil, fmt.Errorf("signature verification failed: %w", err)
		}
		return nil, err
	}
	return msg.Payload, nil
}
