package soft

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"io"

	"github.com/cloudflare/circl/dh/x25519"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// curves maps the EC selectors the soft element implements. P-192 and the
// Brainpool curves are declared by the mailbox but not emulated.
var curves = map[firmware.Opcode]elliptic.Curve{
	firmware.KeyECP224: elliptic.P224(),
	firmware.KeyECP256: elliptic.P256(),
	firmware.KeyECP384: elliptic.P384(),
	firmware.KeyECP521: elliptic.P521(),
}

func curveOf(op firmware.Opcode) (elliptic.Curve, firmware.Status) {
	c, ok := curves[op.Key()]
	if !ok {
		return nil, firmware.StatusUnsupported
	}
	return c, firmware.StatusOK
}

func ecPrivate(rec *record) (*ecdsa.PrivateKey, firmware.Status) {
	curve, st := curveOf(rec.opcode())
	if st != firmware.StatusOK {
		return nil, st
	}
	if rec.Priv == nil {
		return nil, firmware.StatusBadInput
	}
	priv, err := ecdsa.ParseRawPrivateKey(curve, rec.Priv)
	if err != nil {
		return nil, firmware.StatusFail
	}
	return priv, firmware.StatusOK
}

func ecPublic(rec *record) (*ecdsa.PublicKey, firmware.Status) {
	curve, st := curveOf(rec.opcode())
	if st != firmware.StatusOK {
		return nil, st
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(curve, rec.Pub)
	if err != nil {
		return nil, firmware.StatusFail
	}
	return pub, firmware.StatusOK
}

func rsaPrivate(rec *record) (*rsa.PrivateKey, firmware.Status) {
	if !rec.opcode().IsRSA() {
		return nil, firmware.StatusBadInput
	}
	if rec.Priv == nil {
		return nil, firmware.StatusBadInput
	}
	priv, err := x509.ParsePKCS1PrivateKey(rec.Priv)
	if err != nil {
		return nil, firmware.StatusFail
	}
	return priv, firmware.StatusOK
}

func rsaPublic(rec *record) (*rsa.PublicKey, firmware.Status) {
	if !rec.opcode().IsRSA() {
		return nil, firmware.StatusBadInput
	}
	pub, err := x509.ParsePKCS1PublicKey(rec.Pub)
	if err != nil {
		return nil, firmware.StatusFail
	}
	return pub, firmware.StatusOK
}

// normalize validates imported material for op and fills in the public half
// when only the private half is given.
func normalize(op firmware.Opcode, pub, priv []byte) (*record, firmware.Status) {
	rec := &record{Opcode: uint32(op.Key())}
	size := op.FieldBytes()

	switch {
	case op.IsEC():
		curve, st := curveOf(op)
		if st != firmware.StatusOK {
			return nil, st
		}
		if priv != nil {
			k, err := ecdsa.ParseRawPrivateKey(curve, priv)
			if err != nil {
				return nil, firmware.StatusBadInput
			}
			derived, err := k.PublicKey.Bytes()
			if err != nil {
				return nil, firmware.StatusFail
			}
			if pub != nil && !bytes.Equal(pub, derived) {
				return nil, firmware.StatusBadInput
			}
			rec.Priv = bytes.Clone(priv)
			pub = derived
		}
		if _, err := ecdsa.ParseUncompressedPublicKey(curve, pub); err != nil {
			return nil, firmware.StatusBadInput
		}
		rec.Pub = bytes.Clone(pub)

	case op.IsRSA():
		if priv != nil {
			k, err := x509.ParsePKCS1PrivateKey(priv)
			if err != nil || k.Size() != size {
				return nil, firmware.StatusBadInput
			}
			rec.Priv = bytes.Clone(priv)
			pub = x509.MarshalPKCS1PublicKey(&k.PublicKey)
		}
		k, err := x509.ParsePKCS1PublicKey(pub)
		if err != nil || k.Size() != size {
			return nil, firmware.StatusBadInput
		}
		rec.Pub = bytes.Clone(pub)

	case op.Key() == firmware.KeyX25519:
		if priv != nil {
			if len(priv) != x25519.Size {
				return nil, firmware.StatusBadInput
			}
			var secret, public x25519.Key
			copy(secret[:], priv)
			x25519.KeyGen(&public, &secret)
			rec.Priv = bytes.Clone(priv)
			pub = public[:]
		}
		if len(pub) != x25519.Size {
			return nil, firmware.StatusBadInput
		}
		rec.Pub = bytes.Clone(pub)

	case op.IsAES():
		if len(priv) != size {
			return nil, firmware.StatusBadInput
		}
		rec.Priv = bytes.Clone(priv)

	case op.IsHMAC():
		if len(priv) == 0 {
			return nil, firmware.StatusBadInput
		}
		rec.Priv = bytes.Clone(priv)

	case op.IsDH():
		if len(priv) == 0 || len(priv) > size {
			return nil, firmware.StatusBadInput
		}
		rec.Priv = bytes.Clone(priv)
		rec.Pub = bytes.Clone(pub)

	default:
		return nil, firmware.StatusUnsupported
	}
	return rec, firmware.StatusOK
}

// generate creates fresh material for op.
func generate(op firmware.Opcode, rand io.Reader) (*record, firmware.Status) {
	size := op.FieldBytes()

	switch {
	case op.IsEC():
		curve, st := curveOf(op)
		if st != firmware.StatusOK {
			return nil, st
		}
		k, err := ecdsa.GenerateKey(curve, rand)
		if err != nil {
			return nil, firmware.StatusFail
		}
		priv, err := k.Bytes()
		if err != nil {
			return nil, firmware.StatusFail
		}
		return normalize(op, nil, priv)

	case op.IsRSA():
		k, err := rsa.GenerateKey(rand, size*8)
		if err != nil {
			return nil, firmware.StatusFail
		}
		return normalize(op, nil, x509.MarshalPKCS1PrivateKey(k))

	case op.Key() == firmware.KeyX25519:
		var secret, public x25519.Key
		if _, err := io.ReadFull(rand, secret[:]); err != nil {
			return nil, firmware.StatusFail
		}
		x25519.KeyGen(&public, &secret)
		return &record{Opcode: uint32(op.Key()), Pub: bytes.Clone(public[:]), Priv: bytes.Clone(secret[:])}, firmware.StatusOK

	case op.IsAES(), op.IsHMAC():
		if size == 0 {
			size = 32
		}
		secret := make([]byte, size)
		if _, err := io.ReadFull(rand, secret); err != nil {
			return nil, firmware.StatusFail
		}
		return &record{Opcode: uint32(op.Key()), Priv: secret}, firmware.StatusOK
	}

	// DH keys are created against caller parameters by DHGenerate.
	return nil, firmware.StatusUnsupported
}

func (e *Element) SetKey(op firmware.Opcode, slot uint32, pub, priv []byte) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return st
	}
	rec, st := normalize(op, pub, priv)
	if st != firmware.StatusOK {
		return st
	}
	e.st.Keys[slot] = rec
	return e.save()
}

func (e *Element) GetPublicKey(op firmware.Opcode, slot uint32, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return 0, st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return 0, st
	}
	if rec.opcode() != op.Key() {
		return 0, firmware.StatusBadInput
	}
	if rec.Pub == nil {
		return 0, firmware.StatusUnsupported
	}
	return put(out, rec.Pub)
}

func (e *Element) RemoveKey(op firmware.Opcode, slot uint32) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return st
	}
	rec, ok := e.st.Keys[slot]
	if !ok {
		return firmware.StatusEmptySlot
	}
	if rec.opcode() != op.Key() {
		return firmware.StatusBadInput
	}
	clear(rec.Priv)
	delete(e.st.Keys, slot)
	return e.save()
}

func (e *Element) GenerateKey(op firmware.Opcode, slot uint32) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return st
	}
	rec, st := generate(op, e.rand)
	if st != firmware.StatusOK {
		return st
	}
	e.st.Keys[slot] = rec
	return e.save()
}

// Keys returns the occupied key slots and their selectors.
func (e *Element) Keys() map[uint32]firmware.Opcode {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[uint32]firmware.Opcode, len(e.st.Keys))
	for slot, rec := range e.st.Keys {
		out[slot] = rec.opcode()
	}
	return out
}
