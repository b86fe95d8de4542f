//go:build cgo

package hsm

import (
	"github.com/miekg/pkcs11"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// secretTemplate describes a session-only extractable secret produced by a
// derive call. size zero leaves the length to the mechanism.
func secretTemplate(size int) []*pkcs11.Attribute {
	tmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_GENERIC_SECRET),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, false),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, false),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, true),
	}
	if size > 0 {
		tmpl = append(tmpl, pkcs11.NewAttribute(pkcs11.CKA_VALUE_LEN, size))
	}
	return tmpl
}

// derive runs mech against the private key at slot and returns the raw
// secret. The derived object is destroyed before returning.
func (t *Token) derive(c *pkcs11.Ctx, s pkcs11.SessionHandle, op firmware.Opcode, slot uint32, mech *pkcs11.Mechanism, size int) ([]byte, firmware.Status) {
	key, st := t.key(c, s, pkcs11.CKO_PRIVATE_KEY, op, slot)
	if st != firmware.StatusOK {
		return nil, st
	}
	h, err := c.DeriveKey(s, []*pkcs11.Mechanism{mech}, key, secretTemplate(size))
	if err != nil {
		return nil, t.status("derive", err)
	}
	defer func() { _ = c.DestroyObject(s, h) }()

	v, st := t.attr(c, s, h, pkcs11.CKA_VALUE)
	if st != firmware.StatusOK {
		return nil, st
	}
	if len(v) == 0 {
		return nil, firmware.StatusFail
	}
	return v, firmware.StatusOK
}

// DHGenerate creates a PKCS#3 key pair for (p, g) in slot and writes the
// public value padded to the prime length.
func (t *Token) DHGenerate(op firmware.Opcode, slot uint32, p, g, pub []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	if !op.IsDH() || len(p) == 0 || len(p) > op.FieldBytes() || len(g) == 0 {
		return 0, firmware.StatusBadInput
	}

	var n int
	st := t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		if _, st := t.destroy(c, s, keyTemplates(slot)...); st != firmware.StatusOK {
			return st
		}
		pubTmpl := publicAttrs(pkcs11.CKK_DH, slot,
			pkcs11.NewAttribute(pkcs11.CKA_PRIME, p),
			pkcs11.NewAttribute(pkcs11.CKA_BASE, g),
		)
		privTmpl := privateAttrs(pkcs11.CKK_DH, slot,
			pkcs11.NewAttribute(pkcs11.CKA_DERIVE, true),
		)
		mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_DH_PKCS_KEY_PAIR_GEN, nil)}
		pubH, _, err := c.GenerateKeyPair(s, mech, pubTmpl, privTmpl)
		if err != nil {
			return t.status("generate DH key pair", err)
		}
		y, st := t.attr(c, s, pubH, pkcs11.CKA_VALUE)
		if st != firmware.StatusOK {
			return st
		}
		n, st = putPadded(pub, y, len(p))
		return st
	})
	return n, st
}

// DHShared derives peer^x mod p. The token holds the group with the key,
// so p only fixes the output width.
func (t *Token) DHShared(op firmware.Opcode, slot uint32, p, g, peer, out []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	if !op.IsDH() || len(p) == 0 || len(peer) == 0 || len(peer) > len(p) {
		return 0, firmware.StatusBadInput
	}

	var n int
	st := t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		secret, st := t.derive(c, s, op, slot, pkcs11.NewMechanism(pkcs11.CKM_DH_PKCS_DERIVE, peer), 0)
		if st != firmware.StatusOK {
			return st
		}
		defer clear(secret)
		n, st = putPadded(out, secret, len(p))
		return st
	})
	return n, st
}

// ECDHShared derives the X coordinate of the shared point with
// CKM_ECDH1_DERIVE and no KDF.
func (t *Token) ECDHShared(op firmware.Opcode, slot uint32, peer, out []byte) (int, firmware.Status) {
	if st := t.check(slot, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return 0, st
	}
	if !op.IsEC() {
		return 0, firmware.StatusUnsupported
	}
	field := op.FieldBytes()
	if len(peer) != 1+2*field || peer[0] != 0x04 {
		return 0, firmware.StatusBadInput
	}

	var n int
	st := t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		params := pkcs11.NewECDH1DeriveParams(pkcs11.CKD_NULL, nil, peer)
		secret, st := t.derive(c, s, op, slot, pkcs11.NewMechanism(pkcs11.CKM_ECDH1_DERIVE, params), field)
		if st != firmware.StatusOK {
			return st
		}
		defer clear(secret)
		n, st = putPadded(out, secret, field)
		return st
	})
	return n, st
}
