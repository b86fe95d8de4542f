//go:build cgo

package hsm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"math/big"

	"github.com/miekg/pkcs11"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// derivable lists the curves on which a missing public point can be derived
// from an imported scalar.
var derivable = map[firmware.Opcode]elliptic.Curve{
	firmware.KeyECP224: elliptic.P224(),
	firmware.KeyECP256: elliptic.P256(),
	firmware.KeyECP384: elliptic.P384(),
	firmware.KeyECP521: elliptic.P521(),
}

func common(class, ktype uint, slot uint32) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, ktype),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, objectID(slot)),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, keyLabel(slot)),
	}
}

func privateAttrs(ktype uint, slot uint32, extra ...*pkcs11.Attribute) []*pkcs11.Attribute {
	tmpl := append(common(pkcs11.CKO_PRIVATE_KEY, ktype, slot),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
	)
	return append(tmpl, extra...)
}

func publicAttrs(ktype uint, slot uint32, extra ...*pkcs11.Attribute) []*pkcs11.Attribute {
	return append(common(pkcs11.CKO_PUBLIC_KEY, ktype, slot), extra...)
}

func secretAttrs(ktype uint, slot uint32, extra ...*pkcs11.Attribute) []*pkcs11.Attribute {
	tmpl := append(common(pkcs11.CKO_SECRET_KEY, ktype, slot),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
	)
	return append(tmpl, extra...)
}

// ecTemplates builds the object templates for an EC import. pub is derived
// from priv on NIST curves when absent.
func ecTemplates(op firmware.Opcode, slot uint32, pub, priv []byte) (public, private []*pkcs11.Attribute, st firmware.Status) {
	params, st := ecParams(op)
	if st != firmware.StatusOK {
		return nil, nil, st
	}
	if priv != nil {
		if curve, ok := derivable[op.Key()]; ok {
			k, err := ecdsa.ParseRawPrivateKey(curve, priv)
			if err != nil {
				return nil, nil, firmware.StatusBadInput
			}
			if pub == nil {
				if pub, err = k.PublicKey.Bytes(); err != nil {
					return nil, nil, firmware.StatusFail
				}
			}
		}
		private = privateAttrs(pkcs11.CKK_EC, slot,
			pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, params),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, priv),
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
			pkcs11.NewAttribute(pkcs11.CKA_DERIVE, true),
		)
	}
	if len(pub) != 1+2*op.FieldBytes() || pub[0] != 0x04 {
		return nil, nil, firmware.StatusBadInput
	}
	public = publicAttrs(pkcs11.CKK_EC, slot,
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, params),
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, wrapPoint(pub)),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
	)
	return public, private, firmware.StatusOK
}

func rsaTemplates(op firmware.Opcode, slot uint32, pub, priv []byte) (public, private []*pkcs11.Attribute, st firmware.Status) {
	var pk *rsa.PublicKey
	if priv != nil {
		k, err := x509.ParsePKCS1PrivateKey(priv)
		if err != nil || k.Size() != op.FieldBytes() || len(k.Primes) != 2 {
			return nil, nil, firmware.StatusBadInput
		}
		k.Precompute()
		private = privateAttrs(pkcs11.CKK_RSA, slot,
			pkcs11.NewAttribute(pkcs11.CKA_MODULUS, k.N.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, big.NewInt(int64(k.E)).Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_PRIVATE_EXPONENT, k.D.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_PRIME_1, k.Primes[0].Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_PRIME_2, k.Primes[1].Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_EXPONENT_1, k.Precomputed.Dp.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_EXPONENT_2, k.Precomputed.Dq.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_COEFFICIENT, k.Precomputed.Qinv.Bytes()),
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
			pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
		)
		pk = &k.PublicKey
	} else {
		k, err := x509.ParsePKCS1PublicKey(pub)
		if err != nil || k.Size() != op.FieldBytes() {
			return nil, nil, firmware.StatusBadInput
		}
		pk = k
	}
	public = publicAttrs(pkcs11.CKK_RSA, slot,
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, pk.N.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, big.NewInt(int64(pk.E)).Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
	)
	return public, private, firmware.StatusOK
}

func (t *Token) SetKey(op firmware.Opcode, slot uint32, pub, priv []byte) firmware.Status {
	if st := t.check(slot); st != firmware.StatusOK {
		return st
	}

	var tmpls [][]*pkcs11.Attribute
	switch {
	case op.IsEC():
		public, private, st := ecTemplates(op, slot, pub, priv)
		if st != firmware.StatusOK {
			return st
		}
		tmpls = append(tmpls, public)
		if private != nil {
			tmpls = append(tmpls, private)
		}
	case op.IsRSA():
		public, private, st := rsaTemplates(op, slot, pub, priv)
		if st != firmware.StatusOK {
			return st
		}
		tmpls = append(tmpls, public)
		if private != nil {
			tmpls = append(tmpls, private)
		}
	case op.IsAES():
		if len(priv) != op.FieldBytes() {
			return firmware.StatusBadInput
		}
		tmpls = append(tmpls, secretAttrs(pkcs11.CKK_AES, slot,
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, priv),
			pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
			pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
		))
	case op.IsHMAC():
		if len(priv) == 0 {
			return firmware.StatusBadInput
		}
		tmpls = append(tmpls, secretAttrs(pkcs11.CKK_GENERIC_SECRET, slot,
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, priv),
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
			pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		))
	default:
		return firmware.StatusUnsupported
	}

	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		if _, st := t.destroy(c, s, keyTemplates(slot)...); st != firmware.StatusOK {
			return st
		}
		for _, tmpl := range tmpls {
			if _, err := c.CreateObject(s, tmpl); err != nil {
				return t.status("create key", err)
			}
		}
		return firmware.StatusOK
	})
}

func (t *Token) GetPublicKey(op firmware.Opcode, slot uint32, out []byte) (int, firmware.Status) {
	if st := t.check(slot, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return 0, st
	}
	if !op.IsEC() && !op.IsRSA() {
		return 0, firmware.StatusUnsupported
	}

	var n int
	st := t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		o, st := t.key(c, s, pkcs11.CKO_PUBLIC_KEY, op, slot)
		if st != firmware.StatusOK {
			return st
		}
		if op.IsEC() {
			v, st := t.attr(c, s, o, pkcs11.CKA_EC_POINT)
			if st != firmware.StatusOK {
				return st
			}
			n, st = put(out, unwrapPoint(v))
			return st
		}
		mod, st := t.attr(c, s, o, pkcs11.CKA_MODULUS)
		if st != firmware.StatusOK {
			return st
		}
		exp, st := t.attr(c, s, o, pkcs11.CKA_PUBLIC_EXPONENT)
		if st != firmware.StatusOK {
			return st
		}
		e := new(big.Int).SetBytes(exp)
		if !e.IsInt64() || e.Int64() > 1<<31-1 {
			return firmware.StatusFail
		}
		der := x509.MarshalPKCS1PublicKey(&rsa.PublicKey{N: new(big.Int).SetBytes(mod), E: int(e.Int64())})
		n, st = put(out, der)
		return st
	})
	return n, st
}

func (t *Token) RemoveKey(op firmware.Opcode, slot uint32) firmware.Status {
	if st := t.check(slot); st != firmware.StatusOK {
		return st
	}
	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		var found pkcs11.ObjectHandle
		var ok bool
		for _, tmpl := range keyTemplates(slot) {
			objs, err := findAll(c, s, tmpl)
			if err != nil {
				return t.status("find", err)
			}
			if len(objs) > 0 {
				found, ok = objs[0], true
				break
			}
		}
		if !ok {
			return firmware.StatusEmptySlot
		}
		if st := t.matches(c, s, found, op); st != firmware.StatusOK {
			return st
		}
		_, st := t.destroy(c, s, keyTemplates(slot)...)
		return st
	})
}

func (t *Token) GenerateKey(op firmware.Opcode, slot uint32) firmware.Status {
	if st := t.check(slot); st != firmware.StatusOK {
		return st
	}

	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		if _, st := t.destroy(c, s, keyTemplates(slot)...); st != firmware.StatusOK {
			return st
		}

		switch {
		case op.IsEC():
			params, st := ecParams(op)
			if st != firmware.StatusOK {
				return st
			}
			pub := publicAttrs(pkcs11.CKK_EC, slot,
				pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, params),
				pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
			)
			priv := privateAttrs(pkcs11.CKK_EC, slot,
				pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
				pkcs11.NewAttribute(pkcs11.CKA_DERIVE, true),
			)
			mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_EC_KEY_PAIR_GEN, nil)}
			if _, _, err := c.GenerateKeyPair(s, mech, pub, priv); err != nil {
				return t.status("generate EC key pair", err)
			}

		case op.IsRSA():
			pub := publicAttrs(pkcs11.CKK_RSA, slot,
				pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, uint(op.FieldBytes()*8)),
				pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, []byte{0x01, 0x00, 0x01}),
				pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
				pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
			)
			priv := privateAttrs(pkcs11.CKK_RSA, slot,
				pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
				pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
			)
			mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil)}
			if _, _, err := c.GenerateKeyPair(s, mech, pub, priv); err != nil {
				return t.status("generate RSA key pair", err)
			}

		case op.IsAES():
			tmpl := secretAttrs(pkcs11.CKK_AES, slot,
				pkcs11.NewAttribute(pkcs11.CKA_VALUE_LEN, op.FieldBytes()),
				pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
				pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
			)
			mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_KEY_GEN, nil)}
			if _, err := c.GenerateKey(s, mech, tmpl); err != nil {
				return t.status("generate AES key", err)
			}

		case op.IsHMAC():
			tmpl := secretAttrs(pkcs11.CKK_GENERIC_SECRET, slot,
				pkcs11.NewAttribute(pkcs11.CKA_VALUE_LEN, 32),
				pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
				pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
			)
			mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_GENERIC_SECRET_KEY_GEN, nil)}
			if _, err := c.GenerateKey(s, mech, tmpl); err != nil {
				return t.status("generate HMAC key", err)
			}

		default:
			// X25519 needs CKM_EC_MONTGOMERY_KEY_PAIR_GEN, which most
			// tokens lack. DH keys are created by DHGenerate.
			return firmware.StatusUnsupported
		}
		return firmware.StatusOK
	})
}
