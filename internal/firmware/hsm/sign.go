//go:build cgo

package hsm

import (
	"github.com/miekg/pkcs11"

	"github.com/remiblancher/sehal/pkg/firmware"
)

type digestMech struct {
	mech   uint
	mgf    uint
	prefix []byte // DER DigestInfo header for PKCS#1 v1.5
}

var digests = map[firmware.Opcode]digestMech{
	firmware.HashSHA1: {pkcs11.CKM_SHA_1, pkcs11.CKG_MGF1_SHA1,
		[]byte{0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14}},
	firmware.HashSHA224: {pkcs11.CKM_SHA224, pkcs11.CKG_MGF1_SHA224,
		[]byte{0x30, 0x2d, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x04, 0x05, 0x00, 0x04, 0x1c}},
	firmware.HashSHA256: {pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256,
		[]byte{0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20}},
	firmware.HashSHA384: {pkcs11.CKM_SHA384, pkcs11.CKG_MGF1_SHA384,
		[]byte{0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30}},
	firmware.HashSHA512: {pkcs11.CKM_SHA512, pkcs11.CKG_MGF1_SHA512,
		[]byte{0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40}},
}

func (t *Token) GenerateRandom(out []byte) firmware.Status {
	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		b, err := c.GenerateRandom(s, len(out))
		if err != nil {
			return t.status("generate random", err)
		}
		if len(b) != len(out) {
			return firmware.StatusFail
		}
		copy(out, b)
		return firmware.StatusOK
	})
}

func (t *Token) Hash(op firmware.Opcode, msg, out []byte) (int, firmware.Status) {
	d, ok := digests[op.Hash()]
	if !ok {
		return 0, firmware.StatusUnsupported
	}
	var n int
	st := t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		if err := c.DigestInit(s, []*pkcs11.Mechanism{pkcs11.NewMechanism(d.mech, nil)}); err != nil {
			return t.status("digest init", err)
		}
		sum, err := c.Digest(s, msg)
		if err != nil {
			return t.status("digest", err)
		}
		var st firmware.Status
		n, st = put(out, sum)
		return st
	})
	return n, st
}

// rsaSignMech returns the mechanism and the data to sign for an RSA
// signature over hash.
func rsaSignMech(op firmware.Opcode, hash []byte) (*pkcs11.Mechanism, []byte, firmware.Status) {
	d, ok := digests[op.Hash()]
	if !ok || len(hash) != op.DigestSize() {
		return nil, nil, firmware.StatusBadInput
	}
	if op.Has(firmware.FlagPSS) {
		params := pkcs11.NewPSSParams(d.mech, d.mgf, uint(len(hash)))
		return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_PSS, params), hash, firmware.StatusOK
	}
	data := make([]byte, 0, len(d.prefix)+len(hash))
	data = append(append(data, d.prefix...), hash...)
	return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), data, firmware.StatusOK
}

func (t *Token) RSASign(op firmware.Opcode, slot uint32, hash, sig []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	mech, data, st := rsaSignMech(op, hash)
	if st != firmware.StatusOK {
		return 0, st
	}

	var n int
	st = t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		key, st := t.key(c, s, pkcs11.CKO_PRIVATE_KEY, op, slot)
		if st != firmware.StatusOK {
			return st
		}
		if err := c.SignInit(s, []*pkcs11.Mechanism{mech}, key); err != nil {
			return t.status("sign init", err)
		}
		out, err := c.Sign(s, data)
		if err != nil {
			return t.status("sign", err)
		}
		n, st = put(sig, out)
		return st
	})
	return n, st
}

func (t *Token) RSAVerify(op firmware.Opcode, slot uint32, hash, sig []byte) firmware.Status {
	if st := t.check(slot); st != firmware.StatusOK {
		return st
	}
	mech, data, st := rsaSignMech(op, hash)
	if st != firmware.StatusOK {
		return st
	}

	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		key, st := t.key(c, s, pkcs11.CKO_PUBLIC_KEY, op, slot)
		if st != firmware.StatusOK {
			return st
		}
		if err := c.VerifyInit(s, []*pkcs11.Mechanism{mech}, key); err != nil {
			return t.status("verify init", err)
		}
		if err := c.Verify(s, data, sig); err != nil {
			return t.status("verify", err)
		}
		return firmware.StatusOK
	})
}

// ECDSASign returns r and s as fixed-width halves of the raw token
// signature.
func (t *Token) ECDSASign(op firmware.Opcode, slot uint32, hash, r, s []byte) (int, int, firmware.Status) {
	if st := t.check(slot, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return 0, 0, st
	}
	if !op.IsEC() {
		return 0, 0, firmware.StatusBadInput
	}

	var half int
	st := t.with(func(c *pkcs11.Ctx, sh pkcs11.SessionHandle) firmware.Status {
		key, st := t.key(c, sh, pkcs11.CKO_PRIVATE_KEY, op, slot)
		if st != firmware.StatusOK {
			return st
		}
		if err := c.SignInit(sh, []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}, key); err != nil {
			return t.status("sign init", err)
		}
		raw, err := c.Sign(sh, hash)
		if err != nil {
			return t.status("sign", err)
		}
		if len(raw) == 0 || len(raw)%2 != 0 {
			return firmware.StatusFail
		}
		half = len(raw) / 2
		if len(r) < half || len(s) < half {
			return firmware.StatusOverflow
		}
		copy(r, raw[:half])
		copy(s, raw[half:])
		return firmware.StatusOK
	})
	if st != firmware.StatusOK {
		return 0, 0, st
	}
	return half, half, firmware.StatusOK
}

func (t *Token) ECDSAVerify(op firmware.Opcode, slot uint32, hash, r, s []byte) firmware.Status {
	if st := t.check(slot, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return st
	}
	field := op.FieldBytes()
	if !op.IsEC() || len(r) > field || len(s) > field {
		return firmware.StatusBadInput
	}
	sig := make([]byte, 2*field)
	copy(sig[field-len(r):field], r)
	copy(sig[2*field-len(s):], s)

	return t.with(func(c *pkcs11.Ctx, sh pkcs11.SessionHandle) firmware.Status {
		key, st := t.key(c, sh, pkcs11.CKO_PUBLIC_KEY, op, slot)
		if st != firmware.StatusOK {
			return st
		}
		if err := c.VerifyInit(sh, []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}, key); err != nil {
			return t.status("verify init", err)
		}
		if err := c.Verify(sh, hash, sig); err != nil {
			return t.status("verify", err)
		}
		return firmware.StatusOK
	})
}

func rsaCryptMech(op firmware.Opcode) (*pkcs11.Mechanism, firmware.Status) {
	if !op.Has(firmware.FlagOAEP) {
		return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), firmware.StatusOK
	}
	h := op.Hash()
	if h == 0 {
		h = firmware.HashSHA1
	}
	d, ok := digests[h]
	if !ok {
		return nil, firmware.StatusUnsupported
	}
	params := pkcs11.NewOAEPParams(d.mech, d.mgf, pkcs11.CKZ_DATA_SPECIFIED, nil)
	return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_OAEP, params), firmware.StatusOK
}

func (t *Token) RSAEncrypt(op firmware.Opcode, slot uint32, in, out []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	mech, st := rsaCryptMech(op)
	if st != firmware.StatusOK {
		return 0, st
	}

	var n int
	st = t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		key, st := t.key(c, s, pkcs11.CKO_PUBLIC_KEY, op, slot)
		if st != firmware.StatusOK {
			return st
		}
		if err := c.EncryptInit(s, []*pkcs11.Mechanism{mech}, key); err != nil {
			return t.status("encrypt init", err)
		}
		ct, err := c.Encrypt(s, in)
		if err != nil {
			return t.status("encrypt", err)
		}
		n, st = put(out, ct)
		return st
	})
	return n, st
}

func (t *Token) RSADecrypt(op firmware.Opcode, slot uint32, in, out []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	mech, st := rsaCryptMech(op)
	if st != firmware.StatusOK {
		return 0, st
	}

	var n int
	st = t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		key, st := t.key(c, s, pkcs11.CKO_PRIVATE_KEY, op, slot)
		if st != firmware.StatusOK {
			return st
		}
		if err := c.DecryptInit(s, []*pkcs11.Mechanism{mech}, key); err != nil {
			return t.status("decrypt init", err)
		}
		pt, err := c.Decrypt(s, in)
		if err != nil {
			return t.status("decrypt", err)
		}
		n, st = put(out, pt)
		clear(pt)
		return st
	})
	return n, st
}
