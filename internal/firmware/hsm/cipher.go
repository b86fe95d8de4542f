//go:build cgo

package hsm

import (
	"github.com/miekg/pkcs11"

	"github.com/remiblancher/sehal/pkg/firmware"
)

const aesBlock = 16

func pad(b []byte) []byte {
	n := aesBlock - len(b)%aesBlock
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 || len(b)%aesBlock != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aesBlock || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

// aesMech picks the token mechanism for op. ECB padding is applied by the
// caller; CBC padding uses CKM_AES_CBC_PAD. CTR is not offered because its
// parameter block depends on the module's CK_ULONG width.
func aesMech(op firmware.Opcode, iv []byte) (mech *pkcs11.Mechanism, softPad bool, st firmware.Status) {
	switch op.Mode() {
	case firmware.ModeECB:
		return pkcs11.NewMechanism(pkcs11.CKM_AES_ECB, nil), op.Has(firmware.FlagPKCS7), firmware.StatusOK
	case firmware.ModeCBC:
		if len(iv) != aesBlock {
			return nil, false, firmware.StatusBadInput
		}
		if op.Has(firmware.FlagPKCS7) {
			return pkcs11.NewMechanism(pkcs11.CKM_AES_CBC_PAD, iv), false, firmware.StatusOK
		}
		return pkcs11.NewMechanism(pkcs11.CKM_AES_CBC, iv), false, firmware.StatusOK
	}
	return nil, false, firmware.StatusUnsupported
}

func (t *Token) AESEncrypt(op firmware.Opcode, slot uint32, iv, in, out []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	mech, softPad, st := aesMech(op, iv)
	if st != firmware.StatusOK {
		return 0, st
	}
	src := in
	if softPad {
		src = pad(in)
		defer clear(src)
	}

	var n int
	st = t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		key, st := t.object(c, s, byClass(pkcs11.CKO_SECRET_KEY, slot))
		if st != firmware.StatusOK {
			return st
		}
		if err := c.EncryptInit(s, []*pkcs11.Mechanism{mech}, key); err != nil {
			return t.status("encrypt init", err)
		}
		ct, err := c.Encrypt(s, src)
		if err != nil {
			return t.status("encrypt", err)
		}
		n, st = put(out, ct)
		return st
	})
	return n, st
}

func (t *Token) AESDecrypt(op firmware.Opcode, slot uint32, iv, in, out []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	mech, softPad, st := aesMech(op, iv)
	if st != firmware.StatusOK {
		return 0, st
	}

	var n int
	st = t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		key, st := t.object(c, s, byClass(pkcs11.CKO_SECRET_KEY, slot))
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
		defer clear(pt)
		result := pt
		if softPad {
			var ok bool
			if result, ok = unpad(pt); !ok {
				return firmware.StatusBadInput
			}
		}
		n, st = put(out, result)
		return st
	})
	return n, st
}
