package soft

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/remiblancher/sehal/pkg/firmware"
)

func (e *Element) aesKey(slot uint32) (cipher.Block, firmware.Status) {
	if st := e.check(slot); st != firmware.StatusOK {
		return nil, st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return nil, st
	}
	if !rec.opcode().IsAES() {
		return nil, firmware.StatusBadInput
	}
	block, err := aes.NewCipher(rec.Priv)
	if err != nil {
		return nil, firmware.StatusFail
	}
	return block, firmware.StatusOK
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

// ecb runs the block cipher over whole blocks. The standard library offers
// no ECB mode.
func ecb(block cipher.Block, dst, src []byte, decrypt bool) {
	for i := 0; i < len(src); i += aes.BlockSize {
		if decrypt {
			block.Decrypt(dst[i:i+aes.BlockSize], src[i:i+aes.BlockSize])
		} else {
			block.Encrypt(dst[i:i+aes.BlockSize], src[i:i+aes.BlockSize])
		}
	}
}

func (e *Element) AESEncrypt(op firmware.Opcode, slot uint32, iv, in, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	block, st := e.aesKey(slot)
	if st != firmware.StatusOK {
		return 0, st
	}

	src := in
	if op.Has(firmware.FlagPKCS7) && op.Mode() != firmware.ModeCTR {
		src = pad(in)
	}
	if len(out) < len(src) {
		return 0, firmware.StatusOverflow
	}
	dst := out[:len(src)]

	switch op.Mode() {
	case firmware.ModeECB:
		if len(src)%aes.BlockSize != 0 {
			return 0, firmware.StatusBadInput
		}
		ecb(block, dst, src, false)
	case firmware.ModeCBC:
		if len(src)%aes.BlockSize != 0 || len(iv) != aes.BlockSize {
			return 0, firmware.StatusBadInput
		}
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst, src)
	case firmware.ModeCTR:
		if len(iv) != aes.BlockSize {
			return 0, firmware.StatusBadInput
		}
		cipher.NewCTR(block, iv).XORKeyStream(dst, src)
	default:
		return 0, firmware.StatusUnsupported
	}
	return len(dst), firmware.StatusOK
}

func (e *Element) AESDecrypt(op firmware.Opcode, slot uint32, iv, in, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	block, st := e.aesKey(slot)
	if st != firmware.StatusOK {
		return 0, st
	}

	plain := make([]byte, len(in))
	defer clear(plain)

	switch op.Mode() {
	case firmware.ModeECB:
		if len(in)%aes.BlockSize != 0 {
			return 0, firmware.StatusBadInput
		}
		ecb(block, plain, in, true)
	case firmware.ModeCBC:
		if len(in)%aes.BlockSize != 0 || len(iv) != aes.BlockSize {
			return 0, firmware.StatusBadInput
		}
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, in)
	case firmware.ModeCTR:
		if len(iv) != aes.BlockSize {
			return 0, firmware.StatusBadInput
		}
		cipher.NewCTR(block, iv).XORKeyStream(plain, in)
	default:
		return 0, firmware.StatusUnsupported
	}

	result := plain
	if op.Has(firmware.FlagPKCS7) && op.Mode() != firmware.ModeCTR {
		var ok bool
		if result, ok = unpad(plain); !ok {
			return 0, firmware.StatusBadInput
		}
	}
	return put(out, result)
}
