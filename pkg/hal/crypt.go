package hal

import (
	"context"

	"github.com/remiblancher/sehal/pkg/firmware"
)

const aesBlockSize = 16

// aesRequest validates an AES request and returns the mode word, IV, input
// and the firmware output size.
func aesRequest(op string, in *Data, param AESParam, encrypt bool) (code firmware.Opcode, iv, msg []byte, outLen int, err error) {
	if code, err = aesOpcode(op, param.Mode); err != nil {
		return 0, nil, nil, 0, err
	}
	if msg, err = input(op, "input", in); err != nil {
		return 0, nil, nil, 0, err
	}
	if len(msg) == 0 {
		return 0, nil, nil, 0, invalidArgs(op, "empty input")
	}

	if code.Mode() != firmware.ModeECB {
		if iv, err = input(op, "iv", param.IV); err != nil {
			return 0, nil, nil, 0, err
		}
		if len(iv) != aesBlockSize {
			return 0, nil, nil, 0, invalidArgs(op, "iv length %d, want %d", len(iv), aesBlockSize)
		}
	}

	outLen = len(msg)
	switch {
	case code.Mode() == firmware.ModeCTR:
	case code.Has(firmware.FlagPKCS7) && encrypt:
		outLen = len(msg) + aesBlockSize - len(msg)%aesBlockSize
	case len(msg)%aesBlockSize != 0:
		return 0, nil, nil, 0, invalidArgs(op, "input length %d is not a multiple of %d", len(msg), aesBlockSize)
	}
	return code, iv, msg, outLen, nil
}

// AESEncrypt encrypts in with the AES key in slot.
func (d *Device) AESEncrypt(ctx context.Context, in *Data, param AESParam, slot uint32, out *Data) error {
	const op = "aes_encrypt"

	code, iv, msg, n, err := aesRequest(op, in, param, true)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	if err := output(op, "output", out, n); err != nil {
		return err
	}
	return d.cipher(ctx, op, code, out, n, func(buf []byte) (int, firmware.Status) {
		return d.fw.AESEncrypt(code, slot, iv, msg, buf)
	})
}

// AESDecrypt decrypts in with the AES key in slot. With PKCS#7 the padding
// is removed and out.Len reports the plaintext length.
func (d *Device) AESDecrypt(ctx context.Context, in *Data, param AESParam, slot uint32, out *Data) error {
	const op = "aes_decrypt"

	code, iv, msg, n, err := aesRequest(op, in, param, false)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	need := n
	if code.Has(firmware.FlagPKCS7) {
		need = n - aesBlockSize
	}
	if err := output(op, "output", out, max(need, 1)); err != nil {
		return err
	}
	return d.cipher(ctx, op, code, out, n, func(buf []byte) (int, firmware.Status) {
		return d.fw.AESDecrypt(code, slot, iv, msg, buf)
	})
}

// RSAEncrypt encrypts in with the RSA public key in slot.
func (d *Device) RSAEncrypt(ctx context.Context, in *Data, mode RSAMode, slot uint32, out *Data) error {
	const op = "rsa_encrypt"

	code, msg, err := d.rsaRequest(op, in, mode, slot, out)
	if err != nil {
		return err
	}
	return d.cipher(ctx, op, code, out, maxRSABytes, func(buf []byte) (int, firmware.Status) {
		return d.fw.RSAEncrypt(code, slot, msg, buf)
	})
}

// RSADecrypt decrypts in with the RSA private key in slot.
func (d *Device) RSADecrypt(ctx context.Context, in *Data, mode RSAMode, slot uint32, out *Data) error {
	const op = "rsa_decrypt"

	code, msg, err := d.rsaRequest(op, in, mode, slot, out)
	if err != nil {
		return err
	}
	return d.cipher(ctx, op, code, out, maxRSABytes, func(buf []byte) (int, firmware.Status) {
		return d.fw.RSADecrypt(code, slot, msg, buf)
	})
}

func (d *Device) rsaRequest(op string, in *Data, mode RSAMode, slot uint32, out *Data) (firmware.Opcode, []byte, error) {
	code, err := rsaCryptOpcode(op, mode)
	if err != nil {
		return 0, nil, err
	}
	msg, err := input(op, "input", in)
	if err != nil {
		return 0, nil, err
	}
	if len(msg) == 0 || len(msg) > maxRSABytes {
		return 0, nil, invalidArgs(op, "input length %d outside 1..%d", len(msg), maxRSABytes)
	}
	if err := d.checkSlot(op, slot); err != nil {
		return 0, nil, err
	}
	if err := output(op, "output", out, 1); err != nil {
		return 0, nil, err
	}
	return code, msg, nil
}

// cipher runs a firmware transform into an n-byte scratch buffer and
// delivers the result, wiping the scratch copy.
func (d *Device) cipher(ctx context.Context, op string, code firmware.Opcode, out *Data, n int, run func([]byte) (int, firmware.Status)) error {
	buf := make([]byte, n)
	defer clear(buf)

	var written int
	err := d.invoke(ctx, op, code, func() (st firmware.Status) {
		written, st = run(buf)
		return st
	})
	if err != nil {
		return err
	}
	b, err := produced(op, written, buf)
	if err != nil {
		return err
	}
	return deliver(op, out, b)
}
