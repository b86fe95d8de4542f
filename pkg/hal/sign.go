package hal

import (
	"context"

	"github.com/remiblancher/sehal/internal/der"
	"github.com/remiblancher/sehal/internal/mpi"
	"github.com/remiblancher/sehal/pkg/firmware"
)

// MaxSignatureLen is the largest DER ECDSA signature the HAL produces,
// reached with P-521 operands.
const MaxSignatureLen = der.MaxSignatureLen

// maxRSABytes is the largest supported modulus, RSA-4096.
const maxRSABytes = 512

// encodeSignature converts raw big-endian (r, s) to DER.
func encodeSignature(r, s []byte) ([]byte, error) {
	var R, S mpi.Int
	defer R.Free()
	defer S.Free()

	if err := R.ReadBinary(r); err != nil {
		return nil, err
	}
	if err := S.ReadBinary(s); err != nil {
		return nil, err
	}
	return der.MarshalSignature(&R, &S)
}

// decodeSignature parses a DER signature into fixed-width (r, s) of size bytes each.
func decodeSignature(op string, sig []byte, size int) (r, s []byte, err error) {
	var R, S mpi.Int
	if err := der.ParseSignature(sig, &R, &S); err != nil {
		return nil, nil, translate(op, err)
	}
	defer R.Free()
	defer S.Free()

	if R.Size() > size || S.Size() > size {
		return nil, nil, invalidArgs(op, "signature component wider than %d-byte field", size)
	}
	r = make([]byte, size)
	s = make([]byte, size)
	if err := R.WriteBinary(r); err != nil {
		return nil, nil, translate(op, err)
	}
	if err := S.WriteBinary(s); err != nil {
		return nil, nil, translate(op, err)
	}
	return r, s, nil
}

// digest validates a message digest input against the opcode's hash size.
func digest(op string, code firmware.Opcode, hash *Data) ([]byte, error) {
	b, err := input(op, "hash", hash)
	if err != nil {
		return nil, err
	}
	if want := code.DigestSize(); len(b) != want {
		return nil, invalidArgs(op, "digest length %d, want %d for %v", len(b), want, code)
	}
	return b, nil
}

// ECDSASignMD signs a message digest with the EC key in slot and writes the
// DER signature into sign.
func (d *Device) ECDSASignMD(ctx context.Context, mode ECDSAMode, hash *Data, slot uint32, sign *Data) error {
	const op = "ecdsa_sign_md"

	code, err := ecdsaOpcode(op, mode)
	if err != nil {
		return err
	}
	md, err := digest(op, code, hash)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot, firmware.FactoryKeySlot); err != nil {
		return err
	}
	if err := output(op, "sign", sign, 1); err != nil {
		return err
	}

	size := code.FieldBytes()
	r := make([]byte, size)
	s := make([]byte, size)
	var rn, sn int
	err = d.invoke(ctx, op, code, func() (st firmware.Status) {
		rn, sn, st = d.fw.ECDSASign(code, slot, md, r, s)
		return st
	})
	if err != nil {
		return err
	}
	rb, err := produced(op, rn, r)
	if err != nil {
		return err
	}
	sb, err := produced(op, sn, s)
	if err != nil {
		return err
	}

	sig, err := encodeSignature(rb, sb)
	if err != nil {
		return translate(op, err)
	}
	return deliver(op, sign, sig)
}

// ECDSAVerifyMD verifies a DER signature over a message digest with the EC
// key in slot. A signature that does not verify yields ErrFail; malformed
// DER yields ErrInvalidArgs.
func (d *Device) ECDSAVerifyMD(ctx context.Context, mode ECDSAMode, hash, sign *Data, slot uint32) error {
	const op = "ecdsa_verify_md"

	code, err := ecdsaOpcode(op, mode)
	if err != nil {
		return err
	}
	md, err := digest(op, code, hash)
	if err != nil {
		return err
	}
	sig, err := input(op, "sign", sign)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot, firmware.FactoryKeySlot); err != nil {
		return err
	}

	r, s, err := decodeSignature(op, sig, code.FieldBytes())
	if err != nil {
		return err
	}

	return d.invoke(ctx, op, code, func() firmware.Status {
		return d.fw.ECDSAVerify(code, slot, md, r, s)
	})
}

// RSASignMD signs a message digest with the RSA key in slot.
func (d *Device) RSASignMD(ctx context.Context, mode RSAMode, hash *Data, slot uint32, sign *Data) error {
	const op = "rsa_sign_md"

	code, err := rsaSignOpcode(op, mode)
	if err != nil {
		return err
	}
	md, err := digest(op, code, hash)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	if err := output(op, "sign", sign, 1); err != nil {
		return err
	}

	buf := make([]byte, maxRSABytes)
	var n int
	err = d.invoke(ctx, op, code, func() (st firmware.Status) {
		n, st = d.fw.RSASign(code, slot, md, buf)
		return st
	})
	if err != nil {
		return err
	}
	out, err := produced(op, n, buf)
	if err != nil {
		return err
	}
	return deliver(op, sign, out)
}

// RSAVerifyMD verifies an RSA signature over a message digest with the key in slot.
func (d *Device) RSAVerifyMD(ctx context.Context, mode RSAMode, hash, sign *Data, slot uint32) error {
	const op = "rsa_verify_md"

	code, err := rsaSignOpcode(op, mode)
	if err != nil {
		return err
	}
	md, err := digest(op, code, hash)
	if err != nil {
		return err
	}
	sig, err := input(op, "sign", sign)
	if err != nil {
		return err
	}
	if len(sig) == 0 || len(sig) > maxRSABytes {
		return invalidArgs(op, "signature length %d", len(sig))
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}

	return d.invoke(ctx, op, code, func() firmware.Status {
		return d.fw.RSAVerify(code, slot, md, sig)
	})
}
