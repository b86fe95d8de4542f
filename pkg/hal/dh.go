package hal

import (
	"context"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// dhParams validates the group parameters of a DH request.
func dhParams(op string, param *DHData) (code firmware.Opcode, p, g []byte, err error) {
	if param == nil {
		return 0, nil, nil, invalidArgs(op, "dh parameters are nil")
	}
	code, ok := dhOpcodes[param.Mode]
	if !ok {
		return 0, nil, nil, notSupported(op, "dh group %d", param.Mode)
	}
	if p, err = input(op, "p", param.P); err != nil {
		return 0, nil, nil, err
	}
	if g, err = input(op, "g", param.G); err != nil {
		return 0, nil, nil, err
	}
	if len(p) == 0 || len(p) > code.FieldBytes() {
		return 0, nil, nil, invalidArgs(op, "prime length %d, group %d", len(p), code.FieldBytes())
	}
	if len(g) == 0 || len(g) > len(p) {
		return 0, nil, nil, invalidArgs(op, "generator length %d", len(g))
	}
	return code, p, g, nil
}

// DHGenerateParam creates a DH key pair in slot over (P, G) and writes the
// public value into param.PubKey.
func (d *Device) DHGenerateParam(ctx context.Context, slot uint32, param *DHData) error {
	const op = "dh_generate_param"

	code, p, g, err := dhParams(op, param)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	if err := output(op, "pubkey", param.PubKey, 1); err != nil {
		return err
	}

	buf := make([]byte, code.FieldBytes())
	var n int
	err = d.invoke(ctx, op, code, func() (st firmware.Status) {
		n, st = d.fw.DHGenerate(code, slot, p, g, buf)
		return st
	})
	if err != nil {
		return err
	}
	pub, err := produced(op, n, buf)
	if err != nil {
		return err
	}
	return deliver(op, param.PubKey, pub)
}

// DHComputeSharedSecret derives the shared secret between the key in slot
// and the peer value in param.PubKey.
func (d *Device) DHComputeSharedSecret(ctx context.Context, param *DHData, slot uint32, shared *Data) error {
	const op = "dh_compute_shared_secret"

	code, p, g, err := dhParams(op, param)
	if err != nil {
		return err
	}
	peer, err := input(op, "pubkey", param.PubKey)
	if err != nil {
		return err
	}
	if len(peer) == 0 || len(peer) > len(p) {
		return invalidArgs(op, "peer value length %d", len(peer))
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	if err := output(op, "shared", shared, 1); err != nil {
		return err
	}

	buf := make([]byte, code.FieldBytes())
	var n int
	err = d.invoke(ctx, op, code, func() (st firmware.Status) {
		n, st = d.fw.DHShared(code, slot, p, g, peer, buf)
		return st
	})
	if err != nil {
		return err
	}
	secret, err := produced(op, n, buf)
	if err != nil {
		return err
	}
	err = deliver(op, shared, secret)
	clear(buf)
	return err
}

// ECDHComputeSharedSecret derives the shared X coordinate between the key in
// slot and the peer point. Weierstrass curves take X in PubX and Y in PubY;
// Curve25519 takes the u-coordinate in PubX.
func (d *Device) ECDHComputeSharedSecret(ctx context.Context, param *ECDHData, slot uint32, shared *Data) error {
	const op = "ecdh_compute_shared_secret"

	if param == nil {
		return invalidArgs(op, "ecdh parameters are nil")
	}
	code, ok := curveOpcodes[param.Curve]
	if !ok {
		return notSupported(op, "curve %v", param.Curve)
	}
	size := code.FieldBytes()

	x, err := input(op, "pubx", param.PubX)
	if err != nil {
		return err
	}
	var peer []byte
	if code == firmware.KeyX25519 {
		if len(x) != size {
			return invalidArgs(op, "x25519 public length %d", len(x))
		}
		peer = x
	} else {
		y, err := input(op, "puby", param.PubY)
		if err != nil {
			return err
		}
		if len(x) == 0 || len(y) == 0 || len(x) > size || len(y) > size {
			return invalidArgs(op, "peer coordinates %d/%d, field %d", len(x), len(y), size)
		}
		peer = make([]byte, 1+2*size)
		peer[0] = 0x04
		copy(peer[1+size-len(x):1+size], x)
		copy(peer[1+2*size-len(y):], y)
	}
	if err := d.checkSlot(op, slot, firmware.FactoryKeySlot); err != nil {
		return err
	}
	if err := output(op, "shared", shared, 1); err != nil {
		return err
	}

	buf := make([]byte, size)
	var n int
	err = d.invoke(ctx, op, code, func() (st firmware.Status) {
		n, st = d.fw.ECDHShared(code, slot, peer, buf)
		return st
	})
	if err != nil {
		return err
	}
	secret, err := produced(op, n, buf)
	if err != nil {
		return err
	}
	err = deliver(op, shared, secret)
	clear(buf)
	return err
}
