package hal

import (
	"context"
	"fmt"

	"github.com/remiblancher/sehal/pkg/audit"
	"github.com/remiblancher/sehal/pkg/firmware"
)

// Init brings the element up.
func (d *Device) Init(ctx context.Context) error {
	const op = "init"
	err := d.invoke(ctx, op, 0, d.fw.Init)
	if aerr := d.record(audit.DeviceInitEvent(d.cfg.Backend, err == nil)); aerr != nil && err == nil {
		return auditFailed(op, aerr)
	}
	return err
}

// Deinit releases the element.
func (d *Device) Deinit(ctx context.Context) error {
	return d.invoke(ctx, "deinit", 0, d.fw.Deinit)
}

// Status reports whether the element becomes idle within the busy timeout.
func (d *Device) Status(ctx context.Context) error {
	return d.waitIdle(ctx, "get_status")
}

func auditFailed(op string, err error) error {
	return newError(op, fmt.Errorf("%w: %w", ErrFail, err))
}

// SetKey imports key material into slot.
//
// Symmetric and HMAC keys are the raw secret in key. EC public keys are X in
// key.Buf and Y in key.Priv, and the private scalar goes in prikey. RSA keys
// are PKCS#1 DER, public in key and private in prikey. X25519 and DH keys
// are raw, public in key and private in prikey.
func (d *Device) SetKey(ctx context.Context, mode KeyType, slot uint32, key, prikey *Data) error {
	const op = "set_key"

	code, err := keyOpcode(op, mode)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}

	pub, priv, err := importMaterial(op, code, key, prikey)
	if err != nil {
		return err
	}

	err = d.invoke(ctx, op, code, func() firmware.Status {
		return d.fw.SetKey(code, slot, pub, priv)
	})
	clear(priv)
	if err != nil {
		_ = d.record(audit.KeyImportedEvent(slot, mode.String(), false))
		return err
	}
	if err := d.record(audit.KeyImportedEvent(slot, mode.String(), true)); err != nil {
		return auditFailed(op, err)
	}
	return nil
}

// importMaterial converts caller buffers to the firmware import format. The
// returned private slice is a copy the caller must wipe.
func importMaterial(op string, code firmware.Opcode, key, prikey *Data) (pub, priv []byte, err error) {
	switch {
	case code.IsAES(), code.IsHMAC():
		secret, err := input(op, "key", key)
		if err != nil {
			return nil, nil, err
		}
		if code.IsAES() && len(secret) != code.FieldBytes() {
			return nil, nil, invalidArgs(op, "aes key length %d, want %d", len(secret), code.FieldBytes())
		}
		if len(secret) == 0 {
			return nil, nil, invalidArgs(op, "empty key")
		}
		return nil, append([]byte(nil), secret...), nil

	case code.IsEC():
		size := code.FieldBytes()
		if key != nil {
			x, err := input(op, "key", key)
			if err != nil {
				return nil, nil, err
			}
			y := key.PrivBytes()
			if len(x) == 0 || len(y) == 0 || len(x) > size || len(y) > size {
				return nil, nil, invalidArgs(op, "ec public key coordinates %d/%d, field %d", len(x), len(y), size)
			}
			pub = make([]byte, 1+2*size)
			pub[0] = 0x04
			copy(pub[1+size-len(x):1+size], x)
			copy(pub[1+2*size-len(y):], y)
		}
		if prikey != nil {
			k, err := input(op, "prikey", prikey)
			if err != nil {
				return nil, nil, err
			}
			if len(k) == 0 || len(k) > size {
				return nil, nil, invalidArgs(op, "ec private key length %d, field %d", len(k), size)
			}
			priv = make([]byte, size)
			copy(priv[size-len(k):], k)
		}

	default:
		if key != nil {
			if pub, err = input(op, "key", key); err != nil {
				return nil, nil, err
			}
		}
		if prikey != nil {
			k, err := input(op, "prikey", prikey)
			if err != nil {
				return nil, nil, err
			}
			priv = append([]byte(nil), k...)
		}
	}

	if len(pub) == 0 && len(priv) == 0 {
		return nil, nil, invalidArgs(op, "no key material")
	}
	return pub, priv, nil
}

// GetKey exports the public half of the key in slot. EC keys come back as X
// in key.Buf and Y in key.Priv; RSA keys as PKCS#1 DER and X25519 keys as
// raw bytes in key.Buf. Symmetric, HMAC and DH keys are not exportable.
// The factory key slot is read through the dedicated firmware call.
func (d *Device) GetKey(ctx context.Context, mode KeyType, slot uint32, key *Data) error {
	const op = "get_key"

	if slot == firmware.FactoryKeySlot {
		return d.GetFactoryKey(ctx, slot, key)
	}

	code, err := keyOpcode(op, mode)
	if err != nil {
		return err
	}
	if !code.IsEC() && !code.IsRSA() && code != firmware.KeyX25519 {
		return notSupported(op, "export of %v keys", mode)
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	if err := output(op, "key", key, 1); err != nil {
		return err
	}

	buf := d.scratch(0)
	var n int
	err = d.invoke(ctx, op, code, func() (st firmware.Status) {
		n, st = d.fw.GetPublicKey(code, slot, buf)
		return st
	})
	if err != nil {
		return err
	}
	out, err := produced(op, n, buf)
	if err != nil {
		return err
	}

	if code.IsEC() {
		return deliverPoint(op, key, out)
	}
	return deliver(op, key, out)
}

// deliverPoint splits an uncompressed point into X (Buf) and Y (Priv).
func deliverPoint(op string, key *Data, point []byte) error {
	if len(point) < 3 || len(point)%2 != 1 || point[0] != 0x04 {
		return newError(op, fmt.Errorf("%w: malformed public point from firmware", ErrFail))
	}
	size := (len(point) - 1) / 2
	return deliverPair(op, key, point[1:1+size], point[1+size:])
}

// RemoveKey destroys the key in slot.
func (d *Device) RemoveKey(ctx context.Context, mode KeyType, slot uint32) error {
	const op = "remove_key"

	code, err := keyOpcode(op, mode)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}

	err = d.invoke(ctx, op, code, func() firmware.Status {
		return d.fw.RemoveKey(code, slot)
	})
	if err != nil {
		_ = d.record(audit.KeyRemovedEvent(slot, mode.String(), false))
		return err
	}
	if err := d.record(audit.KeyRemovedEvent(slot, mode.String(), true)); err != nil {
		return auditFailed(op, err)
	}
	return nil
}

// GenerateKey creates a new key of the given type inside slot.
func (d *Device) GenerateKey(ctx context.Context, mode KeyType, slot uint32) error {
	const op = "generate_key"

	code, err := keyOpcode(op, mode)
	if err != nil {
		return err
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}

	err = d.invoke(ctx, op, code, func() firmware.Status {
		return d.fw.GenerateKey(code, slot)
	})
	if err != nil {
		_ = d.record(audit.KeyGeneratedEvent(slot, mode.String(), false))
		return err
	}
	if err := d.record(audit.KeyGeneratedEvent(slot, mode.String(), true)); err != nil {
		return auditFailed(op, err)
	}
	return nil
}
