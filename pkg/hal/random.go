package hal

import (
	"context"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// GenerateRandom fills random with n bytes from the element's generator. The
// firmware request is rounded up to a multiple of four bytes.
func (d *Device) GenerateRandom(ctx context.Context, n int, random *Data) error {
	const op = "generate_random"

	if n <= 0 || n > d.cfg.MaxRandomSize {
		return invalidArgs(op, "size %d outside 1..%d", n, d.cfg.MaxRandomSize)
	}
	if err := output(op, "random", random, n); err != nil {
		return err
	}

	buf := make([]byte, (n+3)&^3)
	err := d.invoke(ctx, op, 0, func() firmware.Status {
		return d.fw.GenerateRandom(buf)
	})
	if err != nil {
		return err
	}
	err = deliver(op, random, buf[:n])
	clear(buf)
	return err
}

// GetHash digests in with the selected hash.
func (d *Device) GetHash(ctx context.Context, mode HashType, in, hash *Data) error {
	const op = "get_hash"

	code, err := hashOpcode(op, mode)
	if err != nil {
		return err
	}
	msg, err := input(op, "input", in)
	if err != nil {
		return err
	}
	if err := output(op, "hash", hash, code.DigestSize()); err != nil {
		return err
	}

	buf := d.scratch(code.DigestSize())
	var n int
	err = d.invoke(ctx, op, code, func() (st firmware.Status) {
		n, st = d.fw.Hash(code, msg, buf)
		return st
	})
	if err != nil {
		return err
	}
	out, err := produced(op, n, buf)
	if err != nil {
		return err
	}
	return deliver(op, hash, out)
}

// GetHMAC is declared by the operations table but not provided by the
// element; it always returns ErrNotSupported.
func (d *Device) GetHMAC(ctx context.Context, mode HMACType, in *Data, slot uint32, hmac *Data) error {
	return notSupported("get_hmac", "hmac")
}
