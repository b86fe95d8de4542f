package hal

import (
	"context"

	"github.com/remiblancher/sehal/pkg/audit"
	"github.com/remiblancher/sehal/pkg/firmware"
)

// SetCertificate stores cert in slot.
func (d *Device) SetCertificate(ctx context.Context, slot uint32, cert *Data) error {
	const op = "set_certificate"

	b, err := input(op, "cert", cert)
	if err != nil {
		return err
	}
	if len(b) == 0 || len(b) > d.cfg.MaxCertSize {
		return invalidArgs(op, "certificate length %d outside 1..%d", len(b), d.cfg.MaxCertSize)
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}

	err = d.invoke(ctx, op, 0, func() firmware.Status {
		return d.fw.WriteCert(slot, b)
	})
	if err != nil {
		_ = d.record(audit.CertStoredEvent(slot, len(b), false))
		return err
	}
	if err := d.record(audit.CertStoredEvent(slot, len(b), true)); err != nil {
		return auditFailed(op, err)
	}
	return nil
}

// GetCertificate reads the certificate in slot. The factory certificate slot
// is served by GetFactoryCert.
func (d *Device) GetCertificate(ctx context.Context, slot uint32, cert *Data) error {
	const op = "get_certificate"

	if err := output(op, "cert", cert, 1); err != nil {
		return err
	}
	if slot == firmware.FactoryCertSlot {
		return d.GetFactoryCert(ctx, slot, cert)
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	return d.readInto(ctx, op, cert, func(buf []byte) (int, firmware.Status) {
		return d.fw.ReadCert(slot, buf)
	}, d.cfg.MaxCertSize)
}

// RemoveCertificate deletes the certificate in slot.
func (d *Device) RemoveCertificate(ctx context.Context, slot uint32) error {
	const op = "remove_certificate"

	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	err := d.invoke(ctx, op, 0, func() firmware.Status {
		return d.fw.DeleteCert(slot)
	})
	if err != nil {
		_ = d.record(audit.CertRemovedEvent(slot, false))
		return err
	}
	if err := d.record(audit.CertRemovedEvent(slot, true)); err != nil {
		return auditFailed(op, err)
	}
	return nil
}

// GetFactoryKey exports the public half of the factory provisioned key as X
// in key.Buf and Y in key.Priv.
func (d *Device) GetFactoryKey(ctx context.Context, slot uint32, key *Data) error {
	const op = "get_factory_key"

	if slot != firmware.FactoryKeySlot {
		return notSupported(op, "slot 0x%08x holds no factory key", slot)
	}
	if err := output(op, "key", key, 1); err != nil {
		return err
	}

	buf := d.scratch(0)
	var n int
	err := d.invoke(ctx, op, 0, func() (st firmware.Status) {
		n, st = d.fw.ReadFactoryKey(buf)
		return st
	})
	if err != nil {
		return err
	}
	out, err := produced(op, n, buf)
	if err != nil {
		return err
	}
	return deliverPoint(op, key, out)
}

// GetFactoryCert reads the factory provisioned certificate.
func (d *Device) GetFactoryCert(ctx context.Context, slot uint32, cert *Data) error {
	const op = "get_factory_cert"

	if slot != firmware.FactoryCertSlot {
		return notSupported(op, "slot 0x%08x holds no factory certificate", slot)
	}
	if err := output(op, "cert", cert, 1); err != nil {
		return err
	}
	return d.readInto(ctx, op, cert, d.fw.ReadFactoryCert, d.cfg.MaxCertSize)
}

// GetFactoryData always returns ErrNotSupported.
func (d *Device) GetFactoryData(ctx context.Context, slot uint32, data *Data) error {
	return notSupported("get_factory_data", "factory data")
}

// readInto runs a firmware read into a scratch buffer of max bytes and
// delivers the result to out.
func (d *Device) readInto(ctx context.Context, op string, out *Data, read func([]byte) (int, firmware.Status), max int) error {
	buf := d.scratch(max)
	var n int
	err := d.invoke(ctx, op, 0, func() (st firmware.Status) {
		n, st = read(buf)
		return st
	})
	if err != nil {
		return err
	}
	b, err := produced(op, n, buf)
	if err != nil {
		return err
	}
	return deliver(op, out, b)
}
