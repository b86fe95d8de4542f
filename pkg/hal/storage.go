package hal

import (
	"context"

	"github.com/remiblancher/sehal/pkg/audit"
	"github.com/remiblancher/sehal/pkg/firmware"
)

// WriteStorage stores an opaque blob in the secure storage slot.
func (d *Device) WriteStorage(ctx context.Context, slot uint32, in *Data) error {
	const op = "write_storage"

	b, err := input(op, "input", in)
	if err != nil {
		return err
	}
	if len(b) == 0 || len(b) > d.cfg.MaxStorageSize {
		return invalidArgs(op, "blob length %d outside 1..%d", len(b), d.cfg.MaxStorageSize)
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}

	err = d.invoke(ctx, op, 0, func() firmware.Status {
		return d.fw.WriteStorage(slot, b)
	})
	if err != nil {
		_ = d.record(audit.StorageWrittenEvent(slot, len(b), false))
		return err
	}
	if err := d.record(audit.StorageWrittenEvent(slot, len(b), true)); err != nil {
		return auditFailed(op, err)
	}
	return nil
}

// ReadStorage reads the blob in slot into out.
func (d *Device) ReadStorage(ctx context.Context, slot uint32, out *Data) error {
	const op = "read_storage"

	if err := output(op, "output", out, 1); err != nil {
		return err
	}
	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	return d.readInto(ctx, op, out, func(buf []byte) (int, firmware.Status) {
		return d.fw.ReadStorage(slot, buf)
	}, d.cfg.MaxStorageSize)
}

// DeleteStorage erases the blob in slot.
func (d *Device) DeleteStorage(ctx context.Context, slot uint32) error {
	const op = "delete_storage"

	if err := d.checkSlot(op, slot); err != nil {
		return err
	}
	err := d.invoke(ctx, op, 0, func() firmware.Status {
		return d.fw.DeleteStorage(slot)
	})
	if err != nil {
		_ = d.record(audit.StorageDeletedEvent(slot, false))
		return err
	}
	if err := d.record(audit.StorageDeletedEvent(slot, true)); err != nil {
		return auditFailed(op, err)
	}
	return nil
}
