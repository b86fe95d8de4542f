// Package hal is the dispatch layer between callers and a secure element's
// firmware mailbox.
//
// A Device translates symbolic requests (key types, curves, hash kinds,
// caller-owned Data buffers) into firmware opcode words and raw buffers,
// waits for the element to become idle, invokes the firmware, and copies the
// result back with bounds checks. ECDSA signatures cross the boundary as
// raw (r, s) pairs below and DER SEQUENCE { r, s } above.
//
// Every operation follows the same lifecycle:
//
//  1. validate and map the request; unmapped combinations return
//     ErrNotSupported without touching the firmware
//  2. wait for the busy flag to clear, bounded by Config.BusyTimeout
//  3. invoke the firmware
//  4. on a nonzero status, reset the command channel and return ErrFail
//  5. copy the output into the caller's Data
//
// A Device holds no lock. Callers sharing one across goroutines must
// serialize access.
package hal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/remiblancher/sehal/pkg/audit"
	"github.com/remiblancher/sehal/pkg/firmware"
)

// Default limits of the element.
const (
	DefaultMaxRandomSize  = 256
	DefaultMaxBufSize     = 2048
	DefaultMaxKeySlots    = 32
	DefaultMaxCertSize    = 2048
	DefaultMaxStorageSize = 2048
	DefaultBusyTimeout    = 2 * time.Second
	DefaultPollInterval   = time.Millisecond
)

// Config holds Device limits and timing.
type Config struct {
	// BusyTimeout bounds the wait for the firmware busy flag to clear.
	BusyTimeout time.Duration

	// PollInterval is the delay between busy-flag reads.
	PollInterval time.Duration

	// MaxKeySlots is the number of general-purpose slots (0..MaxKeySlots-1).
	MaxKeySlots uint32

	// MaxRandomSize caps a single GenerateRandom request.
	MaxRandomSize int

	// MaxBufSize sizes the scratch buffer handed to the firmware.
	MaxBufSize int

	MaxCertSize    int
	MaxStorageSize int

	// Backend names the firmware in audit records.
	Backend string

	// Logger receives dispatch traces. Nil discards them.
	Logger *slog.Logger

	// Audit receives lifecycle and fault records. Nil uses the package-level
	// writer installed with audit.Init.
	Audit audit.Writer
}

// DefaultConfig returns the element's default limits.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:    DefaultBusyTimeout,
		PollInterval:   DefaultPollInterval,
		MaxKeySlots:    DefaultMaxKeySlots,
		MaxRandomSize:  DefaultMaxRandomSize,
		MaxBufSize:     DefaultMaxBufSize,
		MaxCertSize:    DefaultMaxCertSize,
		MaxStorageSize: DefaultMaxStorageSize,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = def.BusyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxKeySlots == 0 {
		c.MaxKeySlots = def.MaxKeySlots
	}
	if c.MaxRandomSize <= 0 {
		c.MaxRandomSize = def.MaxRandomSize
	}
	if c.MaxBufSize <= 0 {
		c.MaxBufSize = def.MaxBufSize
	}
	if c.MaxCertSize <= 0 {
		c.MaxCertSize = def.MaxCertSize
	}
	if c.MaxStorageSize <= 0 {
		c.MaxStorageSize = def.MaxStorageSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Audit == nil {
		c.Audit = audit.Global()
	}
	return c
}

// Device dispatches HAL operations to one firmware mailbox.
type Device struct {
	fw  firmware.Mailbox
	cfg Config
	log *slog.Logger
}

var _ Ops = (*Device)(nil)

// New returns a Device bound to fw. Zero fields in cfg take their defaults.
func New(fw firmware.Mailbox, cfg Config) *Device {
	cfg = cfg.withDefaults()
	return &Device{fw: fw, cfg: cfg, log: cfg.Logger}
}

// Config returns the effective configuration.
func (d *Device) Config() Config { return d.cfg }

// Firmware returns the underlying mailbox.
func (d *Device) Firmware() firmware.Mailbox { return d.fw }

// errBusyExpired is the cancel cause of the internal busy deadline.
var errBusyExpired = errors.New("element still busy")

// waitIdle polls the busy flag until it clears, the busy timeout expires, or
// ctx is done. Only the busy timeout yields ErrHardwareTimeout; the caller's
// own cancellation or deadline yields ErrCanceled.
func (d *Device) waitIdle(ctx context.Context, op string) error {
	if !d.fw.Busy() {
		return nil
	}

	busy, cancel := context.WithTimeoutCause(ctx, d.cfg.BusyTimeout, errBusyExpired)
	defer cancel()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-busy.Done():
			if err := ctx.Err(); err != nil {
				d.log.Debug("firmware wait abandoned", "op", op, "error", err)
				return newError(op, fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx)))
			}
			d.log.Warn("firmware busy timeout", "op", op, "timeout", d.cfg.BusyTimeout)
			return newError(op, fmt.Errorf("%w: %w after %v", ErrHardwareTimeout, context.Cause(busy), d.cfg.BusyTimeout))
		case <-ticker.C:
			if !d.fw.Busy() {
				return nil
			}
		}
	}
}

// invoke waits for the element, runs fn, and normalizes its status. A
// nonzero status resets the channel and yields ErrFail; there is no retry.
func (d *Device) invoke(ctx context.Context, op string, opcode firmware.Opcode, fn func() firmware.Status) error {
	if err := d.waitIdle(ctx, op); err != nil {
		return err
	}

	d.log.Debug("firmware call", "op", op, "opcode", opcode)
	st := fn()
	if st == firmware.StatusOK {
		return nil
	}

	d.fw.Reset()
	d.log.Warn("firmware call failed", "op", op, "opcode", opcode, "status", st)
	if st != firmware.StatusVerifyFail {
		if err := d.record(audit.FirmwareFaultEvent(op, st.String())); err != nil {
			d.log.Error("audit log failed", "op", op, "error", err)
		}
	}
	return &Error{Op: op, Status: st, Err: ErrFail}
}

// record writes event to the configured audit writer.
func (d *Device) record(event *audit.Event) error {
	if err := d.cfg.Audit.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// scratch returns a zeroed firmware output buffer.
func (d *Device) scratch(n int) []byte {
	if n <= 0 || n > d.cfg.MaxBufSize {
		n = d.cfg.MaxBufSize
	}
	return make([]byte, n)
}

// checkSlot accepts general-purpose slots and the listed extra slots.
func (d *Device) checkSlot(op string, slot uint32, extra ...uint32) error {
	if slot < d.cfg.MaxKeySlots {
		return nil
	}
	for _, e := range extra {
		if slot == e {
			return nil
		}
	}
	return invalidArgs(op, "slot 0x%08x out of range", slot)
}

// input validates an input Data and returns its used bytes.
func input(op, name string, in *Data) ([]byte, error) {
	if in == nil || in.Buf == nil {
		return nil, invalidArgs(op, "%s is nil", name)
	}
	if in.Len < 0 || in.Len > len(in.Buf) {
		return nil, invalidArgs(op, "%s length %d exceeds capacity %d", name, in.Len, len(in.Buf))
	}
	return in.Buf[:in.Len], nil
}

// output validates that out can receive at least min bytes.
func output(op, name string, out *Data, min int) error {
	if out == nil || out.Buf == nil {
		return invalidArgs(op, "%s is nil", name)
	}
	if len(out.Buf) < min {
		return invalidArgs(op, "%s capacity %d, need %d", name, len(out.Buf), min)
	}
	return nil
}

// deliver copies b into out.Buf and sets out.Len. out is untouched on failure.
func deliver(op string, out *Data, b []byte) error {
	if len(out.Buf) < len(b) {
		return invalidArgs(op, "output capacity %d, need %d", len(out.Buf), len(b))
	}
	out.Len = copy(out.Buf, b)
	return nil
}

// deliverPair copies x into out.Buf and y into out.Priv.
func deliverPair(op string, out *Data, x, y []byte) error {
	if len(out.Buf) < len(x) || len(out.Priv) < len(y) {
		return invalidArgs(op, "output capacity %d/%d, need %d/%d", len(out.Buf), len(out.Priv), len(x), len(y))
	}
	out.Len = copy(out.Buf, x)
	out.PrivLen = copy(out.Priv, y)
	return nil
}

// produced checks a firmware-reported length against the buffer it wrote into.
func produced(op string, n int, buf []byte) ([]byte, error) {
	if n < 0 || n > len(buf) {
		return nil, newError(op, fmt.Errorf("%w: firmware reported %d bytes into %d", ErrFail, n, len(buf)))
	}
	return buf[:n], nil
}
