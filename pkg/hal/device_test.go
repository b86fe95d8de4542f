package hal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/remiblancher/sehal/internal/firmware/fwtest"
	"github.com/remiblancher/sehal/pkg/audit"
	"github.com/remiblancher/sehal/pkg/firmware"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestDevice(t *testing.T) (*Device, *fwtest.Mailbox) {
	t.Helper()
	fw := fwtest.New()
	dev := New(fw, Config{BusyTimeout: 50 * time.Millisecond, PollInterval: time.Millisecond, Backend: "fwtest"})
	return dev, fw
}

// captureAudit installs an in-memory audit writer for the duration of the test.
func captureAudit(t *testing.T) *audit.MemoryWriter {
	t.Helper()
	mem := audit.NewMemoryWriter()
	if err := audit.Init(mem); err != nil {
		t.Fatalf("audit.Init() error = %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })
	return mem
}

func wantKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want %v", err, kind)
	}
}

// =============================================================================
// Config Tests
// =============================================================================

func TestU_New_Defaults(t *testing.T) {
	dev := New(fwtest.New(), Config{})
	cfg := dev.Config()

	if cfg.BusyTimeout != DefaultBusyTimeout {
		t.Errorf("BusyTimeout = %v, want %v", cfg.BusyTimeout, DefaultBusyTimeout)
	}
	if cfg.MaxKeySlots != DefaultMaxKeySlots {
		t.Errorf("MaxKeySlots = %d, want %d", cfg.MaxKeySlots, DefaultMaxKeySlots)
	}
	if cfg.MaxRandomSize != DefaultMaxRandomSize {
		t.Errorf("MaxRandomSize = %d, want %d", cfg.MaxRandomSize, DefaultMaxRandomSize)
	}
	if cfg.Logger == nil {
		t.Error("Logger should default to a discard logger")
	}
}

func TestU_New_KeepsOverrides(t *testing.T) {
	dev := New(fwtest.New(), Config{MaxKeySlots: 4, MaxCertSize: 100})
	if dev.Config().MaxKeySlots != 4 {
		t.Errorf("MaxKeySlots = %d, want 4", dev.Config().MaxKeySlots)
	}
	if dev.Config().MaxCertSize != 100 {
		t.Errorf("MaxCertSize = %d, want 100", dev.Config().MaxCertSize)
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestU_Device_Init(t *testing.T) {
	mem := captureAudit(t)
	dev, fw := newTestDevice(t)

	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if fw.CallsTo("Init") != 1 {
		t.Errorf("Init calls = %d, want 1", fw.CallsTo("Init"))
	}
	if len(mem.Events) != 1 || mem.Events[0].EventType != audit.EventDeviceInit {
		t.Fatalf("audit events = %v, want one DEVICE_INIT", mem.Events)
	}
	if mem.Events[0].Object.Backend != "fwtest" {
		t.Errorf("backend = %q, want fwtest", mem.Events[0].Object.Backend)
	}
}

func TestU_Device_WaitsForBusy(t *testing.T) {
	dev, fw := newTestDevice(t)
	fw.BusyPolls = 3

	out := NewData(16)
	if err := dev.GenerateRandom(context.Background(), 16, out); err != nil {
		t.Fatalf("GenerateRandom() error = %v", err)
	}
	if fw.CallsTo("GenerateRandom") != 1 {
		t.Errorf("GenerateRandom calls = %d, want 1", fw.CallsTo("GenerateRandom"))
	}
}

func TestU_Device_BusyTimeout(t *testing.T) {
	dev, fw := newTestDevice(t)
	fw.BusyPolls = -1

	err := dev.GenerateRandom(context.Background(), 16, NewData(16))
	wantKind(t, err, ErrHardwareTimeout)
	if Code(err) != CodeHardwareTimeout {
		t.Errorf("Code() = %d, want %d", Code(err), CodeHardwareTimeout)
	}
	if fw.Invocations() != 0 {
		t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
	}
}

func TestU_Device_Status(t *testing.T) {
	dev, fw := newTestDevice(t)

	if err := dev.Status(context.Background()); err != nil {
		t.Fatalf("Status() idle error = %v", err)
	}

	fw.BusyPolls = -1
	wantKind(t, dev.Status(context.Background()), ErrHardwareTimeout)
}

func TestU_Device_ContextCancelled(t *testing.T) {
	dev, fw := newTestDevice(t)
	fw.BusyPolls = -1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := dev.GenerateRandom(ctx, 8, NewData(8))
	wantKind(t, err, ErrCanceled)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in chain", err)
	}
	if errors.Is(err, ErrHardwareTimeout) {
		t.Errorf("caller cancellation reported as hardware timeout: %v", err)
	}
	if Code(err) != CodeFail {
		t.Errorf("Code() = %d, want %d", Code(err), CodeFail)
	}
	if fw.Invocations() != 0 {
		t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
	}
}

func TestU_Device_CallerDeadline(t *testing.T) {
	dev, fw := newTestDevice(t)
	fw.BusyPolls = -1

	// Shorter than the 50ms busy timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := dev.Status(ctx)
	wantKind(t, err, ErrCanceled)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded in chain", err)
	}
	if errors.Is(err, ErrHardwareTimeout) {
		t.Errorf("caller deadline reported as hardware timeout: %v", err)
	}
}

func TestU_Device_FirmwareFailure(t *testing.T) {
	mem := captureAudit(t)
	dev, fw := newTestDevice(t)
	fw.Fail["GenerateRandom"] = firmware.StatusStorage

	out := NewData(8)
	err := dev.GenerateRandom(context.Background(), 8, out)
	wantKind(t, err, ErrFail)

	var he *Error
	if !errors.As(err, &he) {
		t.Fatalf("error %T is not *Error", err)
	}
	if he.Status != firmware.StatusStorage {
		t.Errorf("Status = %v, want %v", he.Status, firmware.StatusStorage)
	}
	if he.Op != "generate_random" {
		t.Errorf("Op = %q, want generate_random", he.Op)
	}
	if fw.CallsTo("GenerateRandom") != 1 {
		t.Errorf("calls = %d, want exactly 1 (no retry)", fw.CallsTo("GenerateRandom"))
	}
	if fw.Resets() != 1 {
		t.Errorf("Resets = %d, want 1", fw.Resets())
	}
	if out.Len != 0 {
		t.Errorf("output Len = %d, want untouched 0", out.Len)
	}
	if len(mem.Events) != 1 || mem.Events[0].EventType != audit.EventFirmwareFault {
		t.Errorf("audit events = %d, want one FIRMWARE_FAULT", len(mem.Events))
	}
}

func TestU_Device_VerifyFailureNotAudited(t *testing.T) {
	mem := captureAudit(t)
	dev, fw := newTestDevice(t)
	fw.Fail["Init"] = firmware.StatusVerifyFail

	_ = dev.Init(context.Background())
	for _, e := range mem.Events {
		if e.EventType == audit.EventFirmwareFault {
			t.Fatal("verification failure should not be logged as a firmware fault")
		}
	}
}

// =============================================================================
// Slot Tests
// =============================================================================

func TestU_Device_SlotRange(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		call func(*Device) error
	}{
		{"[Unit] SlotRange: set_certificate", func(d *Device) error {
			return d.SetCertificate(ctx, 32, DataOf([]byte{0x30}))
		}},
		{"[Unit] SlotRange: remove_key", func(d *Device) error {
			return d.RemoveKey(ctx, KeyECSecP256R1, 1000)
		}},
		{"[Unit] SlotRange: read_storage", func(d *Device) error {
			return d.ReadStorage(ctx, 0xffffffff, NewData(8))
		}},
		{"[Unit] SlotRange: rsa_sign_md rejects factory slot", func(d *Device) error {
			return d.RSASignMD(ctx, RSAMode{Padding: RSAPKCS1v15, Hash: HashSHA256}, DataOf(make([]byte, 32)), firmware.FactoryKeySlot, NewData(512))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, fw := newTestDevice(t)
			wantKind(t, tt.call(dev), ErrInvalidArgs)
			if fw.Invocations() != 0 {
				t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
			}
		})
	}
}

func TestU_Device_FreeData(t *testing.T) {
	dev, fw := newTestDevice(t)

	d := NewDataPair(4)
	copy(d.Buf, []byte{1, 2, 3, 4})
	copy(d.Priv, []byte{5, 6})
	d.Len, d.PrivLen = 4, 2

	dev.FreeData(d)
	if d.Len != 0 || d.PrivLen != 0 {
		t.Errorf("lengths = %d/%d, want 0/0", d.Len, d.PrivLen)
	}
	for i := range d.Buf {
		if d.Buf[i] != 0 || d.Priv[i] != 0 {
			t.Fatalf("buffers not wiped: %x %x", d.Buf, d.Priv)
		}
	}
	if len(d.Buf) != 4 || len(d.Priv) != 4 {
		t.Error("FreeData changed the caller's capacity")
	}
	if fw.Invocations() != 0 {
		t.Errorf("firmware invocations = %d, want 0", fw.Invocations())
	}

	dev.FreeData(nil)
	dev.FreeData(&Data{})
}

func TestU_Device_AuditWriterPerDevice(t *testing.T) {
	global := captureAudit(t)
	own := audit.NewMemoryWriter()

	dev := New(fwtest.New(), Config{Backend: "fwtest", Audit: own})
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := dev.GenerateKey(context.Background(), KeyECSecP256R1, 1); err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	if len(own.Events) != 2 {
		t.Fatalf("device writer events = %d, want 2", len(own.Events))
	}
	if own.Events[1].EventType != audit.EventKeyGenerated || own.Events[1].HashPrev != own.Events[0].Hash {
		t.Errorf("events = %+v", own.Events)
	}
	if len(global.Events) != 0 {
		t.Errorf("global writer received %d events, want 0", len(global.Events))
	}
}

func TestU_Device_AuditDefaultsToGlobal(t *testing.T) {
	global := captureAudit(t)
	dev, _ := newTestDevice(t)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if len(global.Events) != 1 || global.Events[0].EventType != audit.EventDeviceInit {
		t.Errorf("global events = %+v", global.Events)
	}
}
