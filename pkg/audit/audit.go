package audit

import (
	"fmt"
	"sync"
)

var (
	// globalWriter is the default audit writer.
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex

	// enabled tracks whether audit logging is active.
	enabled bool
)

// Init installs w as the global audit writer. A nil writer disables auditing.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}

	globalWriter = w
	enabled = true
	return nil
}

// InitFile initializes the global audit logger with a file writer.
// An empty path disables auditing.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}

	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}

	return Init(w)
}

// Close closes the global audit writer.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

// Enabled returns whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an audit event to the global writer.
//
// IMPORTANT: If audit logging is enabled and this returns an error,
// the calling operation SHOULD fail.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog writes an audit event and returns an error suitable for
// failing the parent operation if audit logging fails.
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

func resultOf(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// SlotString formats a slot index the way it appears in audit records.
func SlotString(slot uint32) string {
	return fmt.Sprintf("0x%08x", slot)
}

// KeyGeneratedEvent builds the record that LogKeyGenerated writes.
func KeyGeneratedEvent(slot uint32, algorithm string, success bool) *Event {
	return NewEvent(EventKeyGenerated, resultOf(success)).
		WithObject(Object{Type: "key", Slot: SlotString(slot)}).
		WithContext(Context{Algorithm: algorithm})
}

// LogKeyGenerated logs key generation inside the element.
func LogKeyGenerated(slot uint32, algorithm string, success bool) error {
	return MustLog(KeyGeneratedEvent(slot, algorithm, success))
}

// KeyImportedEvent builds the record that LogKeyImported writes.
func KeyImportedEvent(slot uint32, algorithm string, success bool) *Event {
	return NewEvent(EventKeyImported, resultOf(success)).
		WithObject(Object{Type: "key", Slot: SlotString(slot)}).
		WithContext(Context{Algorithm: algorithm})
}

// LogKeyImported logs a key import into a slot.
func LogKeyImported(slot uint32, algorithm string, success bool) error {
	return MustLog(KeyImportedEvent(slot, algorithm, success))
}

// KeyRemovedEvent builds the record that LogKeyRemoved writes.
func KeyRemovedEvent(slot uint32, algorithm string, success bool) *Event {
	return NewEvent(EventKeyRemoved, resultOf(success)).
		WithObject(Object{Type: "key", Slot: SlotString(slot)}).
		WithContext(Context{Algorithm: algorithm})
}

// LogKeyRemoved logs key destruction.
func LogKeyRemoved(slot uint32, algorithm string, success bool) error {
	return MustLog(KeyRemovedEvent(slot, algorithm, success))
}

// CertStoredEvent builds the record that LogCertStored writes.
func CertStoredEvent(slot uint32, size int, success bool) *Event {
	return NewEvent(EventCertStored, resultOf(success)).
		WithObject(Object{Type: "certificate", Slot: SlotString(slot)}).
		WithContext(Context{Size: size})
}

// LogCertStored logs a certificate write.
func LogCertStored(slot uint32, size int, success bool) error {
	return MustLog(CertStoredEvent(slot, size, success))
}

// CertRemovedEvent builds the record that LogCertRemoved writes.
func CertRemovedEvent(slot uint32, success bool) *Event {
	return NewEvent(EventCertRemoved, resultOf(success)).
		WithObject(Object{Type: "certificate", Slot: SlotString(slot)})
}

// LogCertRemoved logs a certificate removal.
func LogCertRemoved(slot uint32, success bool) error {
	return MustLog(CertRemovedEvent(slot, success))
}

// StorageWrittenEvent builds the record that LogStorageWritten writes.
func StorageWrittenEvent(slot uint32, size int, success bool) *Event {
	return NewEvent(EventStorageWritten, resultOf(success)).
		WithObject(Object{Type: "storage", Slot: SlotString(slot)}).
		WithContext(Context{Size: size})
}

// LogStorageWritten logs a secure-storage write. Contents are never logged.
func LogStorageWritten(slot uint32, size int, success bool) error {
	return MustLog(StorageWrittenEvent(slot, size, success))
}

// StorageDeletedEvent builds the record that LogStorageDeleted writes.
func StorageDeletedEvent(slot uint32, success bool) *Event {
	return NewEvent(EventStorageDeleted, resultOf(success)).
		WithObject(Object{Type: "storage", Slot: SlotString(slot)})
}

// LogStorageDeleted logs a secure-storage deletion.
func LogStorageDeleted(slot uint32, success bool) error {
	return MustLog(StorageDeletedEvent(slot, success))
}

// DeviceInitEvent builds the record that LogDeviceInit writes.
func DeviceInitEvent(backend string, success bool) *Event {
	return NewEvent(EventDeviceInit, resultOf(success)).
		WithObject(Object{Type: "device", Backend: backend})
}

// LogDeviceInit logs bringing up a firmware backend.
func LogDeviceInit(backend string, success bool) error {
	return MustLog(DeviceInitEvent(backend, success))
}

// FirmwareFaultEvent builds the record that LogFirmwareFault writes.
func FirmwareFaultEvent(op, status string) *Event {
	return NewEvent(EventFirmwareFault, ResultFailure).
		WithObject(Object{Type: "device"}).
		WithContext(Context{Algorithm: op, Status: status})
}

// LogFirmwareFault logs a nonzero firmware status.
func LogFirmwareFault(op, status string) error {
	return MustLog(FirmwareFaultEvent(op, status))
}

// SelfCheckEvent builds the record that LogSelfCheck writes.
func SelfCheckEvent(backend string, success bool, reason string) *Event {
	return NewEvent(EventSelfCheck, resultOf(success)).
		WithObject(Object{Type: "device", Backend: backend}).
		WithContext(Context{Reason: reason})
}

// LogSelfCheck logs the outcome of a provisioning self-check.
func LogSelfCheck(backend string, success bool, reason string) error {
	return MustLog(SelfCheckEvent(backend, success, reason))
}
