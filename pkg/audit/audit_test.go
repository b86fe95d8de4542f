package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Event Tests
// =============================================================================

func TestU_NewEvent_Creation(t *testing.T) {
	event := NewEvent(EventKeyGenerated, ResultSuccess)

	if event.EventType != EventKeyGenerated {
		t.Errorf("expected EventType=%s, got %s", EventKeyGenerated, event.EventType)
	}
	if event.Result != ResultSuccess {
		t.Errorf("expected Result=%s, got %s", ResultSuccess, event.Result)
	}
	if event.Timestamp == "" {
		t.Error("Timestamp should not be empty")
	}
	if event.Actor.Type != "user" {
		t.Errorf("expected Actor.Type=user, got %s", event.Actor.Type)
	}
}

func TestU_Event_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			name:    "[Unit] Validate: valid event",
			event:   NewEvent(EventCertStored, ResultSuccess),
			wantErr: false,
		},
		{
			name: "[Unit] Validate: missing event_type",
			event: &Event{
				Timestamp: "2024-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing result",
			event: &Event{
				EventType: EventCertStored,
				Timestamp: "2024-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing actor",
			event: &Event{
				EventType: EventCertStored,
				Timestamp: "2024-01-15T10:00:00Z",
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestU_Event_CanonicalJSON_ExcludesHash(t *testing.T) {
	event := NewEvent(EventKeyRemoved, ResultSuccess)
	event.Hash = "sha256:should-not-appear"

	data, err := event.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	if strings.Contains(string(data), "should-not-appear") {
		t.Error("CanonicalJSON() must not include the event hash")
	}
}

// =============================================================================
// FileWriter Tests
// =============================================================================

func TestU_FileWriter_Write(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	writer, err := NewFileWriter(logPath)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	defer func() { _ = writer.Close() }()

	event1 := NewEvent(EventKeyGenerated, ResultSuccess).
		WithObject(Object{Type: "key", Slot: SlotString(3)})
	if err := writer.Write(event1); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if event1.HashPrev != GenesisHash {
		t.Errorf("First event HashPrev = %s, want %s", event1.HashPrev, GenesisHash)
	}
	if !strings.HasPrefix(event1.Hash, HashPrefix) {
		t.Errorf("First event Hash should start with %s, got %s", HashPrefix, event1.Hash)
	}

	event2 := NewEvent(EventCertStored, ResultSuccess).
		WithObject(Object{Type: "certificate", Slot: SlotString(3)})
	if err := writer.Write(event2); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if event2.HashPrev != event1.Hash {
		t.Errorf("Second event HashPrev = %s, want %s", event2.HashPrev, event1.Hash)
	}

	_ = writer.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("Expected 2 lines, got %d", len(lines))
	}

	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Object.Slot != "0x00000003" {
		t.Errorf("Object.Slot = %q, want 0x00000003", decoded.Object.Slot)
	}
}

func TestU_FileWriter_Append(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	writer1, err := NewFileWriter(logPath)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	event1 := NewEvent(EventDeviceInit, ResultSuccess)
	if err := writer1.Write(event1); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = writer1.Close()

	writer2, err := NewFileWriter(logPath)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if writer2.LastHash() != event1.Hash {
		t.Errorf("LastHash() = %s, want %s", writer2.LastHash(), event1.Hash)
	}
	event2 := NewEvent(EventKeyImported, ResultSuccess)
	if err := writer2.Write(event2); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = writer2.Close()

	if event2.HashPrev != event1.Hash {
		t.Errorf("Event2 HashPrev = %s, want %s", event2.HashPrev, event1.Hash)
	}
}

func TestU_FileWriter_WriteAfterClose(t *testing.T) {
	writer, err := NewFileWriter(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := writer.Write(NewEvent(EventKeyGenerated, ResultSuccess)); err == nil {
		t.Error("Write() after Close should fail")
	}
}

func TestU_FileWriter_InvalidEventKeepsChain(t *testing.T) {
	writer, err := NewFileWriter(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	defer func() { _ = writer.Close() }()

	if err := writer.Write(&Event{}); err == nil {
		t.Fatal("Write() of invalid event should fail")
	}
	if writer.LastHash() != GenesisHash {
		t.Errorf("LastHash() = %s after failed write, want genesis", writer.LastHash())
	}
}

// =============================================================================
// VerifyChain Tests
// =============================================================================

func TestU_VerifyChain_ValidLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	writer, err := NewFileWriter(logPath)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := writer.Write(NewEvent(EventStorageWritten, ResultSuccess)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	_ = writer.Close()

	count, err := VerifyChain(logPath)
	if err != nil {
		t.Errorf("VerifyChain() error = %v", err)
	}
	if count != 5 {
		t.Errorf("VerifyChain() count = %d, want 5", count)
	}
}

func TestU_VerifyChain_Tampering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	writer, _ := NewFileWriter(logPath)
	_ = writer.Write(NewEvent(EventKeyGenerated, ResultSuccess).WithContext(Context{Algorithm: "p256"}))
	_ = writer.Write(NewEvent(EventKeyRemoved, ResultSuccess))
	_ = writer.Close()

	data, _ := os.ReadFile(logPath)
	tampered := strings.Replace(string(data), `"p256"`, `"p384"`, 1)
	if err := os.WriteFile(logPath, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	count, err := VerifyChain(logPath)
	if err == nil {
		t.Fatal("VerifyChain() should detect tampering")
	}
	if !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("error = %v, want hash mismatch", err)
	}
	if count != 0 {
		t.Errorf("VerifyChain() count = %d, want 0", count)
	}
}

func TestU_VerifyChain_EmptyLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := os.WriteFile(logPath, nil, 0600); err != nil {
		t.Fatal(err)
	}
	count, err := VerifyChain(logPath)
	if err != nil || count != 0 {
		t.Errorf("VerifyChain() = %d, %v; want 0, nil", count, err)
	}
}

// =============================================================================
// Memory / Multi Writer Tests
// =============================================================================

func TestU_MemoryWriter_Chains(t *testing.T) {
	w := NewMemoryWriter()
	e1 := NewEvent(EventKeyGenerated, ResultSuccess)
	e2 := NewEvent(EventKeyRemoved, ResultSuccess)
	if err := w.Write(e1); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(e2); err != nil {
		t.Fatal(err)
	}
	if len(w.Events) != 2 || e2.HashPrev != e1.Hash || w.LastHash() != e2.Hash {
		t.Error("memory writer did not chain events")
	}
}

func TestU_MultiWriter_Write(t *testing.T) {
	m1, m2 := NewMemoryWriter(), NewMemoryWriter()
	w := NewMultiWriter(m1, m2)
	if err := w.Write(NewEvent(EventCertRemoved, ResultSuccess)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(m1.Events) != 1 || len(m2.Events) != 1 {
		t.Error("event not delivered to every writer")
	}
	if err := w.Write(&Event{}); err == nil {
		t.Error("invalid event should fail")
	}
	if NewMultiWriter().LastHash() != GenesisHash {
		t.Error("empty MultiWriter should report genesis")
	}
}

// =============================================================================
// Global Audit Tests
// =============================================================================

func TestU_GlobalAudit_InitAndLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	if err := InitFile(logPath); err != nil {
		t.Fatalf("InitFile() error = %v", err)
	}
	if !Enabled() {
		t.Error("Enabled() should return true after InitFile")
	}
	if err := Log(NewEvent(EventDeviceInit, ResultSuccess)); err != nil {
		t.Errorf("Log() error = %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if Enabled() {
		t.Error("Enabled() should return false after Close")
	}

	count, err := VerifyChain(logPath)
	if err != nil {
		t.Errorf("VerifyChain() error = %v", err)
	}
	if count != 1 {
		t.Errorf("VerifyChain() count = %d, want 1", count)
	}
}

func TestU_LogHelpers_AllEvents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	if err := InitFile(logPath); err != nil {
		t.Fatalf("InitFile() error = %v", err)
	}
	defer func() { _ = Close() }()

	helpers := []struct {
		name string
		fn   func() error
	}{
		{"LogKeyGenerated", func() error { return LogKeyGenerated(1, "p256", true) }},
		{"LogKeyImported", func() error { return LogKeyImported(2, "rsa2048", true) }},
		{"LogKeyRemoved", func() error { return LogKeyRemoved(2, "rsa2048", false) }},
		{"LogCertStored", func() error { return LogCertStored(1, 512, true) }},
		{"LogCertRemoved", func() error { return LogCertRemoved(1, true) }},
		{"LogStorageWritten", func() error { return LogStorageWritten(4, 64, true) }},
		{"LogStorageDeleted", func() error { return LogStorageDeleted(4, true) }},
		{"LogDeviceInit", func() error { return LogDeviceInit("soft", true) }},
		{"LogFirmwareFault", func() error { return LogFirmwareFault("ecdsa_sign_md", "fail") }},
		{"LogSelfCheck", func() error { return LogSelfCheck("soft", true, "") }},
	}
	for _, h := range helpers {
		if err := h.fn(); err != nil {
			t.Errorf("%s() error = %v", h.name, err)
		}
	}

	_ = Close()

	count, err := VerifyChain(logPath)
	if err != nil {
		t.Errorf("VerifyChain() error = %v", err)
	}
	if count != len(helpers) {
		t.Errorf("VerifyChain() count = %d, want %d", count, len(helpers))
	}
}

func TestU_NopWriter_Disabled(t *testing.T) {
	if err := Init(nil); err != nil {
		t.Fatal(err)
	}
	if Enabled() {
		t.Error("Enabled() should be false with nil writer")
	}
	if err := LogKeyGenerated(0, "aes128", true); err != nil {
		t.Errorf("logging with audit disabled error = %v", err)
	}
}

func TestU_Global_Forwards(t *testing.T) {
	mem := NewMemoryWriter()
	if err := Init(mem); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = Close() }()

	g := Global()
	if err := g.Write(KeyRemovedEvent(3, "ecc-p256", true)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(mem.Events) != 1 || mem.Events[0].Object.Slot != "0x00000003" {
		t.Fatalf("events = %+v", mem.Events)
	}
	if g.LastHash() != mem.LastHash() {
		t.Errorf("LastHash() = %s, want %s", g.LastHash(), mem.LastHash())
	}
	if err := g.Close(); err != nil || !Enabled() {
		t.Error("closing the forwarder must leave the global writer installed")
	}
}
