package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

const (
	// GenesisHash is the initial hash for the first event in the chain.
	GenesisHash = "sha256:genesis"

	// HashPrefix is prepended to all hash values.
	HashPrefix = "sha256:"
)

// chain holds the running hash of an event sequence.
type chain struct {
	last string
}

// link validates event, sets its HashPrev and Hash, and advances the chain.
func (c *chain) link(event *Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	event.HashPrev = c.last

	canonical, err := event.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	event.Hash = calculateHash(canonical, c.last)
	c.last = event.Hash
	return nil
}

// FileWriter writes audit events to a JSONL file with hash chaining.
type FileWriter struct {
	mu    sync.Mutex
	file  *os.File
	chain chain
	path  string
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter creates a new file-based audit writer.
// If the file exists, it reads the last hash for chain continuity.
func NewFileWriter(path string) (*FileWriter, error) {
	lastHash := GenesisHash
	if existing, err := os.ReadFile(path); err == nil && len(existing) > 0 {
		hash, err := readLastHash(existing)
		if err != nil {
			return nil, fmt.Errorf("failed to read last hash from existing log: %w", err)
		}
		lastHash = hash
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &FileWriter{
		file:  file,
		chain: chain{last: lastHash},
		path:  path,
	}, nil
}

// readLastHash returns the hash of the last event in a JSONL log.
func readLastHash(data []byte) (string, error) {
	var lastLine []byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			lastLine = append(lastLine[:0], line...)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(lastLine) == 0 {
		return GenesisHash, nil
	}

	var event struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(lastLine, &event); err != nil {
		return "", fmt.Errorf("failed to parse last event: %w", err)
	}
	if event.Hash == "" {
		return "", fmt.Errorf("last event has no hash")
	}
	return event.Hash, nil
}

// Write logs an audit event with hash chaining and syncs the file.
func (w *FileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("audit log is closed")
	}

	// Link on a copy of the chain so a failed write does not advance it.
	next := w.chain
	if err := next.link(event); err != nil {
		return err
	}

	eventJSON, err := event.JSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	w.chain = next
	return nil
}

// Close closes the audit log file. It is safe to call more than once.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LastHash returns the hash of the last written event.
func (w *FileWriter) LastHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chain.last
}

// Path returns the file path of the audit log.
func (w *FileWriter) Path() string {
	return w.path
}

// calculateHash computes SHA256(data || prevHash).
func calculateHash(data []byte, prevHash string) string {
	h := sha256.New()
	_, _ = h.Write(data)
	_, _ = h.Write([]byte(prevHash))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyChain verifies the hash chain integrity of an audit log file.
// Returns the number of valid events and any error encountered.
func VerifyChain(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit log: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	expectedPrev := GenesisHash
	count := 0
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return count, fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}

		if event.HashPrev != expectedPrev {
			return count, fmt.Errorf("line %d: hash chain broken: expected prev=%s, got prev=%s",
				lineNum, expectedPrev, event.HashPrev)
		}

		canonical, err := event.CanonicalJSON()
		if err != nil {
			return count, fmt.Errorf("line %d: failed to serialize: %w", lineNum, err)
		}
		if calculated := calculateHash(canonical, event.HashPrev); event.Hash != calculated {
			return count, fmt.Errorf("line %d: hash mismatch: expected=%s, got=%s",
				lineNum, calculated, event.Hash)
		}

		expectedPrev = event.Hash
		count++
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("scan error: %w", err)
	}
	return count, nil
}
