package audit

// Writer defines the interface for audit log writers.
//
// Implementations MUST return an error if the write fails, flush before
// returning from Write, and maintain the hash chain (HashPrev, Hash).
type Writer interface {
	// Write validates the event, chains and hashes it, and persists it.
	Write(event *Event) error

	// Close flushes any pending writes and closes the writer.
	Close() error

	// LastHash returns the hash of the last written event, or GenesisHash.
	LastHash() string
}

// NopWriter discards all events. Used when audit logging is disabled.
type NopWriter struct{}

var _ Writer = (*NopWriter)(nil)

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// MemoryWriter keeps chained events in memory.
type MemoryWriter struct {
	chain  chain
	Events []*Event
}

var _ Writer = (*MemoryWriter)(nil)

// NewMemoryWriter returns an empty in-memory writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{chain: chain{last: GenesisHash}}
}

func (m *MemoryWriter) Write(event *Event) error {
	if err := m.chain.link(event); err != nil {
		return err
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MemoryWriter) Close() error     { return nil }
func (m *MemoryWriter) LastHash() string { return m.chain.last }

// MultiWriter writes to multiple audit writers.
// If any writer fails, the write fails.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

// NewMultiWriter creates a writer that writes to all provided writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(event *Event) error {
	for _, w := range m.writers {
		if err := w.Write(event); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Close() error {
	var lastErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiWriter) LastHash() string {
	if len(m.writers) > 0 {
		return m.writers[0].LastHash()
	}
	return GenesisHash
}

// Global returns a Writer that forwards to whatever writer Init installed
// at the time of each Write. Closing it leaves the global writer open.
func Global() Writer { return globalForwarder{} }

type globalForwarder struct{}

func (globalForwarder) Write(event *Event) error { return Log(event) }
func (globalForwarder) Close() error             { return nil }

func (globalForwarder) LastHash() string {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalWriter.LastHash()
}
