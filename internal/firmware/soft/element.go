// Package soft implements a software secure element behind the firmware
// mailbox.
//
// Keys, certificates and storage blocks live in a slot table held in memory
// and, when a state file is configured, persisted as canonical CBOR after
// every mutation. A P-256 factory key and a self-signed factory certificate
// are created on first Init.
package soft

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// DefaultSlots is the number of general-purpose slots when Options.Slots is zero.
const DefaultSlots = 32

// Options configures an Element.
type Options struct {
	// StateFile persists the slot table. Empty keeps it in memory only.
	StateFile string

	// Slots is the number of general-purpose slots.
	Slots uint32

	// Rand is the entropy source. Nil uses crypto/rand.
	Rand io.Reader

	Logger *slog.Logger
}

// record is one key slot. Pub and Priv use the mailbox import formats.
type record struct {
	Opcode uint32 `cbor:"1,keyasint"`
	Pub    []byte `cbor:"2,keyasint,omitempty"`
	Priv   []byte `cbor:"3,keyasint,omitempty"`
	// Group holds the DH prime for finite-field keys.
	Group []byte `cbor:"4,keyasint,omitempty"`
}

func (r *record) opcode() firmware.Opcode { return firmware.Opcode(r.Opcode) }

// state is the persisted form of the element.
type state struct {
	Keys        map[uint32]*record `cbor:"1,keyasint"`
	Certs       map[uint32][]byte  `cbor:"2,keyasint"`
	Storage     map[uint32][]byte  `cbor:"3,keyasint"`
	FactoryKey  []byte             `cbor:"4,keyasint,omitempty"`
	FactoryCert []byte             `cbor:"5,keyasint,omitempty"`
}

func newState() *state {
	return &state{
		Keys:    map[uint32]*record{},
		Certs:   map[uint32][]byte{},
		Storage: map[uint32][]byte{},
	}
}

// Element is a software firmware.Mailbox. It is safe for concurrent use.
type Element struct {
	mu     sync.Mutex
	opts   Options
	rand   io.Reader
	log    *slog.Logger
	ready  bool
	st     *state
	encode cbor.EncMode
}

var _ firmware.Mailbox = (*Element)(nil)

// New returns an uninitialized Element. Commands other than Init fail with
// StatusNotReady until Init succeeds.
func New(opts Options) (*Element, error) {
	if opts.Slots == 0 {
		opts.Slots = DefaultSlots
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	return &Element{
		opts:   opts,
		rand:   opts.Rand,
		log:    opts.Logger,
		st:     newState(),
		encode: em,
	}, nil
}

// Init loads the state file and provisions the factory identity if absent.
func (e *Element) Init() firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return firmware.StatusOK
	}
	if err := e.load(); err != nil {
		e.log.Error("soft element: load state", "path", e.opts.StateFile, "error", err)
		return firmware.StatusStorage
	}
	if e.st.FactoryKey == nil {
		if err := e.provision(); err != nil {
			e.log.Error("soft element: provision factory identity", "error", err)
			return firmware.StatusFail
		}
		if st := e.save(); st != firmware.StatusOK {
			return st
		}
	}
	e.ready = true
	e.log.Debug("soft element ready", "slots", e.opts.Slots, "keys", len(e.st.Keys))
	return firmware.StatusOK
}

// Deinit flushes state and marks the element not ready.
func (e *Element) Deinit() firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return firmware.StatusOK
	}
	st := e.save()
	e.ready = false
	return st
}

// Busy is always false; commands complete synchronously.
func (e *Element) Busy() bool { return false }

func (e *Element) Reset() {
	e.log.Debug("soft element: channel reset")
}

// load replaces the in-memory state with the state file, if one exists.
func (e *Element) load() error {
	if e.opts.StateFile == "" {
		return nil
	}
	data, err := os.ReadFile(e.opts.StateFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	st := newState()
	if err := cbor.Unmarshal(data, st); err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}
	if st.Keys == nil {
		st.Keys = map[uint32]*record{}
	}
	if st.Certs == nil {
		st.Certs = map[uint32][]byte{}
	}
	if st.Storage == nil {
		st.Storage = map[uint32][]byte{}
	}
	e.st = st
	return nil
}

// save writes the state file atomically.
func (e *Element) save() firmware.Status {
	if e.opts.StateFile == "" {
		return firmware.StatusOK
	}
	data, err := e.encode.Marshal(e.st)
	if err != nil {
		e.log.Error("soft element: encode state", "error", err)
		return firmware.StatusStorage
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.opts.StateFile), ".se-state-*")
	if err != nil {
		e.log.Error("soft element: save state", "error", err)
		return firmware.StatusStorage
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		e.log.Error("soft element: save state", "error", err)
		return firmware.StatusStorage
	}
	if err := tmp.Close(); err != nil {
		e.log.Error("soft element: save state", "error", err)
		return firmware.StatusStorage
	}
	if err := os.Rename(tmp.Name(), e.opts.StateFile); err != nil {
		e.log.Error("soft element: save state", "error", err)
		return firmware.StatusStorage
	}
	return firmware.StatusOK
}

// provision creates the factory P-256 key and its self-signed certificate.
func (e *Element) provision() error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), e.rand)
	if err != nil {
		return err
	}
	scalar, err := priv.Bytes()
	if err != nil {
		return err
	}

	serial, err := rand.Int(e.rand, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "sehal soft element", Organization: []string{"sehal"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(20, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(e.rand, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return err
	}

	e.st.FactoryKey = scalar
	e.st.FactoryCert = der
	return nil
}

// check rejects commands before Init and slots outside the table.
func (e *Element) check(slot uint32, extra ...uint32) firmware.Status {
	if !e.ready {
		return firmware.StatusNotReady
	}
	if slot < e.opts.Slots {
		return firmware.StatusOK
	}
	for _, x := range extra {
		if slot == x {
			return firmware.StatusOK
		}
	}
	return firmware.StatusSlotRange
}

// key returns the record in slot. The factory slot resolves to the factory key.
func (e *Element) key(slot uint32) (*record, firmware.Status) {
	if slot == firmware.FactoryKeySlot {
		priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), e.st.FactoryKey)
		if err != nil {
			return nil, firmware.StatusFail
		}
		pub, err := priv.PublicKey.Bytes()
		if err != nil {
			return nil, firmware.StatusFail
		}
		return &record{Opcode: uint32(firmware.KeyECP256), Pub: pub, Priv: e.st.FactoryKey}, firmware.StatusOK
	}
	rec, ok := e.st.Keys[slot]
	if !ok {
		return nil, firmware.StatusEmptySlot
	}
	return rec, firmware.StatusOK
}

func put(out, b []byte) (int, firmware.Status) {
	if len(out) < len(b) {
		return 0, firmware.StatusOverflow
	}
	return copy(out, b), firmware.StatusOK
}
