// Package fwtest provides a recording firmware mailbox for tests.
//
// The Mailbox answers every command from in-memory state and canned values,
// records each invocation, and can be told to stay busy or to fail a given
// command with a chosen status.
package fwtest

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"sync"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// Call is one recorded firmware invocation.
type Call struct {
	Name   string
	Opcode firmware.Opcode
	Slot   uint32
}

// Mailbox is a scriptable firmware.Mailbox. The zero value is not usable;
// call New.
type Mailbox struct {
	mu sync.Mutex

	calls  []Call
	resets int

	// BusyPolls is the number of Busy reads that report true before the
	// element goes idle. Negative keeps it busy forever.
	BusyPolls int

	// Fail forces the named command to return the given status.
	Fail map[string]firmware.Status

	// R and S are returned by ECDSASign.
	R, S []byte

	// FactoryKey and FactoryCert back the factory reads.
	FactoryKey  []byte
	FactoryCert []byte

	keys    map[uint32][]byte
	certs   map[uint32][]byte
	storage map[uint32][]byte
	signed  []signature
}

type signature struct {
	slot   uint32
	hash   []byte
	r, s   []byte
	opcode firmware.Opcode
	ecdsa  bool
}

var _ firmware.Mailbox = (*Mailbox)(nil)

// New returns an idle Mailbox with empty slots.
func New() *Mailbox {
	return &Mailbox{
		Fail:    map[string]firmware.Status{},
		keys:    map[uint32][]byte{},
		certs:   map[uint32][]byte{},
		storage: map[uint32][]byte{},
	}
}

// Calls returns a copy of the recorded invocations.
func (m *Mailbox) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Invocations returns the number of recorded commands.
func (m *Mailbox) Invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsTo counts invocations of the named command.
func (m *Mailbox) CallsTo(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Resets returns how many times Reset was called.
func (m *Mailbox) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// record logs a call and returns the forced status for it, if any.
func (m *Mailbox) record(name string, op firmware.Opcode, slot uint32) firmware.Status {
	m.calls = append(m.calls, Call{Name: name, Opcode: op, Slot: slot})
	return m.Fail[name]
}

func put(out, b []byte) (int, firmware.Status) {
	if len(out) < len(b) {
		return 0, firmware.StatusOverflow
	}
	return copy(out, b), firmware.StatusOK
}

func (m *Mailbox) Init() firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Init", 0, 0)
}

func (m *Mailbox) Deinit() firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Deinit", 0, 0)
}

func (m *Mailbox) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BusyPolls < 0 {
		return true
	}
	if m.BusyPolls > 0 {
		m.BusyPolls--
		return true
	}
	return false
}

func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

// GenerateRandom fills out with an incrementing pattern.
func (m *Mailbox) GenerateRandom(out []byte) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("GenerateRandom", 0, 0); st != firmware.StatusOK {
		return st
	}
	for i := range out {
		out[i] = byte(i + 1)
	}
	return firmware.StatusOK
}

func (m *Mailbox) Hash(op firmware.Opcode, msg, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("Hash", op, 0); st != firmware.StatusOK {
		return 0, st
	}
	var sum []byte
	switch op.Hash() {
	case firmware.HashSHA1:
		h := sha1.Sum(msg)
		sum = h[:]
	case firmware.HashSHA256:
		h := sha256.Sum256(msg)
		sum = h[:]
	case firmware.HashSHA384:
		h := sha512.Sum384(msg)
		sum = h[:]
	case firmware.HashSHA512:
		h := sha512.Sum512(msg)
		sum = h[:]
	default:
		return 0, firmware.StatusUnsupported
	}
	return put(out, sum)
}

func (m *Mailbox) SetKey(op firmware.Opcode, slot uint32, pub, priv []byte) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("SetKey", op, slot); st != firmware.StatusOK {
		return st
	}
	if len(pub) == 0 {
		pub = priv
	}
	m.keys[slot] = append([]byte(nil), pub...)
	return firmware.StatusOK
}

func (m *Mailbox) GetPublicKey(op firmware.Opcode, slot uint32, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("GetPublicKey", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	k, ok := m.keys[slot]
	if !ok {
		return 0, firmware.StatusEmptySlot
	}
	return put(out, k)
}

func (m *Mailbox) RemoveKey(op firmware.Opcode, slot uint32) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("RemoveKey", op, slot); st != firmware.StatusOK {
		return st
	}
	if _, ok := m.keys[slot]; !ok {
		return firmware.StatusEmptySlot
	}
	delete(m.keys, slot)
	return firmware.StatusOK
}

// GenerateKey stores a placeholder point or secret sized for op.
func (m *Mailbox) GenerateKey(op firmware.Opcode, slot uint32) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("GenerateKey", op, slot); st != firmware.StatusOK {
		return st
	}
	size := op.FieldBytes()
	if op.IsEC() {
		pt := bytes.Repeat([]byte{0x11}, 1+2*size)
		pt[0] = 0x04
		m.keys[slot] = pt
	} else {
		m.keys[slot] = bytes.Repeat([]byte{0x22}, size)
	}
	return firmware.StatusOK
}

func (m *Mailbox) RSASign(op firmware.Opcode, slot uint32, hash, sig []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("RSASign", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	out := append(append([]byte(nil), hash...), byte(slot))
	m.signed = append(m.signed, signature{slot: slot, hash: bytes.Clone(hash), r: out, opcode: op})
	return put(sig, out)
}

func (m *Mailbox) RSAVerify(op firmware.Opcode, slot uint32, hash, sig []byte) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("RSAVerify", op, slot); st != firmware.StatusOK {
		return st
	}
	for _, s := range m.signed {
		if s.slot == slot && s.opcode == op && bytes.Equal(s.hash, hash) && bytes.Equal(s.r, sig) {
			return firmware.StatusOK
		}
	}
	return firmware.StatusVerifyFail
}

// RSAEncrypt reverses the input; RSADecrypt reverses it back.
func (m *Mailbox) RSAEncrypt(op firmware.Opcode, slot uint32, in, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("RSAEncrypt", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	return put(out, reversed(in))
}

func (m *Mailbox) RSADecrypt(op firmware.Opcode, slot uint32, in, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("RSADecrypt", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	return put(out, reversed(in))
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// ECDSASign returns the canned R and S and remembers the tuple for ECDSAVerify.
func (m *Mailbox) ECDSASign(op firmware.Opcode, slot uint32, hash, r, s []byte) (int, int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("ECDSASign", op, slot); st != firmware.StatusOK {
		return 0, 0, st
	}
	rn, st := put(r, m.R)
	if st != firmware.StatusOK {
		return 0, 0, st
	}
	sn, st := put(s, m.S)
	if st != firmware.StatusOK {
		return 0, 0, st
	}
	m.signed = append(m.signed, signature{
		slot: slot, hash: bytes.Clone(hash), r: bytes.Clone(m.R), s: bytes.Clone(m.S), opcode: op, ecdsa: true,
	})
	return rn, sn, firmware.StatusOK
}

// ECDSAVerify accepts any (hash, r, s) previously produced by ECDSASign for
// the same slot. r and s arrive left-padded to the field size.
func (m *Mailbox) ECDSAVerify(op firmware.Opcode, slot uint32, hash, r, s []byte) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("ECDSAVerify", op, slot); st != firmware.StatusOK {
		return st
	}
	for _, sig := range m.signed {
		if !sig.ecdsa || sig.slot != slot || !bytes.Equal(sig.hash, hash) {
			continue
		}
		if bytes.Equal(trim(sig.r), trim(r)) && bytes.Equal(trim(sig.s), trim(s)) {
			return firmware.StatusOK
		}
	}
	return firmware.StatusVerifyFail
}

func trim(b []byte) []byte {
	return bytes.TrimLeft(b, "\x00")
}

func (m *Mailbox) DHGenerate(op firmware.Opcode, slot uint32, p, g, pub []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("DHGenerate", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	return put(pub, g)
}

func (m *Mailbox) DHShared(op firmware.Opcode, slot uint32, p, g, peer, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("DHShared", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	return put(out, peer)
}

// ECDHShared returns the X coordinate of the peer point, or the peer
// u-coordinate for X25519.
func (m *Mailbox) ECDHShared(op firmware.Opcode, slot uint32, peer, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("ECDHShared", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	if op.IsEC() {
		size := op.FieldBytes()
		return put(out, peer[1:1+size])
	}
	return put(out, peer)
}

// AESEncrypt XORs the input with 0x5a and appends PKCS#7 padding when asked.
func (m *Mailbox) AESEncrypt(op firmware.Opcode, slot uint32, iv, in, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("AESEncrypt", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	b := append([]byte(nil), in...)
	if op.Has(firmware.FlagPKCS7) {
		pad := 16 - len(b)%16
		b = append(b, bytes.Repeat([]byte{byte(pad)}, pad)...)
	}
	for i := range b {
		b[i] ^= 0x5a
	}
	return put(out, b)
}

func (m *Mailbox) AESDecrypt(op firmware.Opcode, slot uint32, iv, in, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("AESDecrypt", op, slot); st != firmware.StatusOK {
		return 0, st
	}
	b := append([]byte(nil), in...)
	for i := range b {
		b[i] ^= 0x5a
	}
	if op.Has(firmware.FlagPKCS7) {
		pad := int(b[len(b)-1])
		if pad == 0 || pad > 16 || pad > len(b) {
			return 0, firmware.StatusBadInput
		}
		b = b[:len(b)-pad]
	}
	return put(out, b)
}

func (m *Mailbox) WriteCert(slot uint32, cert []byte) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("WriteCert", 0, slot); st != firmware.StatusOK {
		return st
	}
	m.certs[slot] = bytes.Clone(cert)
	return firmware.StatusOK
}

func (m *Mailbox) ReadCert(slot uint32, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("ReadCert", 0, slot); st != firmware.StatusOK {
		return 0, st
	}
	c, ok := m.certs[slot]
	if !ok {
		return 0, firmware.StatusEmptySlot
	}
	return put(out, c)
}

func (m *Mailbox) DeleteCert(slot uint32) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("DeleteCert", 0, slot); st != firmware.StatusOK {
		return st
	}
	if _, ok := m.certs[slot]; !ok {
		return firmware.StatusEmptySlot
	}
	delete(m.certs, slot)
	return firmware.StatusOK
}

func (m *Mailbox) ReadFactoryCert(out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("ReadFactoryCert", 0, firmware.FactoryCertSlot); st != firmware.StatusOK {
		return 0, st
	}
	if m.FactoryCert == nil {
		return 0, firmware.StatusEmptySlot
	}
	return put(out, m.FactoryCert)
}

func (m *Mailbox) ReadFactoryKey(out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("ReadFactoryKey", 0, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return 0, st
	}
	if m.FactoryKey == nil {
		return 0, firmware.StatusEmptySlot
	}
	return put(out, m.FactoryKey)
}

func (m *Mailbox) WriteStorage(slot uint32, data []byte) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("WriteStorage", 0, slot); st != firmware.StatusOK {
		return st
	}
	m.storage[slot] = bytes.Clone(data)
	return firmware.StatusOK
}

func (m *Mailbox) ReadStorage(slot uint32, out []byte) (int, firmware.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("ReadStorage", 0, slot); st != firmware.StatusOK {
		return 0, st
	}
	b, ok := m.storage[slot]
	if !ok {
		return 0, firmware.StatusEmptySlot
	}
	return put(out, b)
}

func (m *Mailbox) DeleteStorage(slot uint32) firmware.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.record("DeleteStorage", 0, slot); st != firmware.StatusOK {
		return st
	}
	if _, ok := m.storage[slot]; !ok {
		return firmware.StatusEmptySlot
	}
	delete(m.storage, slot)
	return firmware.StatusOK
}
