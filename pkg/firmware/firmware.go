// Package firmware defines the lower boundary of the HAL: the command
// mailbox a secure element exposes.
//
// A Mailbox has one method per firmware entry point. Methods take raw byte
// slices and opcode words and report a raw Status; zero is success and every
// other value is a firmware-specific failure. Output methods write into the
// slice they are given and return the number of bytes produced. Callers are
// expected to wait for Busy to clear before issuing a command, and to call
// Reset after any failure.
package firmware

import "fmt"

// Status is a raw firmware status word.
type Status uint32

// Status values produced by the bundled backends. Real firmware may return
// any nonzero value on failure.
const (
	StatusOK          Status = 0x00
	StatusFail        Status = 0x01
	StatusBadInput    Status = 0x02
	StatusUnsupported Status = 0x03
	StatusEmptySlot   Status = 0x04
	StatusSlotRange   Status = 0x05
	StatusVerifyFail  Status = 0x06
	StatusOverflow    Status = 0x07
	StatusNotReady    Status = 0x08
	StatusStorage     Status = 0x09
)

var statusNames = map[Status]string{
	StatusOK:          "ok",
	StatusFail:        "fail",
	StatusBadInput:    "bad input",
	StatusUnsupported: "unsupported",
	StatusEmptySlot:   "empty slot",
	StatusSlotRange:   "slot out of range",
	StatusVerifyFail:  "verification failed",
	StatusOverflow:    "output overflow",
	StatusNotReady:    "not initialized",
	StatusStorage:     "storage error",
}

// String returns a short description of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%08x", uint32(s))
}

// OK reports whether s is StatusOK.
func (s Status) OK() bool { return s == StatusOK }

// Well-known slot indexes.
const (
	// FactoryKeySlot holds the device identity key provisioned at manufacture.
	FactoryKeySlot uint32 = 0x00010120

	// FactoryCertSlot holds the certificate matching FactoryKeySlot.
	FactoryCertSlot uint32 = 0x00010122
)

// Mailbox is the firmware command interface of a secure element.
//
// Key material formats follow the usual import conventions: EC public keys
// are uncompressed points (0x04 || X || Y) and EC private keys raw scalars;
// RSA keys are PKCS#1 DER; symmetric, HMAC, X25519 and DH keys are raw bytes.
type Mailbox interface {
	// Init brings the element up. It is idempotent.
	Init() Status
	// Deinit releases the element.
	Deinit() Status
	// Busy reports whether a previous command is still executing.
	Busy() bool
	// Reset re-synchronizes the command channel after a failure.
	Reset()

	GenerateRandom(out []byte) Status
	Hash(op Opcode, msg, out []byte) (int, Status)

	SetKey(op Opcode, slot uint32, pub, priv []byte) Status
	GetPublicKey(op Opcode, slot uint32, out []byte) (int, Status)
	RemoveKey(op Opcode, slot uint32) Status
	GenerateKey(op Opcode, slot uint32) Status

	RSASign(op Opcode, slot uint32, hash, sig []byte) (int, Status)
	RSAVerify(op Opcode, slot uint32, hash, sig []byte) Status
	RSAEncrypt(op Opcode, slot uint32, in, out []byte) (int, Status)
	RSADecrypt(op Opcode, slot uint32, in, out []byte) (int, Status)

	// ECDSASign writes the raw big-endian r and s values and returns their lengths.
	ECDSASign(op Opcode, slot uint32, hash, r, s []byte) (rLen, sLen int, st Status)
	ECDSAVerify(op Opcode, slot uint32, hash, r, s []byte) Status

	// DHGenerate creates a private exponent in slot and writes g^x mod p.
	DHGenerate(op Opcode, slot uint32, p, g, pub []byte) (int, Status)
	// DHShared writes peer^x mod p for the exponent held in slot.
	DHShared(op Opcode, slot uint32, p, g, peer, out []byte) (int, Status)
	// ECDHShared writes the X coordinate of the shared point.
	ECDHShared(op Opcode, slot uint32, peer, out []byte) (int, Status)

	AESEncrypt(op Opcode, slot uint32, iv, in, out []byte) (int, Status)
	AESDecrypt(op Opcode, slot uint32, iv, in, out []byte) (int, Status)

	WriteCert(slot uint32, cert []byte) Status
	ReadCert(slot uint32, out []byte) (int, Status)
	DeleteCert(slot uint32) Status
	ReadFactoryCert(out []byte) (int, Status)
	// ReadFactoryKey writes the public half of the factory key.
	ReadFactoryKey(out []byte) (int, Status)

	WriteStorage(slot uint32, data []byte) Status
	ReadStorage(slot uint32, out []byte) (int, Status)
	DeleteStorage(slot uint32) Status
}
