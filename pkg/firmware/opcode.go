package firmware

import (
	"fmt"
	"strings"
)

// Opcode is a composite firmware command word. The low byte selects the key
// type or curve, the second byte the hash, the third byte the cipher mode,
// and the top byte carries flags.
type Opcode uint32

// Key and curve selectors (bits 0-7).
const (
	KeyAES128 Opcode = 0x01
	KeyAES192 Opcode = 0x02
	KeyAES256 Opcode = 0x03

	KeyRSA1024 Opcode = 0x11
	KeyRSA2048 Opcode = 0x12
	KeyRSA3072 Opcode = 0x13
	KeyRSA4096 Opcode = 0x14

	KeyECP192 Opcode = 0x21
	KeyECP224 Opcode = 0x22
	KeyECP256 Opcode = 0x23
	KeyECP384 Opcode = 0x24
	KeyECP521 Opcode = 0x25

	KeyECBP256 Opcode = 0x31
	KeyECBP384 Opcode = 0x32
	KeyECBP512 Opcode = 0x33

	KeyX25519 Opcode = 0x41

	KeyHMACMD5    Opcode = 0x51
	KeyHMACSHA1   Opcode = 0x52
	KeyHMACSHA224 Opcode = 0x53
	KeyHMACSHA256 Opcode = 0x54
	KeyHMACSHA384 Opcode = 0x55
	KeyHMACSHA512 Opcode = 0x56

	KeyDH1024 Opcode = 0x61
	KeyDH2048 Opcode = 0x62
	KeyDH4096 Opcode = 0x63
)

// Hash selectors (bits 8-15).
const (
	HashSHA1   Opcode = 0x0100
	HashSHA224 Opcode = 0x0200
	HashSHA256 Opcode = 0x0300
	HashSHA384 Opcode = 0x0400
	HashSHA512 Opcode = 0x0500
)

// Cipher mode selectors (bits 16-23).
const (
	ModeECB Opcode = 0x010000
	ModeCBC Opcode = 0x020000
	ModeCTR Opcode = 0x030000
)

// Flags (bits 24-31).
const (
	// FlagPSS selects RSASSA-PSS instead of PKCS#1 v1.5 on RSA sign/verify.
	FlagPSS Opcode = 1 << 24
	// FlagPKCS7 enables PKCS#7 padding on ECB/CBC.
	FlagPKCS7 Opcode = 1 << 25
	// FlagOAEP selects RSAES-OAEP instead of PKCS#1 v1.5 on RSA encrypt/decrypt.
	FlagOAEP Opcode = 1 << 26
)

const (
	maskKey  Opcode = 0x000000ff
	maskHash Opcode = 0x0000ff00
	maskMode Opcode = 0x00ff0000
)

// Key returns the key or curve selector of o.
func (o Opcode) Key() Opcode { return o & maskKey }

// Hash returns the hash selector of o.
func (o Opcode) Hash() Opcode { return o & maskHash }

// Mode returns the cipher mode selector of o.
func (o Opcode) Mode() Opcode { return o & maskMode }

// Has reports whether all bits of flag are set in o.
func (o Opcode) Has(flag Opcode) bool { return o&flag == flag }

// IsEC reports whether the key selector names a short-Weierstrass curve.
func (o Opcode) IsEC() bool {
	k := o.Key()
	return (k >= KeyECP192 && k <= KeyECP521) || (k >= KeyECBP256 && k <= KeyECBP512)
}

// IsRSA reports whether the key selector names an RSA modulus.
func (o Opcode) IsRSA() bool {
	k := o.Key()
	return k >= KeyRSA1024 && k <= KeyRSA4096
}

// IsAES reports whether the key selector names an AES key.
func (o Opcode) IsAES() bool {
	k := o.Key()
	return k >= KeyAES128 && k <= KeyAES256
}

// IsDH reports whether the key selector names a finite-field DH group size.
func (o Opcode) IsDH() bool {
	k := o.Key()
	return k >= KeyDH1024 && k <= KeyDH4096
}

// IsHMAC reports whether the key selector names an HMAC key.
func (o Opcode) IsHMAC() bool {
	k := o.Key()
	return k >= KeyHMACMD5 && k <= KeyHMACSHA512
}

// FieldBytes returns the coordinate size in bytes for EC and X25519 selectors,
// the key size for AES, and the modulus size for RSA and DH. It returns 0 for
// selectors without a fixed size.
func (o Opcode) FieldBytes() int {
	switch o.Key() {
	case KeyAES128:
		return 16
	case KeyAES192:
		return 24
	case KeyAES256:
		return 32
	case KeyRSA1024, KeyDH1024:
		return 128
	case KeyRSA2048, KeyDH2048:
		return 256
	case KeyRSA3072:
		return 384
	case KeyRSA4096, KeyDH4096:
		return 512
	case KeyECP192:
		return 24
	case KeyECP224:
		return 28
	case KeyECP256, KeyECBP256, KeyX25519:
		return 32
	case KeyECP384, KeyECBP384:
		return 48
	case KeyECP521:
		return 66
	case KeyECBP512:
		return 64
	}
	return 0
}

// DigestSize returns the output size of the hash selector, or 0 if none is set.
func (o Opcode) DigestSize() int {
	switch o.Hash() {
	case HashSHA1:
		return 20
	case HashSHA224:
		return 28
	case HashSHA256:
		return 32
	case HashSHA384:
		return 48
	case HashSHA512:
		return 64
	}
	return 0
}

var keyNames = map[Opcode]string{
	KeyAES128: "aes128", KeyAES192: "aes192", KeyAES256: "aes256",
	KeyRSA1024: "rsa1024", KeyRSA2048: "rsa2048", KeyRSA3072: "rsa3072", KeyRSA4096: "rsa4096",
	KeyECP192: "p192", KeyECP224: "p224", KeyECP256: "p256", KeyECP384: "p384", KeyECP521: "p521",
	KeyECBP256: "bp256r1", KeyECBP384: "bp384r1", KeyECBP512: "bp512r1",
	KeyX25519: "x25519",
	KeyHMACMD5: "hmac-md5", KeyHMACSHA1: "hmac-sha1", KeyHMACSHA224: "hmac-sha224",
	KeyHMACSHA256: "hmac-sha256", KeyHMACSHA384: "hmac-sha384", KeyHMACSHA512: "hmac-sha512",
	KeyDH1024: "dh1024", KeyDH2048: "dh2048", KeyDH4096: "dh4096",
}

var hashNames = map[Opcode]string{
	HashSHA1: "sha1", HashSHA224: "sha224", HashSHA256: "sha256", HashSHA384: "sha384", HashSHA512: "sha512",
}

var modeNames = map[Opcode]string{
	ModeECB: "ecb", ModeCBC: "cbc", ModeCTR: "ctr",
}

// String renders o as its selector names, e.g. "p256/sha256".
func (o Opcode) String() string {
	var parts []string
	if k := o.Key(); k != 0 {
		if n, ok := keyNames[k]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, fmt.Sprintf("key(0x%02x)", uint32(k)))
		}
	}
	if h := o.Hash(); h != 0 {
		if n, ok := hashNames[h]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, fmt.Sprintf("hash(0x%04x)", uint32(h)))
		}
	}
	if m := o.Mode(); m != 0 {
		if n, ok := modeNames[m]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, fmt.Sprintf("mode(0x%06x)", uint32(m)))
		}
	}
	if o.Has(FlagPSS) {
		parts = append(parts, "pss")
	}
	if o.Has(FlagPKCS7) {
		parts = append(parts, "pkcs7")
	}
	if o.Has(FlagOAEP) {
		parts = append(parts, "oaep")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "/")
}
