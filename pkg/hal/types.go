package hal

import "fmt"

// Data is a caller-owned buffer. The capacity of Buf is len(Buf); Len is the
// number of meaningful bytes. Priv and PrivLen form an optional secondary
// buffer: the Y coordinate of an EC public key on export, or the private key
// on import.
//
// The HAL never grows a Data. It writes within the capacity and updates the
// used length, or fails without touching Len.
type Data struct {
	Buf     []byte
	Len     int
	Priv    []byte
	PrivLen int
}

// NewData returns a Data with capacity n and no secondary buffer.
func NewData(n int) *Data {
	return &Data{Buf: make([]byte, n)}
}

// NewDataPair returns a Data with capacity n in both buffers.
func NewDataPair(n int) *Data {
	return &Data{Buf: make([]byte, n), Priv: make([]byte, n)}
}

// DataOf wraps b as an input Data whose used length is len(b).
func DataOf(b []byte) *Data {
	return &Data{Buf: b, Len: len(b)}
}

// Bytes returns the used part of Buf.
func (d *Data) Bytes() []byte {
	if d == nil || d.Len < 0 || d.Len > len(d.Buf) {
		return nil
	}
	return d.Buf[:d.Len]
}

// PrivBytes returns the used part of Priv.
func (d *Data) PrivBytes() []byte {
	if d == nil || d.PrivLen < 0 || d.PrivLen > len(d.Priv) {
		return nil
	}
	return d.Priv[:d.PrivLen]
}

// FreeData wipes both buffers of data and resets its used lengths. The
// buffers stay with the caller; no firmware call is made.
func (d *Device) FreeData(data *Data) { FreeData(data) }

// FreeData wipes both buffers of d and resets the used lengths.
func FreeData(d *Data) {
	if d == nil {
		return
	}
	clear(d.Buf)
	clear(d.Priv)
	d.Len = 0
	d.PrivLen = 0
}

// KeyType names the kind of key held in a slot.
type KeyType int

const (
	KeyUnknown KeyType = iota
	KeyAES128
	KeyAES192
	KeyAES256
	KeyRSA1024
	KeyRSA2048
	KeyRSA3072
	KeyRSA4096
	KeyECBrainpoolP256R1
	KeyECBrainpoolP384R1
	KeyECBrainpoolP512R1
	KeyECSecP192R1
	KeyECSecP224R1
	KeyECSecP256R1
	KeyECSecP384R1
	KeyECSecP521R1
	KeyEC25519
	KeyEd25519
	KeyHMACMD5
	KeyHMACSHA1
	KeyHMACSHA224
	KeyHMACSHA256
	KeyHMACSHA384
	KeyHMACSHA512
	KeyDH1024
	KeyDH2048
	KeyDH4096
)

var keyTypeNames = map[KeyType]string{
	KeyAES128:            "aes128",
	KeyAES192:            "aes192",
	KeyAES256:            "aes256",
	KeyRSA1024:           "rsa1024",
	KeyRSA2048:           "rsa2048",
	KeyRSA3072:           "rsa3072",
	KeyRSA4096:           "rsa4096",
	KeyECBrainpoolP256R1: "ecc-bp256r1",
	KeyECBrainpoolP384R1: "ecc-bp384r1",
	KeyECBrainpoolP512R1: "ecc-bp512r1",
	KeyECSecP192R1:       "ecc-p192",
	KeyECSecP224R1:       "ecc-p224",
	KeyECSecP256R1:       "ecc-p256",
	KeyECSecP384R1:       "ecc-p384",
	KeyECSecP521R1:       "ecc-p521",
	KeyEC25519:           "x25519",
	KeyEd25519:           "ed25519",
	KeyHMACMD5:           "hmac-md5",
	KeyHMACSHA1:          "hmac-sha1",
	KeyHMACSHA224:        "hmac-sha224",
	KeyHMACSHA256:        "hmac-sha256",
	KeyHMACSHA384:        "hmac-sha384",
	KeyHMACSHA512:        "hmac-sha512",
	KeyDH1024:            "dh1024",
	KeyDH2048:            "dh2048",
	KeyDH4096:            "dh4096",
}

func (k KeyType) String() string {
	if n, ok := keyTypeNames[k]; ok {
		return n
	}
	return fmt.Sprintf("key(%d)", int(k))
}

// ParseKeyType returns the KeyType with the given String form.
func ParseKeyType(s string) (KeyType, error) {
	for k, n := range keyTypeNames {
		if n == s {
			return k, nil
		}
	}
	return KeyUnknown, fmt.Errorf("unknown key type: %s", s)
}

// IsEC reports whether k is a short-Weierstrass curve key.
func (k KeyType) IsEC() bool { return k >= KeyECBrainpoolP256R1 && k <= KeyECSecP521R1 }

// IsRSA reports whether k is an RSA key.
func (k KeyType) IsRSA() bool { return k >= KeyRSA1024 && k <= KeyRSA4096 }

// Curve returns the curve of an EC or X25519 key type.
func (k KeyType) Curve() Curve {
	switch k {
	case KeyECBrainpoolP256R1:
		return CurveBrainpoolP256R1
	case KeyECBrainpoolP384R1:
		return CurveBrainpoolP384R1
	case KeyECBrainpoolP512R1:
		return CurveBrainpoolP512R1
	case KeyECSecP192R1:
		return CurveP192
	case KeyECSecP224R1:
		return CurveP224
	case KeyECSecP256R1:
		return CurveP256
	case KeyECSecP384R1:
		return CurveP384
	case KeyECSecP521R1:
		return CurveP521
	case KeyEC25519:
		return Curve25519
	}
	return CurveUnknown
}

// HashType names a message digest.
type HashType int

const (
	HashUnknown HashType = iota
	HashMD5
	HashSHA1
	HashSHA224
	HashSHA256
	HashSHA384
	HashSHA512
)

var hashTypeNames = map[HashType]string{
	HashMD5:    "md5",
	HashSHA1:   "sha1",
	HashSHA224: "sha224",
	HashSHA256: "sha256",
	HashSHA384: "sha384",
	HashSHA512: "sha512",
}

func (h HashType) String() string {
	if n, ok := hashTypeNames[h]; ok {
		return n
	}
	return fmt.Sprintf("hash(%d)", int(h))
}

// ParseHashType returns the HashType with the given String form.
func ParseHashType(s string) (HashType, error) {
	for h, n := range hashTypeNames {
		if n == s {
			return h, nil
		}
	}
	return HashUnknown, fmt.Errorf("unknown hash type: %s", s)
}

// HMACType names an HMAC construction.
type HMACType int

const (
	HMACUnknown HMACType = iota
	HMACMD5
	HMACSHA1
	HMACSHA224
	HMACSHA256
	HMACSHA384
	HMACSHA512
)

// Curve names an elliptic curve.
type Curve int

const (
	CurveUnknown Curve = iota
	CurveBrainpoolP256R1
	CurveBrainpoolP384R1
	CurveBrainpoolP512R1
	CurveP192
	CurveP224
	CurveP256
	CurveP384
	CurveP521
	Curve25519
)

var curveNames = map[Curve]string{
	CurveBrainpoolP256R1: "bp256r1",
	CurveBrainpoolP384R1: "bp384r1",
	CurveBrainpoolP512R1: "bp512r1",
	CurveP192:            "p192",
	CurveP224:            "p224",
	CurveP256:            "p256",
	CurveP384:            "p384",
	CurveP521:            "p521",
	Curve25519:           "curve25519",
}

func (c Curve) String() string {
	if n, ok := curveNames[c]; ok {
		return n
	}
	return fmt.Sprintf("curve(%d)", int(c))
}

// ECDSAMode selects the curve and the hash the digest was computed with.
type ECDSAMode struct {
	Curve Curve
	Hash  HashType
}

// RSAPadding selects the RSA signature or encryption scheme.
type RSAPadding int

const (
	RSAPKCS1v15 RSAPadding = iota
	RSAPSS
	RSAOAEP
)

// RSAMode selects the RSA scheme. MGF and SaltLen apply to PSS; the salt
// length defaults to the digest length when zero.
type RSAMode struct {
	Padding RSAPadding
	Hash    HashType
	MGF     HashType
	SaltLen int
}

// DHType names a finite-field DH group size.
type DHType int

const (
	DHUnknown DHType = iota
	DH1024
	DH2048
	DH4096
)

// DHData carries the group parameters and a public value. On generate the
// element writes its own public value into PubKey; on shared-secret
// computation PubKey holds the peer's value.
type DHData struct {
	Mode   DHType
	P      *Data
	G      *Data
	PubKey *Data
}

// ECDHData carries the peer public point. X25519 uses PubX only.
type ECDHData struct {
	Curve Curve
	PubX  *Data
	PubY  *Data
}

// AESMode names a block cipher mode and padding.
type AESMode int

const (
	AESUnknown AESMode = iota
	AESECBNoPad
	AESECBPKCS7
	AESCBCNoPad
	AESCBCPKCS7
	AESCTR
)

// AESParam selects the mode and carries the IV for CBC and CTR.
type AESParam struct {
	Mode AESMode
	IV   *Data
}
