package dto

// RandomRequest represents a request for random bytes.
type RandomRequest struct {
	// Size is the number of bytes, 1..max_random_size.
	Size int `json:"size"`
}

// RandomResponse carries the generated bytes.
type RandomResponse struct {
	Random BinaryData `json:"random"`
}

// HashRequest represents a digest request.
type HashRequest struct {
	// Algorithm is md5, sha1, sha224, sha256, sha384 or sha512.
	Algorithm string     `json:"algorithm"`
	Data      BinaryData `json:"data"`
}

// HashResponse carries the digest.
type HashResponse struct {
	Algorithm string     `json:"algorithm"`
	Digest    BinaryData `json:"digest"`
}

// SignRequest represents a request to sign a precomputed digest.
type SignRequest struct {
	// Slot is the key slot. The factory key slot is accepted for EC keys.
	Slot uint32 `json:"slot"`

	// KeyType is the slot's key type, e.g. "ecc-p256" or "rsa2048".
	KeyType string `json:"key_type"`

	// Hash names the digest algorithm.
	Hash string `json:"hash"`

	// Padding selects the RSA scheme: "pkcs1" (default) or "pss".
	Padding string `json:"padding,omitempty"`

	Digest BinaryData `json:"digest"`
}

// SignResponse carries the signature: DER for ECDSA, raw for RSA.
type SignResponse struct {
	Signature BinaryData `json:"signature"`
}

// VerifyRequest represents a signature check.
type VerifyRequest struct {
	SignRequest
	Signature BinaryData `json:"signature"`
}

// VerifyResponse reports the outcome of a signature check.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// KeyResponse describes the public half of a slot key.
type KeyResponse struct {
	Slot    uint32 `json:"slot"`
	KeyType string `json:"key_type"`

	// PublicKey is a PEM PUBLIC KEY block.
	PublicKey string `json:"public_key"`
}

// CertRequest stores a certificate.
type CertRequest struct {
	// Certificate is DER, base64 or hex encoded.
	Certificate BinaryData `json:"certificate"`
}

// CertResponse returns a stored certificate.
type CertResponse struct {
	Slot        uint32     `json:"slot"`
	Certificate BinaryData `json:"certificate"`

	// Subject is set when the bytes parse as X.509.
	Subject string `json:"subject,omitempty"`
}

// StorageRequest writes a storage block.
type StorageRequest struct {
	Data BinaryData `json:"data"`
}

// StorageResponse returns a storage block.
type StorageResponse struct {
	Slot uint32     `json:"slot"`
	Data BinaryData `json:"data"`
}
