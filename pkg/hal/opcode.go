package hal

import "github.com/remiblancher/sehal/pkg/firmware"

// Mapping tables from symbolic descriptors to firmware selectors. A missing
// entry means the element does not support the combination and the call
// fails with ErrNotSupported before the firmware is reached.

var keyOpcodes = map[KeyType]firmware.Opcode{
	KeyAES128:            firmware.KeyAES128,
	KeyAES192:            firmware.KeyAES192,
	KeyAES256:            firmware.KeyAES256,
	KeyRSA1024:           firmware.KeyRSA1024,
	KeyRSA2048:           firmware.KeyRSA2048,
	KeyRSA3072:           firmware.KeyRSA3072,
	KeyRSA4096:           firmware.KeyRSA4096,
	KeyECBrainpoolP256R1: firmware.KeyECBP256,
	KeyECBrainpoolP384R1: firmware.KeyECBP384,
	KeyECBrainpoolP512R1: firmware.KeyECBP512,
	KeyECSecP192R1:       firmware.KeyECP192,
	KeyECSecP224R1:       firmware.KeyECP224,
	KeyECSecP256R1:       firmware.KeyECP256,
	KeyECSecP384R1:       firmware.KeyECP384,
	KeyECSecP521R1:       firmware.KeyECP521,
	KeyEC25519:           firmware.KeyX25519,
	KeyHMACMD5:           firmware.KeyHMACMD5,
	KeyHMACSHA1:          firmware.KeyHMACSHA1,
	KeyHMACSHA224:        firmware.KeyHMACSHA224,
	KeyHMACSHA256:        firmware.KeyHMACSHA256,
	KeyHMACSHA384:        firmware.KeyHMACSHA384,
	KeyHMACSHA512:        firmware.KeyHMACSHA512,
	KeyDH1024:            firmware.KeyDH1024,
	KeyDH2048:            firmware.KeyDH2048,
	KeyDH4096:            firmware.KeyDH4096,
}

var curveOpcodes = map[Curve]firmware.Opcode{
	CurveBrainpoolP256R1: firmware.KeyECBP256,
	CurveBrainpoolP384R1: firmware.KeyECBP384,
	CurveBrainpoolP512R1: firmware.KeyECBP512,
	CurveP192:            firmware.KeyECP192,
	CurveP224:            firmware.KeyECP224,
	CurveP256:            firmware.KeyECP256,
	CurveP384:            firmware.KeyECP384,
	CurveP521:            firmware.KeyECP521,
	Curve25519:           firmware.KeyX25519,
}

// hashOpcodes covers GetHash and the hash half of every signature opcode.
// MD5 and SHA-224 are not offered by the element.
var hashOpcodes = map[HashType]firmware.Opcode{
	HashSHA1:   firmware.HashSHA1,
	HashSHA256: firmware.HashSHA256,
	HashSHA384: firmware.HashSHA384,
	HashSHA512: firmware.HashSHA512,
}

var dhOpcodes = map[DHType]firmware.Opcode{
	DH1024: firmware.KeyDH1024,
	DH2048: firmware.KeyDH2048,
	DH4096: firmware.KeyDH4096,
}

var aesModeOpcodes = map[AESMode]firmware.Opcode{
	AESECBNoPad: firmware.ModeECB,
	AESECBPKCS7: firmware.ModeECB | firmware.FlagPKCS7,
	AESCBCNoPad: firmware.ModeCBC,
	AESCBCPKCS7: firmware.ModeCBC | firmware.FlagPKCS7,
	AESCTR:      firmware.ModeCTR,
}

func keyOpcode(op string, k KeyType) (firmware.Opcode, error) {
	code, ok := keyOpcodes[k]
	if !ok {
		return 0, notSupported(op, "key type %v", k)
	}
	return code, nil
}

func hashOpcode(op string, h HashType) (firmware.Opcode, error) {
	code, ok := hashOpcodes[h]
	if !ok {
		return 0, notSupported(op, "hash %v", h)
	}
	return code, nil
}

// ecdsaOpcode folds curve and hash into one command word. Curve25519 has no
// ECDSA and is rejected here.
func ecdsaOpcode(op string, mode ECDSAMode) (firmware.Opcode, error) {
	curve, ok := curveOpcodes[mode.Curve]
	if !ok || !curve.IsEC() {
		return 0, notSupported(op, "curve %v", mode.Curve)
	}
	hash, err := hashOpcode(op, mode.Hash)
	if err != nil {
		return 0, err
	}
	return curve | hash, nil
}

// rsaSignOpcode folds the hash and the PSS bit into one command word.
func rsaSignOpcode(op string, mode RSAMode) (firmware.Opcode, error) {
	hash, err := hashOpcode(op, mode.Hash)
	if err != nil {
		return 0, err
	}
	switch mode.Padding {
	case RSAPKCS1v15:
		return hash, nil
	case RSAPSS:
		if mode.MGF != HashUnknown && mode.MGF != mode.Hash {
			return 0, notSupported(op, "mgf1 hash %v differs from %v", mode.MGF, mode.Hash)
		}
		if mode.SaltLen != 0 && mode.SaltLen != hash.DigestSize() {
			return 0, notSupported(op, "pss salt length %d", mode.SaltLen)
		}
		return hash | firmware.FlagPSS, nil
	}
	return 0, notSupported(op, "rsa padding %d", mode.Padding)
}

// rsaCryptOpcode selects PKCS#1 v1.5 or OAEP encryption.
func rsaCryptOpcode(op string, mode RSAMode) (firmware.Opcode, error) {
	switch mode.Padding {
	case RSAPKCS1v15:
		return 0, nil
	case RSAOAEP:
		hash, err := hashOpcode(op, mode.Hash)
		if err != nil {
			return 0, err
		}
		return hash | firmware.FlagOAEP, nil
	}
	return 0, notSupported(op, "rsa padding %d", mode.Padding)
}

func aesOpcode(op string, mode AESMode) (firmware.Opcode, error) {
	code, ok := aesModeOpcodes[mode]
	if !ok {
		return 0, notSupported(op, "aes mode %d", mode)
	}
	return code, nil
}
