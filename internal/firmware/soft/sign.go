package soft

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"io"
	"math/big"

	"github.com/remiblancher/sehal/pkg/firmware"
)

var hashes = map[firmware.Opcode]crypto.Hash{
	firmware.HashSHA1:   crypto.SHA1,
	firmware.HashSHA224: crypto.SHA224,
	firmware.HashSHA256: crypto.SHA256,
	firmware.HashSHA384: crypto.SHA384,
	firmware.HashSHA512: crypto.SHA512,
}

func hashOf(op firmware.Opcode) (crypto.Hash, firmware.Status) {
	h, ok := hashes[op.Hash()]
	if !ok {
		return 0, firmware.StatusUnsupported
	}
	return h, firmware.StatusOK
}

func (e *Element) GenerateRandom(out []byte) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return firmware.StatusNotReady
	}
	if _, err := io.ReadFull(e.rand, out); err != nil {
		return firmware.StatusFail
	}
	return firmware.StatusOK
}

func (e *Element) Hash(op firmware.Opcode, msg, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	ready := e.ready
	e.mu.Unlock()
	if !ready {
		return 0, firmware.StatusNotReady
	}

	var sum []byte
	switch op.Hash() {
	case firmware.HashSHA1:
		h := sha1.Sum(msg)
		sum = h[:]
	case firmware.HashSHA224:
		h := sha256.Sum224(msg)
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

// ECDSASign writes r and s as fixed-width big-endian values of the field size.
func (e *Element) ECDSASign(op firmware.Opcode, slot uint32, hash, r, s []byte) (int, int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return 0, 0, st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return 0, 0, st
	}
	if rec.opcode() != op.Key() {
		return 0, 0, firmware.StatusBadInput
	}
	priv, st := ecPrivate(rec)
	if st != firmware.StatusOK {
		return 0, 0, st
	}

	R, S, err := ecdsa.Sign(e.rand, priv, hash)
	if err != nil {
		return 0, 0, firmware.StatusFail
	}
	size := op.FieldBytes()
	if len(r) < size || len(s) < size {
		return 0, 0, firmware.StatusOverflow
	}
	R.FillBytes(r[:size])
	S.FillBytes(s[:size])
	return size, size, firmware.StatusOK
}

func (e *Element) ECDSAVerify(op firmware.Opcode, slot uint32, hash, r, s []byte) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return st
	}
	if rec.opcode() != op.Key() {
		return firmware.StatusBadInput
	}
	pub, st := ecPublic(rec)
	if st != firmware.StatusOK {
		return st
	}
	if !ecdsa.Verify(pub, hash, new(big.Int).SetBytes(r), new(big.Int).SetBytes(s)) {
		return firmware.StatusVerifyFail
	}
	return firmware.StatusOK
}

func (e *Element) RSASign(op firmware.Opcode, slot uint32, hash, sig []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return 0, st
	}
	priv, st := rsaPrivate(rec)
	if st != firmware.StatusOK {
		return 0, st
	}
	h, st := hashOf(op)
	if st != firmware.StatusOK {
		return 0, st
	}

	var out []byte
	var err error
	if op.Has(firmware.FlagPSS) {
		out, err = rsa.SignPSS(e.rand, priv, h, hash, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	} else {
		out, err = rsa.SignPKCS1v15(e.rand, priv, h, hash)
	}
	if err != nil {
		return 0, firmware.StatusBadInput
	}
	return put(sig, out)
}

func (e *Element) RSAVerify(op firmware.Opcode, slot uint32, hash, sig []byte) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return st
	}
	pub, st := rsaPublic(rec)
	if st != firmware.StatusOK {
		return st
	}
	h, st := hashOf(op)
	if st != firmware.StatusOK {
		return st
	}

	var err error
	if op.Has(firmware.FlagPSS) {
		err = rsa.VerifyPSS(pub, h, hash, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	} else {
		err = rsa.VerifyPKCS1v15(pub, h, hash, sig)
	}
	if err != nil {
		return firmware.StatusVerifyFail
	}
	return firmware.StatusOK
}

func (e *Element) RSAEncrypt(op firmware.Opcode, slot uint32, in, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return 0, st
	}
	pub, st := rsaPublic(rec)
	if st != firmware.StatusOK {
		return 0, st
	}

	var ct []byte
	var err error
	if op.Has(firmware.FlagOAEP) {
		h, st := hashOf(op)
		if st != firmware.StatusOK {
			return 0, st
		}
		ct, err = rsa.EncryptOAEP(h.New(), e.rand, pub, in, nil)
	} else {
		ct, err = rsa.EncryptPKCS1v15(e.rand, pub, in)
	}
	if err != nil {
		return 0, firmware.StatusBadInput
	}
	return put(out, ct)
}

func (e *Element) RSADecrypt(op firmware.Opcode, slot uint32, in, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return 0, st
	}
	priv, st := rsaPrivate(rec)
	if st != firmware.StatusOK {
		return 0, st
	}

	var pt []byte
	var err error
	if op.Has(firmware.FlagOAEP) {
		h, st := hashOf(op)
		if st != firmware.StatusOK {
			return 0, st
		}
		pt, err = rsa.DecryptOAEP(h.New(), nil, priv, in, nil)
	} else {
		pt, err = rsa.DecryptPKCS1v15(nil, priv, in)
	}
	if err != nil {
		return 0, firmware.StatusBadInput
	}
	n, st := put(out, pt)
	clear(pt)
	return n, st
}
