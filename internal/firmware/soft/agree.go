package soft

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"math/big"

	"github.com/cloudflare/circl/dh/x25519"

	"github.com/remiblancher/sehal/pkg/firmware"
)

var ecdhCurves = map[firmware.Opcode]ecdh.Curve{
	firmware.KeyECP256: ecdh.P256(),
	firmware.KeyECP384: ecdh.P384(),
	firmware.KeyECP521: ecdh.P521(),
}

var one = big.NewInt(1)

// dhGroup checks p and g and returns them as integers.
func dhGroup(op firmware.Opcode, p, g []byte) (P, G *big.Int, st firmware.Status) {
	if !op.IsDH() || len(p) == 0 || len(p) > op.FieldBytes() {
		return nil, nil, firmware.StatusBadInput
	}
	P = new(big.Int).SetBytes(p)
	G = new(big.Int).SetBytes(g)
	if P.BitLen() < 2 || G.Cmp(one) <= 0 || G.Cmp(P) >= 0 {
		return nil, nil, firmware.StatusBadInput
	}
	return P, G, firmware.StatusOK
}

// DHGenerate draws an exponent x in [2, p-2], stores it with the group, and
// writes g^x mod p padded to the prime length.
func (e *Element) DHGenerate(op firmware.Opcode, slot uint32, p, g, pub []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	P, G, st := dhGroup(op, p, g)
	if st != firmware.StatusOK {
		return 0, st
	}

	limit := new(big.Int).Sub(P, big.NewInt(3))
	if limit.Sign() <= 0 {
		return 0, firmware.StatusBadInput
	}
	x, err := rand.Int(e.rand, limit)
	if err != nil {
		return 0, firmware.StatusFail
	}
	x.Add(x, big.NewInt(2))

	y := new(big.Int).Exp(G, x, P)
	out := y.FillBytes(make([]byte, len(p)))
	if len(pub) < len(out) {
		return 0, firmware.StatusOverflow
	}

	e.st.Keys[slot] = &record{
		Opcode: uint32(op.Key()),
		Pub:    out,
		Priv:   x.FillBytes(make([]byte, len(p))),
		Group:  bytes.Clone(p),
	}
	if st := e.save(); st != firmware.StatusOK {
		return 0, st
	}
	return copy(pub, out), firmware.StatusOK
}

// DHShared writes peer^x mod p. The prime must match the one the key was
// generated against, when known.
func (e *Element) DHShared(op firmware.Opcode, slot uint32, p, g, peer, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return 0, st
	}
	if rec.opcode() != op.Key() {
		return 0, firmware.StatusBadInput
	}
	P, _, st := dhGroup(op, p, g)
	if st != firmware.StatusOK {
		return 0, st
	}
	if rec.Group != nil && !bytes.Equal(rec.Group, p) {
		return 0, firmware.StatusBadInput
	}

	Y := new(big.Int).SetBytes(peer)
	top := new(big.Int).Sub(P, one)
	if Y.Cmp(one) <= 0 || Y.Cmp(top) >= 0 {
		return 0, firmware.StatusBadInput
	}
	z := new(big.Int).Exp(Y, new(big.Int).SetBytes(rec.Priv), P)
	secret := z.FillBytes(make([]byte, len(p)))
	n, st := put(out, secret)
	clear(secret)
	return n, st
}

// ECDHShared writes the X coordinate of the shared point, or the X25519
// shared secret.
func (e *Element) ECDHShared(op firmware.Opcode, slot uint32, peer, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot, firmware.FactoryKeySlot); st != firmware.StatusOK {
		return 0, st
	}
	rec, st := e.key(slot)
	if st != firmware.StatusOK {
		return 0, st
	}
	if rec.opcode() != op.Key() || rec.Priv == nil {
		return 0, firmware.StatusBadInput
	}

	if op.Key() == firmware.KeyX25519 {
		if len(peer) != x25519.Size {
			return 0, firmware.StatusBadInput
		}
		var secret, public, shared x25519.Key
		copy(secret[:], rec.Priv)
		copy(public[:], peer)
		ok := x25519.Shared(&shared, &secret, &public)
		clear(secret[:])
		if !ok {
			return 0, firmware.StatusBadInput
		}
		n, st := put(out, shared[:])
		clear(shared[:])
		return n, st
	}

	curve, ok := ecdhCurves[op.Key()]
	if !ok {
		return 0, firmware.StatusUnsupported
	}
	priv, err := curve.NewPrivateKey(rec.Priv)
	if err != nil {
		return 0, firmware.StatusFail
	}
	pub, err := curve.NewPublicKey(peer)
	if err != nil {
		return 0, firmware.StatusBadInput
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return 0, firmware.StatusBadInput
	}
	n, st := put(out, secret)
	clear(secret)
	return n, st
}
