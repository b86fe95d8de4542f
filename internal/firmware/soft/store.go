package soft

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"

	"github.com/remiblancher/sehal/pkg/firmware"
)

func (e *Element) WriteCert(slot uint32, cert []byte) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return st
	}
	if len(cert) == 0 {
		return firmware.StatusBadInput
	}
	e.st.Certs[slot] = bytes.Clone(cert)
	return e.save()
}

func (e *Element) ReadCert(slot uint32, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	cert, ok := e.st.Certs[slot]
	if !ok {
		return 0, firmware.StatusEmptySlot
	}
	return put(out, cert)
}

func (e *Element) DeleteCert(slot uint32) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return st
	}
	if _, ok := e.st.Certs[slot]; !ok {
		return firmware.StatusEmptySlot
	}
	delete(e.st.Certs, slot)
	return e.save()
}

func (e *Element) ReadFactoryCert(out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return 0, firmware.StatusNotReady
	}
	return put(out, e.st.FactoryCert)
}

// ReadFactoryKey writes the factory public key as an uncompressed P-256 point.
func (e *Element) ReadFactoryKey(out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return 0, firmware.StatusNotReady
	}
	priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), e.st.FactoryKey)
	if err != nil {
		return 0, firmware.StatusFail
	}
	pub, err := priv.PublicKey.Bytes()
	if err != nil {
		return 0, firmware.StatusFail
	}
	return put(out, pub)
}

func (e *Element) WriteStorage(slot uint32, data []byte) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return st
	}
	e.st.Storage[slot] = bytes.Clone(data)
	return e.save()
}

func (e *Element) ReadStorage(slot uint32, out []byte) (int, firmware.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	data, ok := e.st.Storage[slot]
	if !ok {
		return 0, firmware.StatusEmptySlot
	}
	return put(out, data)
}

func (e *Element) DeleteStorage(slot uint32) firmware.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.check(slot); st != firmware.StatusOK {
		return st
	}
	data, ok := e.st.Storage[slot]
	if !ok {
		return firmware.StatusEmptySlot
	}
	clear(data)
	delete(e.st.Storage, slot)
	return e.save()
}
