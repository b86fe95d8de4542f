//go:build cgo

package hsm

import (
	"crypto/x509"

	"github.com/miekg/pkcs11"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// ============================================================================
// Certificates
// ============================================================================

func certTemplate(slot uint32) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
		pkcs11.NewAttribute(pkcs11.CKA_CERTIFICATE_TYPE, pkcs11.CKC_X_509),
		pkcs11.NewAttribute(pkcs11.CKA_ID, objectID(slot)),
	}
}

// WriteCert stores cert as an X.509 certificate object. Tokens require the
// subject on creation, so cert must parse.
func (t *Token) WriteCert(slot uint32, cert []byte) firmware.Status {
	if st := t.check(slot); st != firmware.StatusOK {
		return st
	}
	parsed, err := x509.ParseCertificate(cert)
	if err != nil {
		return firmware.StatusBadInput
	}

	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		if _, st := t.destroy(c, s, certTemplate(slot)); st != firmware.StatusOK {
			return st
		}
		tmpl := append(certTemplate(slot),
			pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
			pkcs11.NewAttribute(pkcs11.CKA_LABEL, certLabel(slot)),
			pkcs11.NewAttribute(pkcs11.CKA_SUBJECT, parsed.RawSubject),
			pkcs11.NewAttribute(pkcs11.CKA_ISSUER, parsed.RawIssuer),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, cert),
		)
		if _, err := c.CreateObject(s, tmpl); err != nil {
			return t.status("create certificate", err)
		}
		return firmware.StatusOK
	})
}

func (t *Token) readValue(tmpl []*pkcs11.Attribute, out []byte) (int, firmware.Status) {
	var n int
	st := t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		o, st := t.object(c, s, tmpl)
		if st != firmware.StatusOK {
			return st
		}
		v, st := t.attr(c, s, o, pkcs11.CKA_VALUE)
		if st != firmware.StatusOK {
			return st
		}
		n, st = put(out, v)
		return st
	})
	return n, st
}

func (t *Token) ReadCert(slot uint32, out []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	return t.readValue(certTemplate(slot), out)
}

func (t *Token) DeleteCert(slot uint32) firmware.Status {
	if st := t.check(slot); st != firmware.StatusOK {
		return st
	}
	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		n, st := t.destroy(c, s, certTemplate(slot))
		if st == firmware.StatusOK && n == 0 {
			return firmware.StatusEmptySlot
		}
		return st
	})
}

func (t *Token) ReadFactoryCert(out []byte) (int, firmware.Status) {
	return t.readValue(certTemplate(firmware.FactoryCertSlot), out)
}

// ReadFactoryKey writes the EC point of the public key provisioned at the
// factory key slot.
func (t *Token) ReadFactoryKey(out []byte) (int, firmware.Status) {
	var n int
	st := t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		o, st := t.object(c, s, byClass(pkcs11.CKO_PUBLIC_KEY, firmware.FactoryKeySlot))
		if st != firmware.StatusOK {
			return st
		}
		v, st := t.attr(c, s, o, pkcs11.CKA_EC_POINT)
		if st != firmware.StatusOK {
			return st
		}
		n, st = put(out, unwrapPoint(v))
		return st
	})
	return n, st
}

// ============================================================================
// Secure storage
// ============================================================================

func (t *Token) WriteStorage(slot uint32, data []byte) firmware.Status {
	if st := t.check(slot); st != firmware.StatusOK {
		return st
	}
	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		if _, st := t.destroy(c, s, byStorage(slot)); st != firmware.StatusOK {
			return st
		}
		tmpl := append(byStorage(slot),
			pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
			pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, data),
		)
		if _, err := c.CreateObject(s, tmpl); err != nil {
			return t.status("create data object", err)
		}
		return firmware.StatusOK
	})
}

func (t *Token) ReadStorage(slot uint32, out []byte) (int, firmware.Status) {
	if st := t.check(slot); st != firmware.StatusOK {
		return 0, st
	}
	return t.readValue(byStorage(slot), out)
}

func (t *Token) DeleteStorage(slot uint32) firmware.Status {
	if st := t.check(slot); st != firmware.StatusOK {
		return st
	}
	return t.with(func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status {
		n, st := t.destroy(c, s, byStorage(slot))
		if st == firmware.StatusOK && n == 0 {
			return firmware.StatusEmptySlot
		}
		return st
	})
}
