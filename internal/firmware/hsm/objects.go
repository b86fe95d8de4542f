//go:build cgo

package hsm

import (
	"bytes"
	"encoding/asn1"
	"encoding/binary"
	"fmt"

	"github.com/miekg/pkcs11"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/sehal/pkg/firmware"
)

const application = "sehal"

func objectID(slot uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, slot)
}

func keyLabel(slot uint32) string     { return fmt.Sprintf("sehal-key-%08x", slot) }
func certLabel(slot uint32) string    { return fmt.Sprintf("sehal-cert-%08x", slot) }
func storageLabel(slot uint32) string { return fmt.Sprintf("sehal-ss-%08x", slot) }

func byClass(class uint, slot uint32) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_ID, objectID(slot)),
	}
}

func byStorage(slot uint32) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_DATA),
		pkcs11.NewAttribute(pkcs11.CKA_APPLICATION, application),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, storageLabel(slot)),
	}
}

func findAll(c *pkcs11.Ctx, s pkcs11.SessionHandle, tmpl []*pkcs11.Attribute) ([]pkcs11.ObjectHandle, error) {
	if err := c.FindObjectsInit(s, tmpl); err != nil {
		return nil, err
	}
	var all []pkcs11.ObjectHandle
	for {
		objs, _, err := c.FindObjects(s, 16)
		if err != nil {
			_ = c.FindObjectsFinal(s)
			return nil, err
		}
		if len(objs) == 0 {
			break
		}
		all = append(all, objs...)
	}
	return all, c.FindObjectsFinal(s)
}

// object finds the single object matching tmpl. A missing object reports
// StatusEmptySlot.
func (t *Token) object(c *pkcs11.Ctx, s pkcs11.SessionHandle, tmpl []*pkcs11.Attribute) (pkcs11.ObjectHandle, firmware.Status) {
	objs, err := findAll(c, s, tmpl)
	if err != nil {
		return 0, t.status("find", err)
	}
	if len(objs) == 0 {
		return 0, firmware.StatusEmptySlot
	}
	return objs[0], firmware.StatusOK
}

// destroy removes every object matching each template and reports how many
// went away.
func (t *Token) destroy(c *pkcs11.Ctx, s pkcs11.SessionHandle, tmpls ...[]*pkcs11.Attribute) (int, firmware.Status) {
	n := 0
	for _, tmpl := range tmpls {
		objs, err := findAll(c, s, tmpl)
		if err != nil {
			return n, t.status("find", err)
		}
		for _, o := range objs {
			if err := c.DestroyObject(s, o); err != nil {
				return n, t.status("destroy", err)
			}
			n++
		}
	}
	return n, firmware.StatusOK
}

func keyTemplates(slot uint32) [][]*pkcs11.Attribute {
	return [][]*pkcs11.Attribute{
		byClass(pkcs11.CKO_PRIVATE_KEY, slot),
		byClass(pkcs11.CKO_PUBLIC_KEY, slot),
		byClass(pkcs11.CKO_SECRET_KEY, slot),
	}
}

func (t *Token) attr(c *pkcs11.Ctx, s pkcs11.SessionHandle, o pkcs11.ObjectHandle, typ uint) ([]byte, firmware.Status) {
	attrs, err := c.GetAttributeValue(s, o, []*pkcs11.Attribute{pkcs11.NewAttribute(typ, nil)})
	if err != nil {
		return nil, t.status("get attribute", err)
	}
	if len(attrs) == 0 {
		return nil, firmware.StatusFail
	}
	return attrs[0].Value, firmware.StatusOK
}

// ulong decodes a CK_ULONG attribute in host byte order.
func ulong(b []byte) uint {
	switch len(b) {
	case 8:
		return uint(binary.NativeEndian.Uint64(b))
	case 4:
		return uint(binary.NativeEndian.Uint32(b))
	}
	return ^uint(0)
}

var curveOIDs = map[firmware.Opcode]asn1.ObjectIdentifier{
	firmware.KeyECP192:  {1, 2, 840, 10045, 3, 1, 1},
	firmware.KeyECP224:  {1, 3, 132, 0, 33},
	firmware.KeyECP256:  {1, 2, 840, 10045, 3, 1, 7},
	firmware.KeyECP384:  {1, 3, 132, 0, 34},
	firmware.KeyECP521:  {1, 3, 132, 0, 35},
	firmware.KeyECBP256: {1, 3, 36, 3, 3, 2, 8, 1, 1, 7},
	firmware.KeyECBP384: {1, 3, 36, 3, 3, 2, 8, 1, 1, 11},
	firmware.KeyECBP512: {1, 3, 36, 3, 3, 2, 8, 1, 1, 13},
}

// ecParams returns the DER named-curve OID used as CKA_EC_PARAMS.
func ecParams(op firmware.Opcode) ([]byte, firmware.Status) {
	oid, ok := curveOIDs[op.Key()]
	if !ok {
		return nil, firmware.StatusUnsupported
	}
	var b cryptobyte.Builder
	b.AddASN1ObjectIdentifier(oid)
	der, err := b.Bytes()
	if err != nil {
		return nil, firmware.StatusFail
	}
	return der, firmware.StatusOK
}

// wrapPoint encodes an uncompressed point as the OCTET STRING CKA_EC_POINT
// expects.
func wrapPoint(point []byte) []byte {
	var b cryptobyte.Builder
	b.AddASN1OctetString(point)
	return b.BytesOrPanic()
}

// unwrapPoint strips the OCTET STRING around CKA_EC_POINT. Tokens that
// return the bare point are handled too.
func unwrapPoint(v []byte) []byte {
	in := cryptobyte.String(v)
	var point cryptobyte.String
	if in.ReadASN1(&point, cbasn1.OCTET_STRING) && in.Empty() && len(point) > 0 && point[0] == 0x04 {
		return point
	}
	return v
}

func keyType(op firmware.Opcode) (uint, firmware.Status) {
	switch {
	case op.IsEC():
		return pkcs11.CKK_EC, firmware.StatusOK
	case op.IsRSA():
		return pkcs11.CKK_RSA, firmware.StatusOK
	case op.IsAES():
		return pkcs11.CKK_AES, firmware.StatusOK
	case op.IsHMAC():
		return pkcs11.CKK_GENERIC_SECRET, firmware.StatusOK
	case op.IsDH():
		return pkcs11.CKK_DH, firmware.StatusOK
	}
	return 0, firmware.StatusUnsupported
}

// matches checks that the key object o is of the type op selects. EC keys
// must also be on the selected curve.
func (t *Token) matches(c *pkcs11.Ctx, s pkcs11.SessionHandle, o pkcs11.ObjectHandle, op firmware.Opcode) firmware.Status {
	want, st := keyType(op)
	if st != firmware.StatusOK {
		return st
	}
	v, st := t.attr(c, s, o, pkcs11.CKA_KEY_TYPE)
	if st != firmware.StatusOK {
		return st
	}
	if ulong(v) != want {
		return firmware.StatusBadInput
	}
	if !op.IsEC() {
		return firmware.StatusOK
	}
	params, st := ecParams(op)
	if st != firmware.StatusOK {
		return st
	}
	got, st := t.attr(c, s, o, pkcs11.CKA_EC_PARAMS)
	if st != firmware.StatusOK {
		return st
	}
	if !bytes.Equal(got, params) {
		return firmware.StatusBadInput
	}
	return firmware.StatusOK
}

// key finds the key object of class at slot and checks it against op.
func (t *Token) key(c *pkcs11.Ctx, s pkcs11.SessionHandle, class uint, op firmware.Opcode, slot uint32) (pkcs11.ObjectHandle, firmware.Status) {
	o, st := t.object(c, s, byClass(class, slot))
	if st != firmware.StatusOK {
		return 0, st
	}
	if op.Key() == 0 {
		return o, firmware.StatusOK
	}
	if st := t.matches(c, s, o, op); st != firmware.StatusOK {
		return 0, st
	}
	return o, firmware.StatusOK
}
