//go:build cgo

package hsm

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/remiblancher/sehal/pkg/firmware"
)

// Token is a firmware.Mailbox backed by a PKCS#11 token. It is safe for
// concurrent use; each command runs on its own pooled session.
type Token struct {
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	pool *sessionPool
}

var _ firmware.Mailbox = (*Token)(nil)

// New returns an unopened Token. Nothing touches the module until Init.
func New(opts Options) (*Token, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	return &Token{opts: opts, log: opts.Logger}, nil
}

// Open returns New(opts) as a mailbox.
func Open(opts Options) (firmware.Mailbox, error) {
	t, err := New(opts)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Token) Init() firmware.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool != nil {
		return firmware.StatusOK
	}
	pool, err := getSessionPool(t.opts)
	if err != nil {
		t.log.Error("hsm init failed", "lib", t.opts.Lib, "token", t.opts.Token, "error", err)
		return firmware.StatusNotReady
	}
	// Open one session up front so a bad PIN fails here.
	_, release, err := pool.acquire()
	if err != nil {
		t.log.Error("hsm login failed", "token", t.opts.Token, "error", err)
		return firmware.StatusNotReady
	}
	release()

	t.pool = pool
	t.log.Debug("hsm ready", "lib", t.opts.Lib, "slot_id", pool.slotID)
	return firmware.StatusOK
}

func (t *Token) Deinit() firmware.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool == nil {
		return firmware.StatusOK
	}
	err := t.pool.close()
	t.pool = nil
	if err != nil {
		t.log.Warn("hsm close failed", "error", err)
		return firmware.StatusFail
	}
	return firmware.StatusOK
}

// Busy is always false. PKCS#11 calls block until they complete.
func (t *Token) Busy() bool { return false }

func (t *Token) Reset() {
	t.log.Debug("hsm reset")
}

// with runs fn on a pooled session.
func (t *Token) with(fn func(c *pkcs11.Ctx, s pkcs11.SessionHandle) firmware.Status) firmware.Status {
	t.mu.Lock()
	pool := t.pool
	t.mu.Unlock()
	if pool == nil {
		return firmware.StatusNotReady
	}

	s, release, err := pool.acquire()
	if err != nil {
		t.log.Warn("hsm session unavailable", "error", err)
		return firmware.StatusFail
	}
	defer release()
	return fn(pool.ctx, s)
}

func (t *Token) check(slot uint32, extra ...uint32) firmware.Status {
	if slot < t.opts.Slots || slices.Contains(extra, slot) {
		return firmware.StatusOK
	}
	return firmware.StatusSlotRange
}

// status maps a PKCS#11 return value onto a firmware status.
func (t *Token) status(call string, err error) firmware.Status {
	t.log.Debug("pkcs11 call failed", "call", call, "error", err)

	var rv pkcs11.Error
	if !errors.As(err, &rv) {
		return firmware.StatusFail
	}
	switch uint(rv) {
	case pkcs11.CKR_SIGNATURE_INVALID, pkcs11.CKR_SIGNATURE_LEN_RANGE:
		return firmware.StatusVerifyFail
	case pkcs11.CKR_MECHANISM_INVALID, pkcs11.CKR_MECHANISM_PARAM_INVALID,
		pkcs11.CKR_KEY_TYPE_INCONSISTENT, pkcs11.CKR_FUNCTION_NOT_SUPPORTED,
		pkcs11.CKR_CURVE_NOT_SUPPORTED, pkcs11.CKR_ATTRIBUTE_VALUE_INVALID:
		return firmware.StatusUnsupported
	case pkcs11.CKR_BUFFER_TOO_SMALL:
		return firmware.StatusOverflow
	case pkcs11.CKR_ARGUMENTS_BAD, pkcs11.CKR_DATA_INVALID, pkcs11.CKR_DATA_LEN_RANGE,
		pkcs11.CKR_ENCRYPTED_DATA_INVALID, pkcs11.CKR_ENCRYPTED_DATA_LEN_RANGE,
		pkcs11.CKR_KEY_SIZE_RANGE, pkcs11.CKR_TEMPLATE_INCONSISTENT:
		return firmware.StatusBadInput
	case pkcs11.CKR_DEVICE_MEMORY, pkcs11.CKR_DEVICE_ERROR:
		return firmware.StatusStorage
	case pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED, pkcs11.CKR_USER_NOT_LOGGED_IN,
		pkcs11.CKR_SESSION_HANDLE_INVALID, pkcs11.CKR_TOKEN_NOT_PRESENT:
		return firmware.StatusNotReady
	}
	return firmware.StatusFail
}

func put(out, b []byte) (int, firmware.Status) {
	if len(out) < len(b) {
		return 0, firmware.StatusOverflow
	}
	return copy(out, b), firmware.StatusOK
}

// putPadded left-pads b with zeros to size.
func putPadded(out, b []byte, size int) (int, firmware.Status) {
	if len(b) > size {
		return 0, firmware.StatusFail
	}
	if len(out) < size {
		return 0, firmware.StatusOverflow
	}
	pad := size - len(b)
	clear(out[:pad])
	copy(out[pad:], b)
	return size, firmware.StatusOK
}
