//go:build cgo

package hsm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// sessionPool hands out logged-in sessions on one token. Pools are shared
// per module and token selector since C_Initialize is process-wide.
type sessionPool struct {
	mu        sync.Mutex
	ctx       *pkcs11.Ctx
	key       string
	slotID    uint
	pin       string
	available []pkcs11.SessionHandle
	inUse     map[pkcs11.SessionHandle]bool
	loggedIn  bool
	closed    bool
}

var (
	pools   = make(map[string]*sessionPool)
	poolsMu sync.Mutex
)

func selectorKey(opts Options) string {
	if opts.SlotID != nil {
		return fmt.Sprintf("%s:slot=%d", opts.Lib, *opts.SlotID)
	}
	return fmt.Sprintf("%s:token=%s", opts.Lib, opts.Token)
}

func isCKR(err error, rv uint) bool {
	var e pkcs11.Error
	return errors.As(err, &e) && uint(e) == rv
}

// getSessionPool loads the module, finds the slot and returns the shared
// pool for it.
func getSessionPool(opts Options) (*sessionPool, error) {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	key := selectorKey(opts)
	if p, ok := pools[key]; ok {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			return p, nil
		}
		delete(pools, key)
	}

	ctx := pkcs11.New(opts.Lib)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", opts.Lib)
	}
	if err := ctx.Initialize(); err != nil && !isCKR(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		ctx.Destroy()
		return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
	}

	slotID, err := findSlot(ctx, opts)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}

	p := &sessionPool{
		ctx:    ctx,
		key:    key,
		slotID: slotID,
		pin:    opts.PIN,
		inUse:  make(map[pkcs11.SessionHandle]bool),
	}
	pools[key] = p
	return p, nil
}

func findSlot(ctx *pkcs11.Ctx, opts Options) (uint, error) {
	if opts.SlotID != nil {
		return *opts.SlotID, nil
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	if len(slots) == 0 {
		return 0, errors.New("no slots with tokens found")
	}
	if opts.Token == "" {
		return slots[0], nil
	}
	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if info.Label == opts.Token {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("token with label %q not found", opts.Token)
}

// acquire returns a session and the func that gives it back.
func (p *sessionPool) acquire() (pkcs11.SessionHandle, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, errors.New("session pool is closed")
	}

	var session pkcs11.SessionHandle
	if n := len(p.available); n > 0 {
		session = p.available[n-1]
		p.available = p.available[:n-1]
	} else {
		var err error
		session, err = p.ctx.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to open session: %w", err)
		}
		// Login state is per token, so one login covers later sessions.
		if p.pin != "" && !p.loggedIn {
			if err := p.ctx.Login(session, pkcs11.CKU_USER, p.pin); err != nil && !isCKR(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
				_ = p.ctx.CloseSession(session)
				return 0, nil, fmt.Errorf("failed to login: %w", err)
			}
			p.loggedIn = true
		}
	}
	p.inUse[session] = true

	release := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.inUse, session)
		if p.closed {
			_ = p.ctx.CloseSession(session)
			return
		}
		p.available = append(p.available, session)
	}
	return session, release, nil
}

// close logs out, closes every session and finalizes the module.
func (p *sessionPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	sessions := append([]pkcs11.SessionHandle(nil), p.available...)
	for s := range p.inUse {
		sessions = append(sessions, s)
	}
	if p.loggedIn && len(sessions) > 0 {
		if err := p.ctx.Logout(sessions[0]); err != nil && !isCKR(err, pkcs11.CKR_USER_NOT_LOGGED_IN) {
			errs = append(errs, fmt.Errorf("logout: %w", err))
		}
	}
	for _, s := range sessions {
		if err := p.ctx.CloseSession(s); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	if err := p.ctx.Finalize(); err != nil && !isCKR(err, pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED) {
		errs = append(errs, fmt.Errorf("finalize: %w", err))
	}
	p.ctx.Destroy()

	poolsMu.Lock()
	delete(pools, p.key)
	poolsMu.Unlock()

	return errors.Join(errs...)
}

// CloseAll closes every open pool. Call it once at program exit.
func CloseAll() {
	poolsMu.Lock()
	open := make([]*sessionPool, 0, len(pools))
	for _, p := range pools {
		open = append(open, p)
	}
	poolsMu.Unlock()

	for _, p := range open {
		_ = p.close()
	}
}
