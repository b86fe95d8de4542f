// Package hsm implements the firmware mailbox on top of a PKCS#11 token.
//
// Every HAL slot maps to token objects whose CKA_ID is the big-endian slot
// index. Keys are created as token objects, certificates as X.509 certificate
// objects and storage blocks as data objects owned by the "sehal"
// application. The factory slots are read from whatever objects the token
// was provisioned with; Init does not create them.
//
// PKCS#11 support needs cgo. Without it Open always fails.
package hsm

import (
	"errors"
	"log/slog"
)

// DefaultSlots is the number of general-purpose slots when Options.Slots is zero.
const DefaultSlots = 32

// Options selects the module and token.
type Options struct {
	// Lib is the path to the PKCS#11 module.
	Lib string

	// Token is the token label. Empty with a nil SlotID picks the first token.
	Token string

	// SlotID selects the PKCS#11 slot directly.
	SlotID *uint

	// PIN is the user PIN. Empty skips login.
	PIN string

	// Slots is the number of general-purpose HAL slots.
	Slots uint32

	Logger *slog.Logger
}

// ErrNoCGO is returned by Open in builds without cgo.
var ErrNoCGO = errors.New("hsm: PKCS#11 support requires cgo (build with CGO_ENABLED=1)")

func (o *Options) defaults() error {
	if o.Lib == "" {
		return errors.New("hsm: module library path is required")
	}
	if o.Slots == 0 {
		o.Slots = DefaultSlots
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}
