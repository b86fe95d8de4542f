//go:build !cgo

package hsm

import "github.com/remiblancher/sehal/pkg/firmware"

// Open always fails without cgo.
func Open(opts Options) (firmware.Mailbox, error) {
	return nil, ErrNoCGO
}

// CloseAll is a no-op without cgo.
func CloseAll() {}
