// Package selfcheck runs the provisioning checks a freshly initialized
// element must pass before it is put into service.
package selfcheck

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/remiblancher/sehal/pkg/audit"
	"github.com/remiblancher/sehal/pkg/firmware"
	"github.com/remiblancher/sehal/pkg/hal"
)

// Step names, in run order.
const (
	StepStatus        = "status"
	StepRandom        = "random"
	StepHash          = "hash"
	StepFactoryCert   = "factory_cert"
	StepFactorySign   = "factory_sign"
	StepFactoryVerify = "factory_verify"
)

// Step is the outcome of one check.
type Step struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

// Report lists every step that ran. A failed step stops the run.
type Report struct {
	Backend string `json:"backend"`
	Steps   []Step `json:"steps"`

	// Subject is the factory certificate subject, once read.
	Subject string `json:"subject,omitempty"`
}

// OK reports whether every step passed.
func (r *Report) OK() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return len(r.Steps) > 0
}

// Err returns the first failure, or nil.
func (r *Report) Err() error {
	for _, s := range r.Steps {
		if !s.OK {
			return fmt.Errorf("self-check step %s failed: %w", s.Name, s.Err)
		}
	}
	return nil
}

// String renders one line per step.
func (r *Report) String() string {
	var b strings.Builder
	for _, s := range r.Steps {
		mark := "ok"
		if !s.OK {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "%-16s %-4s", s.Name, mark)
		if s.Detail != "" {
			fmt.Fprintf(&b, " %s", s.Detail)
		}
		if s.Err != nil {
			fmt.Fprintf(&b, " (%v)", s.Err)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

type runner struct {
	ctx    context.Context
	dev    hal.Ops
	report *Report
}

func (r *runner) step(name string, fn func() (string, error)) bool {
	detail, err := fn()
	r.report.Steps = append(r.report.Steps, Step{Name: name, OK: err == nil, Detail: detail, Err: err})
	return err == nil
}

// Run checks the element: idle status, random and hash generation, a
// parseable factory certificate, and a factory-key signature over a fresh
// random digest that verifies both with crypto/ecdsa against the
// certificate and through the element. The outcome is audited; an audit
// failure is returned as the error.
func Run(ctx context.Context, dev hal.Ops, backend string) (*Report, error) {
	r := &runner{ctx: ctx, dev: dev, report: &Report{Backend: backend}}
	r.run()

	reason := ""
	if err := r.report.Err(); err != nil {
		reason = err.Error()
	}
	if err := audit.LogSelfCheck(backend, r.report.OK(), reason); err != nil {
		return r.report, err
	}
	return r.report, nil
}

func (r *runner) run() {
	if !r.step(StepStatus, func() (string, error) {
		return "", r.dev.Status(r.ctx)
	}) {
		return
	}

	nonce := hal.NewData(32)
	if !r.step(StepRandom, func() (string, error) {
		if err := r.dev.GenerateRandom(r.ctx, 32, nonce); err != nil {
			return "", err
		}
		if nonce.Len != 32 {
			return "", fmt.Errorf("got %d random bytes", nonce.Len)
		}
		return "32 bytes", nil
	}) {
		return
	}

	digest := hal.NewData(32)
	if !r.step(StepHash, func() (string, error) {
		if err := r.dev.GetHash(r.ctx, hal.HashSHA256, nonce, digest); err != nil {
			return "", err
		}
		want := sha256.Sum256(nonce.Bytes())
		if !bytes.Equal(want[:], digest.Bytes()) {
			return "", errors.New("element digest differs from crypto/sha256")
		}
		return "sha256", nil
	}) {
		return
	}

	var pub *ecdsa.PublicKey
	if !r.step(StepFactoryCert, func() (string, error) {
		data := hal.NewData(hal.DefaultMaxCertSize)
		if err := r.dev.GetCertificate(r.ctx, firmware.FactoryCertSlot, data); err != nil {
			return "", err
		}
		cert, err := x509.ParseCertificate(data.Bytes())
		if err != nil {
			return "", fmt.Errorf("factory certificate does not parse: %w", err)
		}
		k, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return "", fmt.Errorf("factory certificate key is %T, want ECDSA", cert.PublicKey)
		}
		pub = k
		r.report.Subject = cert.Subject.String()
		return r.report.Subject, nil
	}) {
		return
	}

	mode := hal.ECDSAMode{Curve: hal.CurveP256, Hash: hal.HashSHA256}
	sig := hal.NewData(hal.MaxSignatureLen)
	if !r.step(StepFactorySign, func() (string, error) {
		if err := r.dev.ECDSASignMD(r.ctx, mode, digest, firmware.FactoryKeySlot, sig); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d byte signature", sig.Len), nil
	}) {
		return
	}

	r.step(StepFactoryVerify, func() (string, error) {
		if !ecdsa.VerifyASN1(pub, digest.Bytes(), sig.Bytes()) {
			return "", errors.New("factory signature does not verify against the factory certificate")
		}
		if err := r.dev.ECDSAVerifyMD(r.ctx, mode, digest, sig, firmware.FactoryKeySlot); err != nil {
			return "", fmt.Errorf("element rejects its own signature: %w", err)
		}
		return "", nil
	})
}
