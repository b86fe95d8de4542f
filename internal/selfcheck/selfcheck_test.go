package selfcheck

import (
	"context"
	"strings"
	"testing"

	"github.com/remiblancher/sehal/internal/firmware/fwtest"
	"github.com/remiblancher/sehal/internal/firmware/soft"
	"github.com/remiblancher/sehal/pkg/audit"
	"github.com/remiblancher/sehal/pkg/firmware"
	"github.com/remiblancher/sehal/pkg/hal"
)

func captureAudit(t *testing.T) *audit.MemoryWriter {
	t.Helper()
	mem := audit.NewMemoryWriter()
	if err := audit.Init(mem); err != nil {
		t.Fatalf("audit.Init() error = %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })
	return mem
}

func lastSelfCheck(t *testing.T, mem *audit.MemoryWriter) *audit.Event {
	t.Helper()
	for i := len(mem.Events) - 1; i >= 0; i-- {
		if mem.Events[i].EventType == audit.EventSelfCheck {
			return mem.Events[i]
		}
	}
	t.Fatal("no SELF_CHECK audit event")
	return nil
}

func stepNames(r *Report) []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}

// =============================================================================
// Run Tests
// =============================================================================

func TestU_Run_SoftElementPasses(t *testing.T) {
	mem := captureAudit(t)
	el, err := soft.New(soft.Options{})
	if err != nil {
		t.Fatalf("soft.New() error = %v", err)
	}
	dev := hal.New(el, hal.Config{Backend: "soft"})
	ctx := context.Background()
	if err := dev.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	report, err := Run(ctx, dev, "soft")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !report.OK() {
		t.Fatalf("Run() report failed:\n%s", report)
	}
	want := []string{StepStatus, StepRandom, StepHash, StepFactoryCert, StepFactorySign, StepFactoryVerify}
	if got := stepNames(report); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("steps = %v, want %v", got, want)
	}
	if !strings.Contains(report.Subject, "sehal") {
		t.Errorf("Subject = %q", report.Subject)
	}

	ev := lastSelfCheck(t, mem)
	if ev.Result != audit.ResultSuccess || ev.Object.Backend != "soft" {
		t.Errorf("audit event = %+v", ev)
	}
}

func TestU_Run_StopsAtFirstFailure(t *testing.T) {
	mem := captureAudit(t)
	fw := fwtest.New()
	fw.Fail["GenerateRandom"] = firmware.StatusFail
	dev := hal.New(fw, hal.Config{Backend: "fwtest"})

	report, err := Run(context.Background(), dev, "fwtest")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.OK() {
		t.Fatal("Run() should report failure")
	}
	if len(report.Steps) != 2 || report.Steps[1].Name != StepRandom || report.Steps[1].OK {
		t.Fatalf("steps = %+v", report.Steps)
	}
	if err := report.Err(); err == nil || !strings.Contains(err.Error(), StepRandom) {
		t.Errorf("Err() = %v", err)
	}
	if !strings.Contains(report.String(), "FAIL") {
		t.Errorf("String() = %q", report.String())
	}

	ev := lastSelfCheck(t, mem)
	if ev.Result != audit.ResultFailure || !strings.Contains(ev.Context.Reason, StepRandom) {
		t.Errorf("audit event = %+v", ev)
	}
}

func TestU_Run_UnparseableFactoryCert(t *testing.T) {
	captureAudit(t)
	fw := fwtest.New()
	fw.FactoryCert = []byte{0x30, 0x03, 0x02, 0x01, 0x01}
	dev := hal.New(fw, hal.Config{Backend: "fwtest"})

	report, err := Run(context.Background(), dev, "fwtest")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	last := report.Steps[len(report.Steps)-1]
	if last.Name != StepFactoryCert || last.OK {
		t.Fatalf("last step = %+v, want failed %s", last, StepFactoryCert)
	}
	if !strings.Contains(last.Err.Error(), "does not parse") {
		t.Errorf("error = %v", last.Err)
	}
}

func TestU_Report_Empty(t *testing.T) {
	var r Report
	if r.OK() {
		t.Error("empty report should not be OK")
	}
	if r.Err() != nil {
		t.Error("empty report has no failure")
	}
}
