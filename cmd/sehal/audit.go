package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/sehal/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for verifying and reading the element audit log.

Key, certificate and storage changes, device initialization, firmware faults
and self-checks are recorded. Each event is chained to the previous one
with a SHA-256 hash.

Examples:
  # Verify audit log integrity
  sehal audit verify --log /var/log/sehal/audit.jsonl

  # Show last 10 events
  sehal audit tail --log /var/log/sehal/audit.jsonl -n 10`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log integrity",
	Long: `Verify the hash chain of an audit log file.

Each event in the log contains:
  - hash_prev: SHA-256 hash of the previous event
  - hash: SHA-256 hash of the current event

The chain starts with hash_prev="sha256:genesis" for the first event.`,
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit events",
	RunE:  runAuditTail,
}

var (
	auditLogFile  string
	auditTailNum  int
	auditShowJSON bool
)

func init() {
	auditVerifyCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditVerifyCmd.MarkFlagRequired("log")

	auditTailCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditTailCmd.MarkFlagRequired("log")
	auditTailCmd.Flags().IntVarP(&auditTailNum, "num", "n", 10, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&auditShowJSON, "json", false, "Output as JSON")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying audit log: %s\n\n", auditLogFile)

	count, err := audit.VerifyChain(auditLogFile)
	if err != nil {
		fmt.Fprintf(out, "VERIFICATION FAILED\n")
		fmt.Fprintf(out, "  Valid events: %d\n", count)
		fmt.Fprintf(out, "  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(out, "VERIFICATION PASSED\n")
	fmt.Fprintf(out, "  Total events: %d\n", count)
	fmt.Fprintf(out, "  Hash chain: VALID\n")
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(auditLogFile)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	out := cmd.OutOrStdout()

	if len(data) == 0 {
		fmt.Fprintln(out, "Audit log is empty")
		return nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}

	// Get last N lines
	if len(lines) > auditTailNum {
		lines = lines[len(lines)-auditTailNum:]
	}

	if auditShowJSON {
		fmt.Fprintln(out, "[")
		for i, line := range lines {
			if i > 0 {
				fmt.Fprintln(out, ",")
			}
			fmt.Fprint(out, line)
		}
		fmt.Fprintln(out, "\n]")
		return nil
	}

	for _, line := range lines {
		var event audit.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			fmt.Fprintf(out, "  [ERROR] %s\n", err)
			continue
		}
		printEvent(out, &event)
	}
	return nil
}

func printEvent(w io.Writer, e *audit.Event) {
	resultIcon := "✓"
	if e.Result == audit.ResultFailure {
		resultIcon = "✗"
	}

	fmt.Fprintf(w, "[%s] %s %s\n", e.Timestamp, resultIcon, e.EventType)
	fmt.Fprintf(w, "    Actor:  %s@%s\n", e.Actor.ID, e.Actor.Host)

	if e.Object.Type != "" {
		fmt.Fprintf(w, "    Object: %s", e.Object.Type)
		if e.Object.Slot != "" {
			fmt.Fprintf(w, " slot=%s", e.Object.Slot)
		}
		if e.Object.Backend != "" {
			fmt.Fprintf(w, " backend=%s", e.Object.Backend)
		}
		fmt.Fprintln(w)
	}

	if c := e.Context; c.Algorithm != "" || c.Size != 0 || c.Reason != "" || c.Status != "" {
		fmt.Fprint(w, "    Context:")
		if c.Algorithm != "" {
			fmt.Fprintf(w, " algorithm=%s", c.Algorithm)
		}
		if c.Size != 0 {
			fmt.Fprintf(w, " size=%d", c.Size)
		}
		if c.Status != "" {
			fmt.Fprintf(w, " status=%s", c.Status)
		}
		if c.Reason != "" {
			fmt.Fprintf(w, " reason=%s", c.Reason)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
}
