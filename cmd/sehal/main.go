// Command sehal is the operator CLI for the secure-element HAL.
package main

import (
	"context"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/sehal/internal/config"
	"github.com/remiblancher/sehal/internal/firmware/hsm"
	"github.com/remiblancher/sehal/pkg/audit"
	"github.com/remiblancher/sehal/pkg/hal"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath   string
	auditLogPath string
)

func main() {
	// Cancel on SIGINT/SIGTERM so serve shuts down and PKCS#11 sessions
	// are closed before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	// PersistentPostRunE is skipped when a command fails.
	_ = audit.Close()
	hsm.CloseAll()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sehal",
	Short: "Secure-element HAL operator tool",
	Long: `sehal drives a secure element through its HAL: key slots, signatures,
certificates, storage blocks and provisioning checks.

The element is a software emulation (backend: soft) or a PKCS#11 token
(backend: pkcs11), selected by the YAML file given with --config. Without
--config an in-memory soft element is used, which forgets everything on exit.

Examples:
  # Generate a P-256 key in slot 1 and export its public key
  sehal --config se.yaml key gen --slot 1 --type ecc-p256
  sehal --config se.yaml key pub --slot 1 --type ecc-p256 --out slot1.pub.pem

  # Sign a file with it
  sehal --config se.yaml sign --slot 1 --type ecc-p256 --in firmware.bin --out firmware.sig

  # Check the factory provisioning
  sehal --config se.yaml selfcheck`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Check for audit log path from environment if not set via flag
		if auditLogPath == "" {
			auditLogPath = os.Getenv("SEHAL_AUDIT_LOG")
		}

		// Initialize audit logging
		if auditLogPath != "" {
			if err := audit.InitFile(auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Close audit log
		return audit.Close()
	},
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML configuration (default: in-memory soft element)")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set SEHAL_AUDIT_LOG env var)")

	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(randomCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(coseCmd)
	rootCmd.AddCommand(selfcheckCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// withDevice opens and initializes the configured element, runs fn and
// deinitializes it again.
func withDevice(cmd *cobra.Command, fn func(ctx context.Context, dev *hal.Device, cfg *config.Config) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.Logger(cmd.ErrOrStderr())

	dev, err := cfg.OpenDevice(logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := dev.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize element: %w", err)
	}
	defer func() {
		if derr := dev.Deinit(ctx); derr != nil && err == nil {
			err = fmt.Errorf("failed to deinitialize element: %w", derr)
		}
	}()

	return fn(ctx, dev, cfg)
}

// parseSlot accepts decimal or 0x-prefixed hex slot numbers.
func parseSlot(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid slot %q", s)
	}
	return uint32(n), nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("--in is required")
	}
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// pemOrDER returns the first PEM block's bytes when data is PEM, data otherwise.
func pemOrDER(data []byte) []byte {
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes
	}
	return data
}

// writeOutput writes data to path, or hex to stdout when path is empty.
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
