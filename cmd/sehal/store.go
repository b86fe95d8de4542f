package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/sehal/internal/config"
	"github.com/remiblancher/sehal/pkg/hal"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Certificate slot commands",
	Long: `Store, read and remove certificates held by the element.

The factory certificate is read with --slot 0x00010122.`,
}

var certPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Store a certificate (PEM or DER) in a slot",
	RunE:  runCertPut,
}

var certGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Read the certificate in a slot as PEM",
	RunE:  runCertGet,
}

var certRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove the certificate in a slot",
	RunE:  runCertRm,
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Secure storage block commands",
}

var storageWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a file into a storage slot",
	RunE:  runStorageWrite,
}

var storageReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a storage slot",
	RunE:  runStorageRead,
}

var storageRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Delete a storage slot",
	RunE:  runStorageRm,
}

var (
	storeSlot    string
	storeInPath  string
	storeOutPath string
)

func init() {
	for _, c := range []*cobra.Command{certPutCmd, certGetCmd, certRmCmd} {
		c.Flags().StringVar(&storeSlot, "slot", "0", "Certificate slot (decimal or 0x hex)")
		certCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{storageWriteCmd, storageReadCmd, storageRmCmd} {
		c.Flags().StringVar(&storeSlot, "slot", "0", "Storage slot (decimal or 0x hex)")
		storageCmd.AddCommand(c)
	}
	certPutCmd.Flags().StringVar(&storeInPath, "in", "", "Certificate file (required)")
	storageWriteCmd.Flags().StringVar(&storeInPath, "in", "", "Input file, or - for stdin (required)")
	certGetCmd.Flags().StringVarP(&storeOutPath, "out", "o", "", "Output file (default: stdout)")
	storageReadCmd.Flags().StringVarP(&storeOutPath, "out", "o", "", "Output file (default: hex to stdout)")
}

func runCertPut(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(storeSlot)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, storeInPath)
	if err != nil {
		return err
	}
	der := pemOrDER(data)
	if _, err := x509.ParseCertificate(der); err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}

	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		if err := dev.SetCertificate(ctx, slot, hal.DataOf(der)); err != nil {
			return fmt.Errorf("failed to store certificate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %d byte certificate in slot %s\n", len(der), storeSlot)
		return nil
	})
}

func runCertGet(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(storeSlot)
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		out := hal.NewData(dev.Config().MaxCertSize)
		if err := dev.GetCertificate(ctx, slot, out); err != nil {
			return fmt.Errorf("failed to read certificate: %w", err)
		}
		block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: out.Bytes()})
		if storeOutPath == "" {
			_, err := cmd.OutOrStdout().Write(block)
			return err
		}
		return writeOutput(cmd, storeOutPath, block)
	})
}

func runCertRm(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(storeSlot)
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		if err := dev.RemoveCertificate(ctx, slot); err != nil {
			return fmt.Errorf("failed to remove certificate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed certificate from slot %s\n", storeSlot)
		return nil
	})
}

func runStorageWrite(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(storeSlot)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, storeInPath)
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		if err := dev.WriteStorage(ctx, slot, hal.DataOf(data)); err != nil {
			return fmt.Errorf("failed to write storage: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to storage slot %s\n", len(data), storeSlot)
		return nil
	})
}

func runStorageRead(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(storeSlot)
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		out := hal.NewData(dev.Config().MaxStorageSize)
		if err := dev.ReadStorage(ctx, slot, out); err != nil {
			return fmt.Errorf("failed to read storage: %w", err)
		}
		return writeOutput(cmd, storeOutPath, out.Bytes())
	})
}

func runStorageRm(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(storeSlot)
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		if err := dev.DeleteStorage(ctx, slot); err != nil {
			return fmt.Errorf("failed to delete storage: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted storage slot %s\n", storeSlot)
		return nil
	})
}
