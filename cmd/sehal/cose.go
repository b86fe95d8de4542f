package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/sehal/internal/config"
	"github.com/remiblancher/sehal/pkg/hal"
	"github.com/remiblancher/sehal/pkg/signer"
)

var coseCmd = &cobra.Command{
	Use:   "cose",
	Short: "COSE_Sign1 messages signed by slot keys",
	Long: `Create and verify COSE_Sign1 messages (RFC 9052) with element keys.

ECDSA keys sign with ES256, ES384 or ES512 by curve; RSA keys with PS256.

Examples:
  sehal cose sign --slot 1 --type ecc-p256 --in claims.cbor --out msg.cose --kid device-1
  sehal cose verify --slot 1 --type ecc-p256 --in msg.cose --out claims.cbor`,
}

var coseSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a payload as COSE_Sign1",
	RunE:  runCOSESign,
}

var coseVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a COSE_Sign1 message against a slot key",
	RunE:  runCOSEVerify,
}

var (
	coseSlot    string
	coseKeyType string
	coseInPath  string
	coseOutPath string
	coseKID     string
)

func init() {
	for _, c := range []*cobra.Command{coseSignCmd, coseVerifyCmd} {
		c.Flags().StringVar(&coseSlot, "slot", "0", "Key slot (decimal or 0x hex)")
		c.Flags().StringVar(&coseKeyType, "type", "ecc-p256", "Key type")
		c.Flags().StringVar(&coseInPath, "in", "", "Input file (required)")
		c.Flags().StringVarP(&coseOutPath, "out", "o", "", "Output file")
		coseCmd.AddCommand(c)
	}
	coseSignCmd.Flags().StringVar(&coseKID, "kid", "", "Key identifier for the protected header")
}

func coseSlotAndType() (uint32, hal.KeyType, error) {
	slot, err := parseSlot(coseSlot)
	if err != nil {
		return 0, 0, err
	}
	kt, err := hal.ParseKeyType(coseKeyType)
	if err != nil {
		return 0, 0, err
	}
	return slot, kt, nil
}

func runCOSESign(cmd *cobra.Command, args []string) error {
	slot, kt, err := coseSlotAndType()
	if err != nil {
		return err
	}
	if coseOutPath == "" {
		return fmt.Errorf("--out is required")
	}
	payload, err := readInput(cmd, coseInPath)
	if err != nil {
		return err
	}

	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		s, err := signer.New(ctx, dev, slot, kt)
		if err != nil {
			return err
		}
		var kid []byte
		if coseKID != "" {
			kid = []byte(coseKID)
		}
		msg, err := signer.SignCOSE(ctx, s, payload, kid)
		if err != nil {
			return err
		}
		if err := writeOutput(cmd, coseOutPath, msg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "COSE_Sign1 message written to %s (%d bytes)\n", coseOutPath, len(msg))
		return nil
	})
}

func runCOSEVerify(cmd *cobra.Command, args []string) error {
	slot, kt, err := coseSlotAndType()
	if err != nil {
		return err
	}
	msg, err := readInput(cmd, coseInPath)
	if err != nil {
		return err
	}

	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		pub, err := signer.PublicKey(ctx, dev, slot, kt)
		if err != nil {
			return err
		}
		payload, err := signer.VerifyCOSE(msg, pub)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Signature: INVALID")
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signature: VALID")
		if coseOutPath != "" {
			return writeOutput(cmd, coseOutPath, payload)
		}
		return nil
	})
}
