package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/sehal/internal/config"
	"github.com/remiblancher/sehal/pkg/firmware"
	"github.com/remiblancher/sehal/pkg/hal"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a file with a slot key",
	Long: `Hash a file on the element and sign the digest with the key in --slot.

ECDSA signatures are written as DER. RSA signatures are raw, PKCS#1 v1.5 by
default or PSS with --padding pss. With --digest the input is taken as the
precomputed digest.

Examples:
  sehal sign --slot 1 --type ecc-p256 --in firmware.bin --out firmware.sig
  sehal sign --slot 2 --type rsa2048 --hash sha384 --padding pss --in doc.txt`,
	RunE: runSign,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a signature with a slot key",
	Long: `Verify a signature produced by sign, using the key in --slot.

Examples:
  sehal verify --slot 1 --type ecc-p256 --in firmware.bin --sig firmware.sig`,
	RunE: runVerify,
}

var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Generate random bytes on the element",
	RunE:  runRandom,
}

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash a file on the element",
	RunE:  runHash,
}

var (
	signSlot     string
	signKeyType  string
	signHash     string
	signPadding  string
	signInPath   string
	signOutPath  string
	signSigPath  string
	signIsDigest bool

	randomSize   int
	randomOut    string
	randomFormat string

	hashAlg    string
	hashInPath string
)

func init() {
	for _, c := range []*cobra.Command{signCmd, verifyCmd} {
		c.Flags().StringVar(&signSlot, "slot", "0", "Key slot (decimal or 0x hex)")
		c.Flags().StringVar(&signKeyType, "type", "ecc-p256", "Key type")
		c.Flags().StringVar(&signHash, "hash", "sha256", "Digest algorithm")
		c.Flags().StringVar(&signPadding, "padding", "pkcs1", "RSA padding: pkcs1, pss")
		c.Flags().StringVar(&signInPath, "in", "", "Input file (required)")
		c.Flags().BoolVar(&signIsDigest, "digest", false, "Input is a precomputed digest")
	}
	signCmd.Flags().StringVarP(&signOutPath, "out", "o", "", "Signature output file (default: hex to stdout)")
	verifyCmd.Flags().StringVar(&signSigPath, "sig", "", "Signature file (required)")

	randomCmd.Flags().IntVarP(&randomSize, "size", "n", 32, "Number of bytes")
	randomCmd.Flags().StringVarP(&randomOut, "out", "o", "", "Output file (default: stdout)")
	randomCmd.Flags().StringVar(&randomFormat, "format", "hex", "Stdout format: hex, base64")

	hashCmd.Flags().StringVar(&hashAlg, "hash", "sha256", "Digest algorithm")
	hashCmd.Flags().StringVar(&hashInPath, "in", "", "Input file, or - for stdin (required)")
}

type signScheme struct {
	slot  uint32
	key   hal.KeyType
	ecdsa hal.ECDSAMode
	rsa   hal.RSAMode
}

func parseSignScheme() (*signScheme, error) {
	slot, err := parseSlot(signSlot)
	if err != nil {
		return nil, err
	}
	kt, err := hal.ParseKeyType(signKeyType)
	if err != nil {
		return nil, err
	}
	h, err := hal.ParseHashType(signHash)
	if err != nil {
		return nil, err
	}

	sc := &signScheme{slot: slot, key: kt}
	switch {
	case kt.IsEC():
		sc.ecdsa = hal.ECDSAMode{Curve: kt.Curve(), Hash: h}
	case kt.IsRSA():
		switch signPadding {
		case "pkcs1":
			sc.rsa = hal.RSAMode{Padding: hal.RSAPKCS1v15, Hash: h}
		case "pss":
			sc.rsa = hal.RSAMode{Padding: hal.RSAPSS, Hash: h, MGF: h}
		default:
			return nil, fmt.Errorf("unknown padding: %s", signPadding)
		}
	default:
		return nil, fmt.Errorf("key type %s does not sign", kt)
	}
	return sc, nil
}

// digestInput hashes --in on the element unless --digest is set.
func digestInput(ctx context.Context, cmd *cobra.Command, dev *hal.Device) (*hal.Data, error) {
	data, err := readInput(cmd, signInPath)
	if err != nil {
		return nil, err
	}
	if signIsDigest {
		return hal.DataOf(data), nil
	}
	h, err := hal.ParseHashType(signHash)
	if err != nil {
		return nil, err
	}
	digest := hal.NewData(64)
	if err := dev.GetHash(ctx, h, hal.DataOf(data), digest); err != nil {
		return nil, fmt.Errorf("failed to hash input: %w", err)
	}
	return digest, nil
}

func runSign(cmd *cobra.Command, args []string) error {
	sc, err := parseSignScheme()
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		digest, err := digestInput(ctx, cmd, dev)
		if err != nil {
			return err
		}

		var sig *hal.Data
		if sc.key.IsEC() {
			sig = hal.NewData(hal.MaxSignatureLen)
			err = dev.ECDSASignMD(ctx, sc.ecdsa, digest, sc.slot, sig)
		} else {
			sig = hal.NewData(512)
			err = dev.RSASignMD(ctx, sc.rsa, digest, sc.slot, sig)
		}
		if err != nil {
			return fmt.Errorf("failed to sign: %w", err)
		}
		return writeOutput(cmd, signOutPath, sig.Bytes())
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	sc, err := parseSignScheme()
	if err != nil {
		return err
	}
	if signSigPath == "" {
		return fmt.Errorf("--sig is required")
	}
	sig, err := readInput(cmd, signSigPath)
	if err != nil {
		return err
	}

	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		digest, err := digestInput(ctx, cmd, dev)
		if err != nil {
			return err
		}

		if sc.key.IsEC() {
			err = dev.ECDSAVerifyMD(ctx, sc.ecdsa, digest, hal.DataOf(sig), sc.slot)
		} else {
			err = dev.RSAVerifyMD(ctx, sc.rsa, digest, hal.DataOf(sig), sc.slot)
		}
		var halErr *hal.Error
		if errors.As(err, &halErr) && halErr.Status == firmware.StatusVerifyFail {
			fmt.Fprintln(cmd.OutOrStdout(), "Signature: INVALID")
			return fmt.Errorf("signature verification failed")
		}
		if err != nil {
			return fmt.Errorf("failed to verify: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signature: VALID")
		return nil
	})
}

func runRandom(cmd *cobra.Command, args []string) error {
	if randomFormat != "hex" && randomFormat != "base64" {
		return fmt.Errorf("unknown format: %s", randomFormat)
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		out := hal.NewData(max(randomSize, 0))
		if err := dev.GenerateRandom(ctx, randomSize, out); err != nil {
			return fmt.Errorf("failed to generate random bytes: %w", err)
		}
		switch {
		case randomOut != "":
			return writeOutput(cmd, randomOut, out.Bytes())
		case randomFormat == "base64":
			_, err := fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(out.Bytes()))
			return err
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(out.Bytes()))
		return err
	})
}

func runHash(cmd *cobra.Command, args []string) error {
	h, err := hal.ParseHashType(hashAlg)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, hashInPath)
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		digest := hal.NewData(64)
		if err := dev.GetHash(ctx, h, hal.DataOf(data), digest); err != nil {
			return fmt.Errorf("failed to hash input: %w", err)
		}
		return writeOutput(cmd, "", digest.Bytes())
	})
}
