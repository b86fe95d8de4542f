package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/sehal/internal/config"
	"github.com/remiblancher/sehal/pkg/hal"
	"github.com/remiblancher/sehal/pkg/signer"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Key slot management commands",
	Long: `Commands for generating, importing, exporting and removing slot keys.

Key types:
  ecc-p192 ecc-p224 ecc-p256 ecc-p384 ecc-p521
  ecc-bp256r1 ecc-bp384r1 ecc-bp512r1
  rsa1024 rsa2048 rsa3072 rsa4096
  aes128 aes192 aes256
  hmac-sha1 hmac-sha224 hmac-sha256 hmac-sha384 hmac-sha512
  x25519 dh1024 dh2048 dh4096`,
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a key in a slot",
	Long: `Generate a key of the given type inside the element.

Examples:
  sehal key gen --slot 1 --type ecc-p256
  sehal key gen --slot 2 --type rsa2048`,
	RunE: runKeyGen,
}

var keyPubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Export the public key of a slot",
	Long: `Export the public half of an EC or RSA slot key as a PEM PUBLIC KEY.

The factory key is read with --slot 0x00010120 --type ecc-p256.

Examples:
  sehal key pub --slot 1 --type ecc-p256 --out slot1.pub.pem`,
	RunE: runKeyPub,
}

var keyRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove the key in a slot",
	RunE:  runKeyRm,
}

var keyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a key into a slot",
	Long: `Import key material into a slot.

EC and RSA keys are read from a PEM private key (PKCS#8, SEC 1 or PKCS#1);
the key type is taken from the key unless --type is given. AES and HMAC
keys are read as raw bytes.

Examples:
  sehal key import --slot 3 --in device.key.pem
  sehal key import --slot 4 --type aes128 --in aes.bin`,
	RunE: runKeyImport,
}

var (
	keySlot    string
	keyType    string
	keyOutPath string
	keyInPath  string

	keyImportType string
)

func init() {
	for _, c := range []*cobra.Command{keyGenCmd, keyPubCmd, keyRmCmd, keyImportCmd} {
		c.Flags().StringVar(&keySlot, "slot", "0", "Key slot (decimal or 0x hex)")
		keyCmd.AddCommand(c)
	}
	keyGenCmd.Flags().StringVar(&keyType, "type", "ecc-p256", "Key type")
	keyPubCmd.Flags().StringVar(&keyType, "type", "ecc-p256", "Key type")
	keyRmCmd.Flags().StringVar(&keyType, "type", "ecc-p256", "Key type")
	keyImportCmd.Flags().StringVar(&keyImportType, "type", "", "Key type (default: from the key file)")

	keyPubCmd.Flags().StringVarP(&keyOutPath, "out", "o", "", "Output file (default: stdout)")
	keyImportCmd.Flags().StringVar(&keyInPath, "in", "", "Key file (required)")
}

func slotAndType() (uint32, hal.KeyType, error) {
	slot, err := parseSlot(keySlot)
	if err != nil {
		return 0, 0, err
	}
	kt, err := hal.ParseKeyType(keyType)
	if err != nil {
		return 0, 0, err
	}
	return slot, kt, nil
}

func runKeyGen(cmd *cobra.Command, args []string) error {
	slot, kt, err := slotAndType()
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		if err := dev.GenerateKey(ctx, kt, slot); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s key in slot %s\n", kt, keySlot)
		return nil
	})
}

func runKeyPub(cmd *cobra.Command, args []string) error {
	slot, kt, err := slotAndType()
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		pub, err := signer.PublicKey(ctx, dev, slot, kt)
		if err != nil {
			return err
		}
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return fmt.Errorf("failed to encode public key: %w", err)
		}
		out := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
		if keyOutPath == "" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		return writeOutput(cmd, keyOutPath, out)
	})
}

func runKeyRm(cmd *cobra.Command, args []string) error {
	slot, kt, err := slotAndType()
	if err != nil {
		return err
	}
	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		if err := dev.RemoveKey(ctx, kt, slot); err != nil {
			return fmt.Errorf("failed to remove key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s key from slot %s\n", kt, keySlot)
		return nil
	})
}

func runKeyImport(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(keySlot)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, keyInPath)
	if err != nil {
		return err
	}

	kt, pub, priv, err := keyMaterial(data, keyImportType)
	if err != nil {
		return err
	}
	defer hal.FreeData(pub)
	defer hal.FreeData(priv)

	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, _ *config.Config) error {
		if err := dev.SetKey(ctx, kt, slot, pub, priv); err != nil {
			return fmt.Errorf("failed to import key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s key into slot %s\n", kt, keySlot)
		return nil
	})
}

var ecKeyTypes = map[string]hal.KeyType{
	"P-224": hal.KeyECSecP224R1,
	"P-256": hal.KeyECSecP256R1,
	"P-384": hal.KeyECSecP384R1,
	"P-521": hal.KeyECSecP521R1,
}

var rsaKeyTypes = map[int]hal.KeyType{
	1024: hal.KeyRSA1024,
	2048: hal.KeyRSA2048,
	3072: hal.KeyRSA3072,
	4096: hal.KeyRSA4096,
}

// keyMaterial converts a key file into SetKey buffers. typeName, when set,
// must agree with the key.
func keyMaterial(data []byte, typeName string) (hal.KeyType, *hal.Data, *hal.Data, error) {
	var want hal.KeyType
	if typeName != "" {
		kt, err := hal.ParseKeyType(typeName)
		if err != nil {
			return 0, nil, nil, err
		}
		want = kt
		if !kt.IsEC() && !kt.IsRSA() {
			// Raw secret; the caller wipes the returned copy.
			return kt, hal.DataOf(append([]byte(nil), data...)), nil, nil
		}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return 0, nil, nil, fmt.Errorf("key file is not PEM")
	}
	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return 0, nil, nil, err
	}

	var (
		kt        hal.KeyType
		pub, priv *hal.Data
	)
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		var ok bool
		if kt, ok = ecKeyTypes[k.Curve.Params().Name]; !ok {
			return 0, nil, nil, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
		}
		raw, err := k.PublicKey.Bytes()
		if err != nil {
			return 0, nil, nil, fmt.Errorf("invalid EC public key: %w", err)
		}
		size := (len(raw) - 1) / 2
		pub = hal.NewDataPair(size)
		pub.Len = copy(pub.Buf, raw[1:1+size])
		pub.PrivLen = copy(pub.Priv, raw[1+size:])
		scalar, err := k.Bytes()
		if err != nil {
			return 0, nil, nil, fmt.Errorf("invalid EC private key: %w", err)
		}
		priv = hal.DataOf(scalar)
	case *rsa.PrivateKey:
		var ok bool
		if kt, ok = rsaKeyTypes[k.N.BitLen()]; !ok {
			return 0, nil, nil, fmt.Errorf("unsupported RSA size %d", k.N.BitLen())
		}
		pub = hal.DataOf(x509.MarshalPKCS1PublicKey(&k.PublicKey))
		priv = hal.DataOf(x509.MarshalPKCS1PrivateKey(k))
	default:
		return 0, nil, nil, fmt.Errorf("unsupported key type %T", key)
	}

	if want != hal.KeyUnknown && want != kt {
		return 0, nil, nil, fmt.Errorf("key file holds %s, not %s", kt, want)
	}
	return kt, pub, priv, nil
}

func parsePrivateKey(der []byte) (any, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	return nil, fmt.Errorf("failed to parse private key")
}
