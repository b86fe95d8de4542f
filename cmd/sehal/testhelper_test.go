package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/remiblancher/sehal/pkg/audit"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
	config  string
}

// newTestContext creates a temp directory holding a soft-element config
// whose state persists across commands.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	resetFlags()
	tc := &testContext{t: t, tempDir: t.TempDir()}
	tc.config = tc.writeFile("se.yaml", "backend: soft\nslots: 16\nsoft:\n  state_file: "+tc.path("state.cbor")+"\nlog:\n  level: error\n")
	return tc
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// readFile reads a file from the temp directory.
func (tc *testContext) readFile(name string) []byte {
	tc.t.Helper()
	data, err := os.ReadFile(tc.path(name))
	if err != nil {
		tc.t.Fatalf("Failed to read file %s: %v", name, err)
	}
	return data
}

// run executes sehal with the context config and resets flags afterwards.
func (tc *testContext) run(args ...string) (string, error) {
	tc.t.Helper()
	out, err := executeCommand(rootCmd, append([]string{"--config", tc.config}, args...)...)
	_ = audit.Close()
	resetFlags()
	return out, err
}

// mustRun is run that fails the test on error.
func (tc *testContext) mustRun(args ...string) string {
	tc.t.Helper()
	out, err := tc.run(args...)
	if err != nil {
		tc.t.Fatalf("sehal %v: %v\n%s", args, err, out)
	}
	return out
}

// resetFlags restores every command flag to its default.
func resetFlags() {
	configPath = ""
	auditLogPath = ""

	keySlot, keyType, keyOutPath, keyInPath, keyImportType = "0", "ecc-p256", "", "", ""

	signSlot, signKeyType, signHash, signPadding = "0", "ecc-p256", "sha256", "pkcs1"
	signInPath, signOutPath, signSigPath, signIsDigest = "", "", "", false
	randomSize, randomOut, randomFormat = 32, "", "hex"
	hashAlg, hashInPath = "sha256", ""

	storeSlot, storeInPath, storeOutPath = "0", "", ""

	coseSlot, coseKeyType, coseInPath, coseOutPath, coseKID = "0", "ecc-p256", "", "", ""

	selfcheckJSON = false
	servePort, serveHost, serveTLSCert, serveTLSKey = 0, "", "", ""

	auditLogFile, auditTailNum, auditShowJSON = "", 10, false
}

// mustRSAKeyPEM returns a fresh RSA-2048 key as PKCS#1 PEM.
func mustRSAKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}
