package main

import (
	"context"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/remiblancher/sehal/internal/api/router"
	"github.com/remiblancher/sehal/internal/api/server"
	"github.com/remiblancher/sehal/internal/api/service"
	"github.com/remiblancher/sehal/internal/config"
	"github.com/remiblancher/sehal/pkg/hal"
)

// Serve command flags
var (
	servePort    int
	serveHost    string
	serveTLSCert string
	serveTLSKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the element over HTTP",
	Long: `Start the REST node for the configured element.

Endpoints:
  GET  /health                    Health check
  GET  /ready                     Readiness (element status probe)
  POST /api/v1/random             Random bytes
  POST /api/v1/hash               Digest
  POST /api/v1/sign               Sign a digest with a slot key
  POST /api/v1/verify             Verify a signature with a slot key
  GET  /api/v1/keys/{slot}?type=  Public key as PEM
  GET  /api/v1/certs/{slot}       Read a certificate
  PUT  /api/v1/certs/{slot}       Store a certificate
  GET  /api/v1/storage/{slot}     Read a storage block
  PUT  /api/v1/storage/{slot}     Write a storage block

Environment variables:
  SEHAL_PORT      Listen port
  SEHAL_TLS_CERT  TLS certificate file
  SEHAL_TLS_KEY   TLS private key file

Examples:
  sehal --config se.yaml serve --port 8080
  sehal --config se.yaml serve --port 8443 --tls-cert server.crt --tls-key server.key`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: 8443)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: all interfaces)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")
}

// applyServeEnvVars fills unset flags from the environment.
func applyServeEnvVars() {
	if servePort == 0 {
		if p, err := strconv.Atoi(os.Getenv("SEHAL_PORT")); err == nil {
			servePort = p
		}
	}
	if serveTLSCert == "" {
		serveTLSCert = os.Getenv("SEHAL_TLS_CERT")
	}
	if serveTLSKey == "" {
		serveTLSKey = os.Getenv("SEHAL_TLS_KEY")
	}
}

func serverConfig() *server.Config {
	cfg := server.DefaultConfig()
	if servePort != 0 {
		cfg.Port = servePort
	}
	cfg.Host = serveHost
	cfg.TLSCert = serveTLSCert
	cfg.TLSKey = serveTLSKey
	return cfg
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeEnvVars()
	srvCfg := serverConfig()
	if err := srvCfg.Validate(); err != nil {
		return err
	}

	return withDevice(cmd, func(ctx context.Context, dev *hal.Device, cfg *config.Config) error {
		logger := cfg.Logger(cmd.ErrOrStderr())
		handler := router.New(&router.Config{
			Version: version,
			Device:  service.NewDeviceService(dev, dev.Config()),
			Logger:  logger,
		})
		return server.New(srvCfg, handler, logger).Start(ctx)
	})
}
