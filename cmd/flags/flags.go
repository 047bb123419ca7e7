// Package flags holds CLI flags and setup helpers shared by the docsafe
// binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/docsafe/docsafe/common"
	"github.com/docsafe/docsafe/httpserver"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// SetupLogger builds the process logger from the standard logging flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJSONFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUIDFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server config from the server flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var EscrowURIFlag = &cli.StringFlag{
	Name:  "escrow-uri",
	Value: "file://./docsafe-escrow",
	Usage: "escrow store location (memory://, file://, vault://, https://)",
}

var BlobURIFlag = &cli.StringFlag{
	Name:  "blob-uri",
	Value: "file://./docsafe-blobs",
	Usage: "container store location (memory://, file://, s3://, ipfs://)",
}

var AccountFlag = &cli.StringFlag{
	Name:     "account",
	Usage:    "account id",
	Required: true,
}

var AlgorithmFlag = &cli.StringFlag{
	Name:  "algorithm",
	Value: "aes256gcm",
	Usage: "container cipher: aes256gcm or chacha20poly1305",
}

var EscrowPubKeyFileFlag = &cli.StringFlag{
	Name:  "escrow-pubkey-file",
	Usage: "PEM file with the admin escrow public key; enables escrow envelopes",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

// LoggingFlags are the flags every binary carries.
var LoggingFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
	LogServiceFlag,
}
