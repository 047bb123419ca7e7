package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docsafe/docsafe/blobstore"
	"github.com/docsafe/docsafe/cmd/flags"
	"github.com/docsafe/docsafe/common"
	"github.com/docsafe/docsafe/escrow"
	"github.com/docsafe/docsafe/httpserver"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "shareserver",
		Usage:   "serve the share-access API",
		Version: common.Version,
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.MetricsAddrFlag,
			flags.PprofFlag,
			flags.DrainSecondsFlag,
			flags.EscrowURIFlag,
			flags.BlobURIFlag,
		}, flags.LoggingFlags...),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	store, err := escrow.StoreFromURI(cCtx.String(flags.EscrowURIFlag.Name), logger)
	if err != nil {
		return err
	}
	blobs, err := blobstore.BackendFor(cCtx.String(flags.BlobURIFlag.Name), logger)
	if err != nil {
		return err
	}

	handler := httpserver.NewHandler(store, blobs, logger)
	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
	if err != nil {
		return err
	}

	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutting down")
	srv.Shutdown()
	return nil
}
