// studybook is the local runner for the note client. It wires the encrypted
// local store, the document store, and the session orchestration, then waits
// for a shutdown signal. The UI in front of it talks to the app layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/studybook/studybook/internal/app"
	"github.com/studybook/studybook/internal/auth"
	"github.com/studybook/studybook/internal/config"
	"github.com/studybook/studybook/internal/docstore"
	"github.com/studybook/studybook/internal/localstore"
	"github.com/studybook/studybook/internal/obs"
)

func main() {
	var localOnly bool
	var dataDir string
	flag.BoolVar(&localOnly, "local-only", false, "Run without a remote document store")
	flag.StringVar(&dataDir, "data", "", "Directory for the local database (default ./data, overrides DATA_DIR)")
	flag.Parse()

	if err := run(localOnly, dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(localOnly bool, dataDir string) error {
	obs.Init()
	log := obs.Pkg("main")

	cfg, err := config.Load(localOnly, dataDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	local, err := localstore.OpenSQLite(cfg.DataDir, cfg.DatabaseName, cfg.LocalKeyBytes())
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer local.Close()

	a := app.New(app.Options{
		Config:   cfg,
		Local:    local,
		Remote:   docstore.NewMemory(),
		Provider: auth.NewLocal(),
	})
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	log.Info("studybook running",
		"data_dir", cfg.DataDir,
		"local_only", cfg.LocalOnly,
		"encrypted", cfg.LocalKeyBytes() != nil)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
