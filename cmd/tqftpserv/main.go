package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-wai/tqftpserv/internal/fabric"
	"github.com/a-wai/tqftpserv/internal/logging"
	"github.com/a-wai/tqftpserv/internal/observability"
	"github.com/a-wai/tqftpserv/internal/server"
	"github.com/a-wai/tqftpserv/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to tqftpserv.toml (defaults apply when empty)")
	node := flag.Uint("node", 0, "override the fabric node id from the config")
	flag.Parse()

	if err := run(*configPath, uint32(*node)); err != nil {
		fmt.Fprintf(os.Stderr, "tqftpserv: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, nodeOverride uint32) error {
	logging.ConfigureRuntime()
	log := logging.Component("main")

	cfg := defaultConfig()
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if nodeOverride != 0 {
		cfg.Node = nodeOverride
	}

	store := storage.NewStore(storage.Config{
		Mappings:    cfg.Mappings,
		DisableZstd: cfg.DisableZstd,
	}, logging.Component("storage"))

	network := fabric.NewUnixgram(cfg.Node)
	srv := server.New(network, store, logging.Component("server"))

	if cfg.DebugListen != "" {
		go observability.Serve(cfg.DebugListen, logging.Component("debug"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Uint32("node", cfg.Node).Msg("starting transfer service")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
