// Command fxhd runs the execution daemon (serve) or replays recorded
// ticks through the simulator (simulate).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rizwan-Beg/fxharry/infra/config"
	"github.com/Rizwan-Beg/fxharry/infra/logging"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: fxhd <serve|simulate> [-config file] [flags]\n")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML config file")

	var run func(ctx context.Context, cfg *config.Config, log *zap.Logger) error
	switch cmd {
	case "serve":
		run = serve
	case "simulate":
		opts := simulateFlags(fs)
		run = func(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
			return simulate(ctx, cfg, opts, log)
		}
	default:
		usage()
	}
	_ = fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fxhd exited", zap.String("cmd", cmd), zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
