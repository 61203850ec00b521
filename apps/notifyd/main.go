package main

import (
	"context"
	"fmt"
	"os"

	"github.com/krasl809/JANDALISYS-sub003/internal/config"
	"github.com/krasl809/JANDALISYS-sub003/internal/engine"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

// Populated at build time via -ldflags
var version = "dev"

func main() {
	var (
		configFile string
		dataDir    string
		addr       string
		logLevel   string
	)

	app := &cli.Command{
		Name:      "notifyd",
		Usage:     "Serve notifications over REST and WebSocket",
		UsageText: "notifyd [--config <file>] [--addr <addr>] [--data-dir <dir>]",
		Description: `notifyd stores notifications per user and pushes new ones to every open
real-time channel of the recipient.

Configuration is read from the YAML file, then JANDALISYS_* environment
variables, then these flags.`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("JANDALISYS_CONFIG"),
				Destination: &configFile,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "directory for the badger database",
				Destination: &dataDir,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Destination: &logLevel,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.LoadConfig(configFile, dataDir, addr, logLevel)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if err := logging.Setup(cfg.ToLoggingConfig()); err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}

			log.Info().
				Str("version", version).
				Str("addr", cfg.Server.Addr).
				Str("storage", cfg.Storage.StorageType).
				Msg("Starting notifyd")

			return engine.Run(ctx, cfg)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
