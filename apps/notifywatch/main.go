package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/urfave/cli/v3"
)

// Populated at build time via -ldflags
var version = "dev"

// defaultSessionFile returns ~/.config/jandalisys/session.yaml, or a file in
// the working directory when no config dir is known
func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "jandalisys-session.yaml"
	}
	return filepath.Join(dir, "jandalisys", "session.yaml")
}

// newApp builds the command tree writing user output to flags.Out
func newApp(flags *Flags) *cli.Command {
	app := &cli.Command{
		Name:      "notifywatch",
		Usage:     "Read and follow JANDALISYS notifications from the terminal",
		UsageText: "notifywatch [global options] command [command options]",
		Description: `notifywatch logs in against the notification backend, lists and updates
notifications, and follows the real-time channel with automatic reconnect.

Examples:
  notifywatch login --username rana
  notifywatch list
  notifywatch read 3f2a...
  notifywatch watch`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "api",
				Usage:       "REST API base URL",
				Sources:     cli.EnvVars("NOTIFYWATCH_API"),
				Value:       "http://localhost:8080/api/v1",
				Destination: &flags.APIBase,
			},
			&cli.StringFlag{
				Name:        "origin",
				Usage:       "page origin used for the real-time endpoint when --api is empty",
				Sources:     cli.EnvVars("NOTIFYWATCH_ORIGIN"),
				Destination: &flags.Origin,
			},
			&cli.StringFlag{
				Name:        "session",
				Usage:       "path to the session file",
				Sources:     cli.EnvVars("NOTIFYWATCH_SESSION"),
				Value:       defaultSessionFile(),
				Destination: &flags.SessionFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("NOTIFYWATCH_LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.LogLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg := logging.DefaultConfig()
			cfg.Level = logging.ParseLevel(flags.LogLevel)
			cfg.Format = logging.FormatConsole
			cfg.IncludeCaller = false
			cfg.Output = os.Stderr
			if err := logging.Setup(cfg); err != nil {
				return ctx, fmt.Errorf("setup logging: %w", err)
			}
			return ctx, nil
		},
	}

	return NewCmd(flags).Register(app)
}

func main() {
	app := newApp(&Flags{Out: os.Stdout})

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
