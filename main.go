package main

import (
	"context"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"github.com/martinsuchenak/nmconsole/cmd/connection"
	"github.com/martinsuchenak/nmconsole/cmd/device"
	"github.com/martinsuchenak/nmconsole/cmd/server"
	"github.com/martinsuchenak/nmconsole/internal/config"
	"github.com/martinsuchenak/nmconsole/internal/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	log.Configure("info", "console")

	rootCmd := &cli.Command{
		Name:        "nmconsole",
		Version:     version,
		Usage:       "NetworkManager console",
		Description: "Browse NetworkManager devices and stage, review and apply connection edits from a web UI, API, MCP or the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "log-level",
				Usage:        "Log level (trace, debug, info, warn, error)",
				DefaultValue: "info",
				EnvVars:      []string{config.EnvPrefix + "LOG_LEVEL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "log-format",
				Usage:        "Log format (console, json)",
				DefaultValue: "console",
				EnvVars:      []string{config.EnvPrefix + "LOG_FORMAT"},
				Global:       true,
			},
		},
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Configure(cmd.GetString("log-level"), cmd.GetString("log-format"))
			log.Debug("Starting", "version", version, "commit", commit, "date", date)
			return ctx, nil
		},
		Commands: []*cli.Command{
			server.Command(),
			{
				Name:        "device",
				Usage:       "Device commands",
				Description: "Inspect network devices on the local bus",
				Commands:    device.Commands(),
			},
			{
				Name:        "connection",
				Usage:       "Connection commands",
				Description: "Stage and apply connection edits through a running server",
				Commands:    connection.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
