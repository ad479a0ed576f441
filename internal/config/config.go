package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/paularlott/cli"
)

// EnvPrefix prefixes every environment variable the console reads.
const EnvPrefix = "NMCONSOLE_"

// Config holds the application configuration
type Config struct {
	DataDir        string
	ListenAddr     string
	APIAuthToken   string
	MCPAuthToken   string
	Bus            string // "system" or "session"
	UdevCommand    string
	Workers        int
	ResyncSchedule string
	CallTimeout    time.Duration
}

func envVar(name string) []string {
	return []string{EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

// GetFlags returns the server flags. Every flag can also be set from the
// environment, e.g. --data-dir from NMCONSOLE_DATA_DIR.
func GetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "data-dir",
			Usage:        "Directory holding the SQLite database",
			DefaultValue: "./data",
			EnvVars:      envVar("data-dir"),
		},
		&cli.StringFlag{
			Name:         "listen-addr",
			Usage:        "HTTP listen address",
			DefaultValue: ":8080",
			EnvVars:      envVar("listen-addr"),
		},
		&cli.StringFlag{
			Name:    "api-token",
			Usage:   "Bearer token required by the API and UI",
			EnvVars: envVar("api-token"),
		},
		&cli.StringFlag{
			Name:    "mcp-token",
			Usage:   "Bearer token required by the MCP endpoint",
			EnvVars: envVar("mcp-token"),
		},
		&cli.StringFlag{
			Name:         "bus",
			Usage:        "Message bus to connect to (system, session)",
			DefaultValue: "system",
			EnvVars:      envVar("bus"),
		},
		&cli.StringFlag{
			Name:         "udev-command",
			Usage:        "udevadm binary used to look up device vendor and model (empty disables)",
			DefaultValue: "/usr/bin/udevadm",
			EnvVars:      envVar("udev-command"),
		},
		&cli.IntFlag{
			Name:         "workers",
			Usage:        "Background job workers",
			DefaultValue: 4,
			EnvVars:      envVar("workers"),
		},
		&cli.StringFlag{
			Name:         "resync-schedule",
			Usage:        "Cron schedule of the periodic device resync (empty disables)",
			DefaultValue: "@every 5m",
			EnvVars:      envVar("resync-schedule"),
		},
		&cli.IntFlag{
			Name:         "call-timeout",
			Usage:        "Timeout in seconds for calls to NetworkManager",
			DefaultValue: 10,
			EnvVars:      envVar("call-timeout"),
		},
	}
}

// Load reads the configuration from the parsed server flags
func Load(cmd *cli.Command) (*Config, error) {
	cfg := &Config{
		DataDir:        cmd.GetString("data-dir"),
		ListenAddr:     cmd.GetString("listen-addr"),
		APIAuthToken:   cmd.GetString("api-token"),
		MCPAuthToken:   cmd.GetString("mcp-token"),
		Bus:            cmd.GetString("bus"),
		UdevCommand:    cmd.GetString("udev-command"),
		Workers:        cmd.GetInt("workers"),
		ResyncSchedule: cmd.GetString("resync-schedule"),
		CallTimeout:    time.Duration(cmd.GetInt("call-timeout")) * time.Second,
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Bus {
	case "system", "session":
	default:
		return fmt.Errorf("invalid bus %q: must be system or session", c.Bus)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return nil
}

// IsAPIAuthEnabled checks if API authentication is configured
func (c *Config) IsAPIAuthEnabled() bool {
	return c.APIAuthToken != ""
}

// IsMCPEnabled checks if MCP authentication is configured
func (c *Config) IsMCPEnabled() bool {
	return c.MCPAuthToken != ""
}

// String summarises the configuration for the startup log, without secrets
func (c *Config) String() string {
	return fmt.Sprintf("data_dir=%s listen_addr=%s bus=%s workers=%d resync=%q",
		c.DataDir, c.ListenAddr, c.Bus, c.Workers, c.ResyncSchedule)
}
