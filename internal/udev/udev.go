// Package udev enriches devices with the vendor and model names udev's
// hardware database knows about.
package udev

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DefaultCommand is the udevadm binary looked up when none is configured.
const DefaultCommand = "/usr/bin/udevadm"

const (
	keyModel  = "ID_MODEL_FROM_DATABASE"
	keyVendor = "ID_VENDOR_FROM_DATABASE"
)

// Info is what udev knows about one device. Empty fields mean unknown.
type Info struct {
	Vendor string
	Model  string
}

// Props returns the info as device properties, omitting unknown fields.
func (i Info) Props() map[string]any {
	props := map[string]any{}
	if i.Vendor != "" {
		props["IdVendor"] = i.Vendor
	}
	if i.Model != "" {
		props["IdModel"] = i.Model
	}
	return props
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command on the local host.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Client looks devices up with udevadm.
type Client struct {
	command string
	run     Runner
}

// NewClient creates a client. An empty command uses DefaultCommand and a nil
// runner uses ExecRunner.
func NewClient(command string, run Runner) *Client {
	if command == "" {
		command = DefaultCommand
	}
	if run == nil {
		run = ExecRunner
	}
	return &Client{command: command, run: run}
}

// Lookup runs `udevadm info <sysfsPath>` and extracts the database names.
func (c *Client) Lookup(ctx context.Context, sysfsPath string) (Info, error) {
	out, err := c.run(ctx, c.command, "info", sysfsPath)
	if err != nil {
		return Info{}, fmt.Errorf("querying udev for %s: %w", sysfsPath, err)
	}
	return Parse(bytes.NewReader(out))
}

// Parse scans udevadm info output for "E: KEY=value" lines.
func Parse(r io.Reader) (Info, error) {
	var info Info
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := property(line, keyModel); ok {
			info.Model = v
		}
		if v, ok := property(line, keyVendor); ok {
			info.Vendor = v
		}
	}
	return info, scanner.Err()
}

func property(line, key string) (string, bool) {
	prefix := "E: " + key + "="
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return line[len(prefix):], true
}
