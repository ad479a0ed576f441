package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/nmconsole/internal/api"
	"github.com/martinsuchenak/nmconsole/internal/bus"
	"github.com/martinsuchenak/nmconsole/internal/config"
	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/nm"
	"github.com/martinsuchenak/nmconsole/internal/udev"
)

// inline runs watcher jobs on the calling goroutine so a one-shot read is
// complete, udev names included, when Sync returns.
type inline struct {
	ctx context.Context
}

func (i inline) Go(id string, fn func(context.Context) error) {
	if err := fn(i.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s: %v\n", id, err)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "bus",
			Usage:        "Bus to read NetworkManager from (system, session)",
			DefaultValue: bus.KindSystem,
			EnvVars:      []string{config.EnvPrefix + "BUS"},
		},
		&cli.StringFlag{
			Name:         "udev-command",
			Usage:        "udevadm binary used for hardware names",
			DefaultValue: udev.DefaultCommand,
			EnvVars:      []string{config.EnvPrefix + "UDEV_COMMAND"},
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print JSON instead of text",
		},
	}
}

// Commands returns the device subcommands
func Commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:        "list",
			Usage:       "List network devices",
			Description: "Read the devices NetworkManager manages from the local bus",
			Flags: append(flags(), &cli.BoolFlag{
				Name:  "all",
				Usage: "Include the loopback device",
			}),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				m, err := load(ctx, cmd)
				if err != nil {
					return err
				}
				devices := api.FilterDevices(m.Devices(), cmd.GetBool("all"))
				if cmd.GetBool("json") {
					return printJSON(devices)
				}
				printDevices(devices)
				return nil
			},
		},
		{
			Name:        "show",
			Usage:       "Show a network device",
			Description: "Show one device and the connections available to it",
			Flags:       flags(),
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "interface", Required: true},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				m, err := load(ctx, cmd)
				if err != nil {
					return err
				}
				d, err := m.FindDevice(cmd.GetStringArg("interface"))
				if err != nil {
					return err
				}
				var conns []model.Connection
				for _, path := range d.AvailableConnections {
					if c, err := m.Connection(path); err == nil {
						conns = append(conns, c)
					}
				}
				if cmd.GetBool("json") {
					return printJSON(api.DeviceDetail{Device: d, Connections: conns})
				}
				printDevice(d, conns)
				return nil
			},
		},
	}
}

func load(ctx context.Context, cmd *cli.Command) (*nm.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	b, err := bus.Dial(ctx, cmd.GetString("bus"))
	if err != nil {
		return nil, err
	}
	defer b.Close()

	m := nm.NewModel(b.ByteOrder())
	w := nm.NewWatcher(b, m, inline{ctx: ctx},
		nm.WithEnricher(udev.NewClient(cmd.GetString("udev-command"), nil)))
	if err := w.Sync(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDevices(devices []model.Device) {
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\t%s\t%s\n", d.Interface, d.State, d.HwAddress, strings.Join(d.Addresses(), ","))
	}
}

func printDevice(d model.Device, conns []model.Connection) {
	fmt.Printf("Interface:   %s\n", d.Interface)
	fmt.Printf("State:       %s\n", d.State)
	fmt.Printf("MAC:         %s\n", d.HwAddress)
	fmt.Printf("Hardware:    %s %s\n", d.IdVendor, d.IdModel)
	fmt.Println("Addresses:")
	for _, a := range d.IP4 {
		fmt.Printf("  - %s", a.CIDR())
		if a.Gateway != "" {
			fmt.Printf(" via %s", a.Gateway)
		}
		fmt.Println()
	}
	for _, a := range d.IP6 {
		fmt.Printf("  - %s\n", a.CIDR())
	}
	fmt.Println("Connections:")
	for _, c := range conns {
		fmt.Printf("  - %s (%s)\n", c.ID, c.UUID)
	}
}
