package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/paularlott/cli"
	"golang.org/x/term"

	"github.com/martinsuchenak/nmconsole/internal/api"
	"github.com/martinsuchenak/nmconsole/internal/config"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "server",
			Aliases:      []string{"s"},
			Usage:        "Console server URL",
			DefaultValue: "http://localhost:8080",
			EnvVars:      []string{config.EnvPrefix + "SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "API bearer token",
			EnvVars: []string{config.EnvPrefix + "API_TOKEN"},
		},
	}
}

func clientFor(cmd *cli.Command) *client {
	return newClient(cmd.GetString("server"), cmd.GetString("token"))
}

func idArg() []cli.Argument {
	return []cli.Argument{&cli.StringArg{Name: "id", Required: true}}
}

// Commands returns the connection subcommands
func Commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:        "list",
			Usage:       "List connections",
			Description: "List the saved connections with their pending edits",
			Flags:       flags(),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				conns, err := clientFor(cmd).list(ctx)
				if err != nil {
					return err
				}
				if len(conns) == 0 {
					fmt.Println("No connections found")
					return nil
				}
				for _, c := range conns {
					marker := ""
					if len(c.Pending) > 0 {
						marker = "\t(pending edits)"
					}
					fmt.Printf("%s\t%s\t%s%s\n", c.UUID, c.ID, c.Type, marker)
				}
				return nil
			},
		},
		{
			Name:        "show",
			Usage:       "Show a connection",
			Description: "Show the effective settings of a connection, by path, UUID or name",
			Flags:       flags(),
			Arguments:   idArg(),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				c, err := clientFor(cmd).get(ctx, cmd.GetStringArg("id"))
				if err != nil {
					return err
				}
				printConnection(c)
				return nil
			},
		},
		{
			Name:        "set",
			Usage:       "Stage a setting",
			Description: "Stage group.key = value on a connection. The value is parsed as JSON when it can be.",
			Flags: append(flags(), &cli.BoolFlag{
				Name:  "secret",
				Usage: "Read the value from the terminal without echo",
			}),
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
				&cli.StringArg{Name: "group", Required: true},
				&cli.StringArg{Name: "key", Required: true},
				&cli.StringArg{Name: "value"},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				raw := cmd.GetStringArg("value")
				if cmd.GetBool("secret") {
					secret, err := readSecret()
					if err != nil {
						return err
					}
					raw = secret
				}
				c, err := clientFor(cmd).setPending(ctx, cmd.GetStringArg("id"), api.PendingRequest{
					Group: cmd.GetStringArg("group"),
					Key:   cmd.GetStringArg("key"),
					Value: parseValue(raw),
				})
				if err != nil {
					return err
				}
				fmt.Printf("Staged %s.%s on %s\n", cmd.GetStringArg("group"), cmd.GetStringArg("key"), c.ID)
				return nil
			},
		},
		{
			Name:        "unset",
			Usage:       "Drop a staged setting",
			Description: "Remove one staged value so the saved value shows through again",
			Flags:       flags(),
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
				&cli.StringArg{Name: "group", Required: true},
				&cli.StringArg{Name: "key", Required: true},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				_, err := clientFor(cmd).setPending(ctx, cmd.GetStringArg("id"), api.PendingRequest{
					Group: cmd.GetStringArg("group"),
					Key:   cmd.GetStringArg("key"),
					Unset: true,
				})
				return err
			},
		},
		{
			Name:        "discard",
			Usage:       "Discard staged edits",
			Description: "Drop every staged edit of a connection",
			Flags:       flags(),
			Arguments:   idArg(),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				if err := clientFor(cmd).discard(ctx, cmd.GetStringArg("id")); err != nil {
					return err
				}
				fmt.Println("Pending edits discarded")
				return nil
			},
		},
		{
			Name:        "apply",
			Usage:       "Apply staged edits",
			Description: "Submit the staged edits of a connection to NetworkManager",
			Flags:       flags(),
			Arguments:   idArg(),
			Run: func(ctx context.Context, cmd *cli.Command) error {
				c, err := clientFor(cmd).apply(ctx, cmd.GetStringArg("id"))
				if err != nil {
					return err
				}
				fmt.Printf("Applied %s\n", c.ID)
				return nil
			},
		},
	}
}

func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--secret needs an interactive terminal")
	}
	fmt.Fprint(os.Stderr, "Value: ")
	value, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func printConnection(c model.Connection) {
	fmt.Printf("ID:      %s\n", c.ID)
	fmt.Printf("UUID:    %s\n", c.UUID)
	fmt.Printf("Type:    %s\n", c.Type)
	fmt.Printf("Path:    %s\n", c.Path)
	fmt.Println("Settings:")
	for _, g := range sortedKeys(c.Effective) {
		for _, k := range sortedKeys(c.Effective[g]) {
			marker := " "
			if _, ok := c.Pending.Get(g, k); ok {
				marker = "*"
			}
			fmt.Printf(" %s %s.%s = %v\n", marker, g, k, c.Effective[g][k])
		}
	}
	if len(c.Pending) > 0 {
		fmt.Println("(* staged, not yet applied)")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
