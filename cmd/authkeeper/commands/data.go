package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/authkeeper/internal/app"
)

func dataCommand() *cli.Command {
	return &cli.Command{
		Name:  "data",
		Usage: "manage application data stored next to the session",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "store a value (JSON, or a plain string)",
				ArgsUsage: "KEY VALUE",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					if cmd.NArg() != 2 {
						return errors.New("usage: authkeeper data set KEY VALUE")
					}
					data, err := a.Data()
					if err != nil {
						return err
					}
					return data.StoreData(ctx, cmd.Args().Get(0), parseValue(cmd.Args().Get(1)))
				}),
			},
			{
				Name:      "get",
				Usage:     "print a stored value as JSON",
				ArgsUsage: "KEY",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					if cmd.NArg() != 1 {
						return errors.New("usage: authkeeper data get KEY")
					}
					data, err := a.Data()
					if err != nil {
						return err
					}
					key := cmd.Args().Get(0)
					var value json.RawMessage
					found, err := data.GetData(ctx, key, &value)
					if err != nil {
						return err
					}
					if !found {
						return fmt.Errorf("no value stored for %q", key)
					}
					fmt.Fprintln(cmd.Root().Writer, string(value))
					return nil
				}),
			},
			{
				Name:      "rm",
				Usage:     "remove a stored value",
				ArgsUsage: "KEY",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					if cmd.NArg() != 1 {
						return errors.New("usage: authkeeper data rm KEY")
					}
					data, err := a.Data()
					if err != nil {
						return err
					}
					return data.RemoveData(ctx, cmd.Args().Get(0))
				}),
			},
			{
				Name:  "ls",
				Usage: "list stored keys",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					data, err := a.Data()
					if err != nil {
						return err
					}
					keys, err := data.Keys(ctx)
					if err != nil {
						return err
					}
					for _, k := range keys {
						fmt.Fprintln(cmd.Root().Writer, k)
					}
					return nil
				}),
			},
		},
	}
}

// parseValue keeps valid JSON as-is and stores anything else as a string.
func parseValue(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return arg
}
