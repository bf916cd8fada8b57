package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/authkeeper/internal/app"
)

func devServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "devserver",
		Usage: "run an in-memory development backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "devserver--host",
				Usage: "listen host",
				Value: app.DefaultConfigDevServerHost,
			},
			&cli.IntFlag{
				Name:  "devserver--port",
				Usage: "listen port",
				Value: int(app.DefaultConfigDevServerPort),
			},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			slog.InfoContext(ctx, "starting")

			if err := a.ServeDev(ctx); err != nil {
				return fmt.Errorf("dev server failed: %w", err)
			}

			slog.InfoContext(ctx, "stopped gracefully")
			return nil
		}),
	}
}
