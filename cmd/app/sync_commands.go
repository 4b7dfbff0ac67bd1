package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/fieldops/resilience/cmd/app/commands"
	"github.com/fieldops/resilience/internal/app"
	syncUseCase "github.com/fieldops/resilience/internal/sync/usecase"
)

// withSyncEngine opens the local sync store for the duration of fn.
func withSyncEngine(ctx context.Context, fn func(*app.Container, syncUseCase.Engine) error) error {
	return withContainer(ctx, func(c *app.Container) error {
		engine, err := c.SyncEngine()
		if err != nil {
			return fmt.Errorf("failed to initialize sync engine: %w", err)
		}
		return fn(c, engine)
	})
}

func getSyncCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "sync-now",
			Usage: "Pull server changes and push queued local changes once",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withSyncEngine(ctx, func(_ *app.Container, engine syncUseCase.Engine) error {
					return commands.RunSyncNow(ctx, engine, os.Stdout, cmd.String("format"))
				})
			},
		},
		{
			Name:  "sync-run",
			Usage: "Sync periodically until interrupted",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer cancel()
				return withSyncEngine(ctx, func(container *app.Container, engine syncUseCase.Engine) error {
					return commands.RunSyncDaemon(ctx, engine, container.Logger())
				})
			},
		},
		{
			Name:  "sync-conflicts",
			Usage: "List local entities in conflict with the server",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withSyncEngine(ctx, func(_ *app.Container, engine syncUseCase.Engine) error {
					return commands.RunSyncConflicts(ctx, engine, os.Stdout, cmd.String("format"))
				})
			},
		},
		{
			Name:  "sync-resolve",
			Usage: "Resolve a conflict (keep_local, accept_server, merge or auto)",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "id",
					Aliases:  []string{"i"},
					Required: true,
					Usage:    "Local entity ID (UUID)",
				},
				&cli.StringFlag{
					Name:    "strategy",
					Aliases: []string{"s"},
					Value:   "auto",
					Usage:   "Resolution strategy",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withSyncEngine(ctx, func(container *app.Container, engine syncUseCase.Engine) error {
					return commands.RunSyncResolve(
						ctx,
						engine,
						container.Logger(),
						os.Stdout,
						cmd.String("id"),
						cmd.String("strategy"),
						cmd.String("format"),
					)
				})
			},
		},
	}
}
