package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/fieldops/resilience/cmd/app/commands"
	"github.com/fieldops/resilience/internal/app"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Start the HTTP server",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunServer(ctx, version)
			},
		},
		{
			Name:  "worker",
			Usage: "Process queued jobs and run scheduled maintenance",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunWorker(ctx, version)
			},
		},
		{
			Name:  "migrate",
			Usage: "Apply the embedded schema migrations for DB_DRIVER",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(c *app.Container) error {
					cfg := c.Config()
					return commands.RunMigrations(c.Logger(), cfg.DBDriver, cfg.DBConnectionString)
				})
			},
		},
		{
			Name:  "purge-idempotency",
			Usage: "Delete idempotency records whose TTL has elapsed",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(c *app.Container) error {
					ledger, err := c.Ledger()
					if err != nil {
						return err
					}
					return commands.RunPurgeIdempotency(
						ctx, ledger, c.Logger(), os.Stdout, cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "clean-audit-logs",
			Usage: "Delete operator audit entries past their retention",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:     "days",
					Aliases:  []string{"d"},
					Required: true,
					Usage:    "Retention in days; older entries are deleted",
				},
				&cli.BoolFlag{
					Name:    "dry-run",
					Aliases: []string{"n"},
					Usage:   "Count matching entries without deleting them",
				},
				actorFlag(),
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(c *app.Container) error {
					auditLogUseCase, err := c.AuditLogUseCase()
					if err != nil {
						return err
					}
					return commands.RunCleanAuditLogs(
						ctx,
						auditLogUseCase,
						c.Logger(),
						os.Stdout,
						cmd.String("actor"),
						int(cmd.Int("days")),
						cmd.Bool("dry-run"),
						cmd.String("format"),
					)
				})
			},
		},
	}
}
