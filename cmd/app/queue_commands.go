package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/fieldops/resilience/cmd/app/commands"
	"github.com/fieldops/resilience/internal/app"
	"github.com/fieldops/resilience/internal/operator"
)

func actorFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "actor",
		Aliases: []string{"a"},
		Value:   operator.DefaultActor,
		Usage:   "Operator recorded in the audit log",
	}
}

func jobIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Aliases:  []string{"i"},
		Required: true,
		Usage:    "Job ID (UUID)",
	}
}

func getQueueCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "queue-status",
			Usage: "Show job counts per status",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "queue",
					Aliases: []string{"q"},
					Usage:   "Queue name (omit for every configured queue)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(c *app.Container) error {
					queue, err := c.Queue()
					if err != nil {
						return err
					}

					return commands.RunQueueStatus(
						ctx,
						queue,
						os.Stdout,
						cmd.String("queue"),
						cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "dlq-list",
			Usage: "List dead-lettered jobs of a queue",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "queue",
					Aliases:  []string{"q"},
					Required: true,
					Usage:    "Queue name",
				},
				&cli.IntFlag{
					Name:  "offset",
					Value: 0,
					Usage: "Number of jobs to skip",
				},
				&cli.IntFlag{
					Name:    "limit",
					Aliases: []string{"l"},
					Value:   50,
					Usage:   "Maximum number of jobs to list",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(c *app.Container) error {
					queue, err := c.Queue()
					if err != nil {
						return err
					}

					return commands.RunListDeadLetters(
						ctx,
						queue,
						os.Stdout,
						cmd.String("queue"),
						int(cmd.Int("offset")),
						int(cmd.Int("limit")),
						cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "dlq-retry",
			Usage: "Requeue a dead-lettered job with a fresh attempt budget",
			Flags: []cli.Flag{jobIDFlag(), actorFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(c *app.Container) error {
					queue, err := c.Queue()
					if err != nil {
						return err
					}

					return commands.RunRetryDeadLetter(
						ctx,
						queue,
						c.Logger(),
						os.Stdout,
						cmd.String("id"),
						cmd.String("actor"),
						cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "dlq-discard",
			Usage: "Discard a dead-lettered job",
			Flags: []cli.Flag{jobIDFlag(), actorFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(c *app.Container) error {
					queue, err := c.Queue()
					if err != nil {
						return err
					}

					return commands.RunDiscardDeadLetter(
						ctx,
						queue,
						c.Logger(),
						os.Stdout,
						cmd.String("id"),
						cmd.String("actor"),
						cmd.String("format"),
					)
				})
			},
		},
	}
}
