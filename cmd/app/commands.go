package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/fieldops/resilience/internal/app"
	"github.com/fieldops/resilience/internal/config"
)

func getCommands(version string) []*cli.Command {
	var cmds []*cli.Command
	for _, group := range [][]*cli.Command{
		getSystemCommands(version),
		getQueueCommands(),
		getKeyCommands(),
		getSyncCommands(),
	} {
		cmds = append(cmds, group...)
	}
	return cmds
}

// withContainer runs fn against a container built from the environment and
// releases its connections afterwards.
func withContainer(ctx context.Context, fn func(*app.Container) error) error {
	container := app.NewContainer(config.Load())
	defer func() { _ = container.Shutdown(ctx) }()
	return fn(container)
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}
