// Command resilience runs the API server, queue workers, sync daemon and the
// operator tooling around them.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "resilience",
		Usage:   "Idempotent execution, circuit breaking, durable retries and offline sync",
		Version: version,
		Description: "Configuration is read from the environment (and a .env file when present). " +
			"Per-service thresholds, queues and fallbacks come from SERVICES_CONFIG_FILE.",
		EnableShellCompletion: true,
		Commands:              getCommands(version),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.String("command", commandName(os.Args)), slog.Any("error", err))
		os.Exit(1)
	}
}

func commandName(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return args[1]
}
