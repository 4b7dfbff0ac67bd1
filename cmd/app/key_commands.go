package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/fieldops/resilience/cmd/app/commands"
	cryptoService "github.com/fieldops/resilience/internal/crypto/service"
	"github.com/fieldops/resilience/internal/operator"
)

func getKeyCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create-operator-token",
			Usage: "Generate an operator bearer token and its Argon2id hash",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunCreateOperatorToken(
					operator.NewTokenService(),
					os.Stdout,
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "create-payload-key",
			Usage: "Generate a payload encryption key wrapped by a KMS key",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "kms-key-uri",
					Required: true,
					Usage:    "KMS key URI (e.g., base64key://, gcpkms://projects/.../cryptoKeys/...)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunCreatePayloadKey(
					ctx,
					cryptoService.NewKMSService(),
					os.Stdout,
					cmd.String("kms-key-uri"),
					cmd.String("format"),
				)
			},
		},
	}
}
