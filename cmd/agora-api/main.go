package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/agoralabs/agora/pkg/cmd"
	"github.com/agoralabs/agora/pkg/log"
	"github.com/agoralabs/agora/pkg/settlement"
	"github.com/agoralabs/agora/pkg/trust"
)

const (
	defaultPort         = 9091
	defaultMinimumStake = 1000
)

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "agora-api",
		Usage:                 "Run the marketplace settlement and trust API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "governance",
				Usage:   "Account that manages the authorized caller list",
				Value:   "governance",
				Sources: cli.EnvVars("AGORA_GOVERNANCE"),
			},
			&cli.StringFlag{
				Name:    "treasury",
				Usage:   "Account that receives slashed stake",
				Value:   "treasury",
				Sources: cli.EnvVars("AGORA_TREASURY"),
			},
			&cli.UintFlag{
				Name:    "minimum-stake",
				Usage:   "Minimum stake every active agent must keep locked",
				Value:   defaultMinimumStake,
				Sources: cli.EnvVars("AGORA_MINIMUM_STAKE"),
			},
			&cli.StringSliceFlag{
				Name:    "oracle",
				Usage:   "Accounts allowed to report step outcomes on behalf of agents",
				Sources: cli.EnvVars("AGORA_ORACLES"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Agora API")

			persistence := cmd.MustPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			trustConfig := trust.Config{
				MinimumStake: uint64(command.Uint("minimum-stake")),
				Treasury:     command.String("treasury"),
				Governance:   command.String("governance"),
			}

			engineConfig := settlement.Config{
				CallerID: "settlement-engine",
				Oracles:  command.StringSlice("oracle"),
			}

			api, err := NewAPI(ctx, logger, persistence, eventBus, trustConfig, engineConfig)
			if err != nil {
				return err
			}

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
