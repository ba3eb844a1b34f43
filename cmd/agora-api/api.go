// Package main provides the Agora API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/agoralabs/agora/pkg/assets"
	"github.com/agoralabs/agora/pkg/eventbus"
	"github.com/agoralabs/agora/pkg/otelhelper"
	"github.com/agoralabs/agora/pkg/persistence"
	"github.com/agoralabs/agora/pkg/settlement"
	"github.com/agoralabs/agora/pkg/trust"
	"github.com/agoralabs/agora/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *settlement.Engine
	trust       *trust.Ledger
	validate    *validator.Validate
}

func NewAPI(
	ctx context.Context,
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	trustConfig trust.Config,
	engineConfig settlement.Config,
) (*API, error) {
	assetLedger := assets.NewMemoryLedger()

	trustLedger, err := trust.NewLedger(trustConfig, assetLedger, store.AgentRepository(), eventBus, logger)
	if err != nil {
		return nil, err
	}

	if err := trustLedger.AuthorizeCaller(trustConfig.Governance, engineConfig.CallerID); err != nil {
		return nil, err
	}

	tracer, err := otelhelper.NewTracer(ctx, "agora-api")
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)

		tracer = nil
	}

	engine := settlement.NewEngine(engineConfig, assetLedger, trustLedger, store.WorkflowRepository(), eventBus, tracer, logger)

	return &API{
		logger:      logger,
		persistence: store,
		engine:      engine,
		trust:       trustLedger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.trust, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Agora API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Post("/:id/start", handlers.StartWorkflow)
	w.Post("/:id/cancel", handlers.CancelWorkflow)
	w.Post("/:id/expire", handlers.ExpireWorkflow)

	w.Get("/:id/steps", handlers.GetWorkflowSteps)
	w.Post("/:id/steps", handlers.AddStep)
	w.Post("/:id/steps/:stepId/accept", handlers.AcceptStep)
	w.Post("/:id/steps/:stepId/complete", handlers.CompleteStep)
	w.Post("/:id/steps/:stepId/fail", handlers.FailStep)

	ag := app.Group("/agents")
	ag.Get("/", handlers.GetAgentsByCapability)
	ag.Post("/", handlers.RegisterAgent)
	ag.Get("/:id", handlers.GetAgent)
	ag.Post("/:id/stake", handlers.AddStake)
	ag.Post("/:id/withdraw", handlers.WithdrawStake)
	ag.Post("/:id/deactivate", handlers.DeactivateAgent)
	ag.Post("/:id/reactivate", handlers.ReactivateAgent)
	ag.Post("/:id/slash", handlers.SlashAgent)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
