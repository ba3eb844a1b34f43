package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/agoralabs/agora/pkg/persistence"
	"github.com/agoralabs/agora/pkg/settlement"
	"github.com/agoralabs/agora/pkg/trust"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func forbidden(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(403).
		WithInstance(c.Path()).
		WithType("authorization_error").
		WithDetail(detail)

	return c.Status(fiber.StatusForbidden).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("state_error").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps the ledger error taxonomy onto HTTP statuses:
// validation 400, authorization 403, not-found 404, state conflict 409,
// invariant violation 500.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case settlement.IsValidationError(err) || trust.IsValidationError(err):
		return badRequest(c, err.Error())
	case settlement.IsAuthorizationError(err) || trust.IsAuthorizationError(err):
		return forbidden(c, err.Error())
	case persistence.IsWorkflowNotFound(err) || persistence.IsAgentNotFound(err) || persistence.IsStepNotFound(err):
		return notFound(c, err.Error())
	case settlement.IsStateError(err) || trust.IsStateError(err):
		return conflict(c, err.Error())
	default:
		return internalError(c, err)
	}
}
