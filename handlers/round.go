package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/middleware"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/services"
)

func SetupRoundRoutes(app *fiber.App, roundService *services.RoundService, authClient *services.AuthServiceClient) {
	// 🔓 SSE stream — EventSource can't send headers, auth comes from query params
	app.Get("/rounds/:id/events/stream", middleware.SSEAuthMiddleware(authClient), roundService.StreamRoundEventsSSE)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Round views
	secured.Get("/rounds", roundService.GetAllRounds)
	secured.Get("/rounds/:id", roundService.GetRoundByID)
	secured.Get("/rounds/:id/winners", roundService.GetRoundWinners)
	secured.Get("/rounds/:id/events", roundService.GetRoundEvents)

	// Participant operations
	secured.Post("/rounds/:id/deposit", roundService.Deposit)

	// 🔒 Admin-only lifecycle operations — the gateway enforces who gets here
	admin := secured.Group("/admin")
	admin.Post("/rounds", roundService.CreateRound)
	admin.Post("/rounds/:id/open", roundService.OpenRound)
	admin.Post("/rounds/:id/evaluate", roundService.Evaluate)
	admin.Post("/rounds/:id/settle", roundService.Settle)
	admin.Post("/rounds/:id/reset", roundService.Reset)
}
