package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/handlers"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/middleware"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/services"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/utils"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Round{},
		&models.RoundParticipant{},
		&models.RoundWinner{},
		&models.RoundEvent{},
		&models.HoldingsMirror{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	scoringServiceURL := os.Getenv("SCORING_SERVICE_URL")
	if scoringServiceURL == "" {
		log.Fatal("SCORING_SERVICE_URL environment variable not set")
	}
	treasuryServiceURL := os.Getenv("TREASURY_SERVICE_URL")
	if treasuryServiceURL == "" {
		log.Fatal("TREASURY_SERVICE_URL environment variable not set")
	}
	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("RUMBLE_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("RUMBLE_SERVICE_TOKEN environment variable not set")
	}

	scoringClient := services.NewScoringClient(scoringServiceURL, serviceToken)
	treasuryClient := services.NewTreasuryClient(treasuryServiceURL, serviceToken)
	authClient := services.NewAuthServiceClient(authServiceURL, serviceToken)

	roundService := services.NewRoundService(db, scoringClient, treasuryClient)

	// Holdings mirror — keeps the holdings sub-score fed without remote calls
	// inside settlement.
	holdingsSyncClient := workers.NewHoldingsSyncClient(db)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go workers.PollHoldings(ctx, holdingsSyncClient, 30*time.Second)

	roundService.StartSettlementScheduler()

	handlers.SetupRoundRoutes(app, roundService, authClient)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Holdings polling running (every 30s)")
	log.Println("✅ Settlement scheduler running (every 1m)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
