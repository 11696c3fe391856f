package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"civic-engagement-system/handlers"
	"civic-engagement-system/middleware"
	"civic-engagement-system/models"
	"civic-engagement-system/services"
	"civic-engagement-system/utils"
	"civic-engagement-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 25 * 1024 * 1024, // badge icons only, keep it small
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
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
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.CitizenUser{},
		&models.LedgerEntry{},
		&models.UserProgress{},
		&models.CategoryProgress{},
		&models.BadgeType{},
		&models.UserBadge{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if utils.R2Configured() {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
	} else {
		log.Println("⚠️  R2 not configured, badge icons stored on local disk")
		if err := utils.EnsureUploadDir(); err != nil {
			log.Fatal("failed to ensure upload dir:", err)
		}
	}

	// Optional redis: leaderboard page cache + cross-instance event channel.
	cache, err := services.NewLeaderboardCache()
	if err != nil {
		log.Fatal("failed to connect to redis:", err)
	}
	if cache == nil {
		log.Println("⚠️  REDIS_ADDR not set, leaderboard cache and event channel disabled")
	}

	events := services.NewEventBus(cache.Client(), os.Getenv("EVENT_CHANNEL"))

	ledgerService := services.NewLedgerService(db)
	badgeService := services.NewBadgeService(db, ledgerService)
	leaderboardService := services.NewLeaderboardService(db)
	leaderboardService.Cache = cache

	ledgerService.Badges = badgeService
	ledgerService.Boards = leaderboardService
	ledgerService.Events = events
	badgeService.Events = events

	if err := badgeService.SeedCatalog(); err != nil {
		log.Fatal("failed to seed badge catalog:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warm the rank indexes from the ledger before serving queries.
	if err := leaderboardService.RebuildAll(ctx); err != nil {
		log.Fatal("failed to build leaderboards:", err)
	}

	leaderboardService.StartMaintenanceScheduler()

	// --- CONFIGURE profile sync ---
	profileSyncURL := os.Getenv("PROFILE_SYNC_URL")
	if profileSyncURL == "" {
		log.Fatal("PROFILE_SYNC_URL environment variable not set")
	}
	serviceToken := os.Getenv("CIVIC_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("CIVIC_SERVICE_TOKEN environment variable not set")
	}
	// --- END CONFIG ---

	syncWorker := workers.NewCitizenSyncWorker(db, profileSyncURL, "/api/v1/public/profiles", serviceToken)
	syncWorker.Start(ctx)

	handlers.SetupGamificationRoutes(app, ledgerService, badgeService, leaderboardService, events)
	handlers.SetupLeaderboardRoutes(app, leaderboardService, badgeService)

	app.Static("/uploads", "./uploads")

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Citizen Sync Worker running")
	log.Println("✅ Leaderboard maintenance scheduler running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = cache.Close()
}
