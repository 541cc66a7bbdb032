package main

// @title Aeon WhatsApp Bot
// @version 1.0.0
// @description Personal WhatsApp automation bot with Instagram/TikTok media mirroring and sticker conversion

// @contact.name Diego Melo & Bruno Ruthes

// @host localhost:3000
// @BasePath /

// @securityDefinitions.apikey AdminAuth
// @in header
// @name X-Admin-Secret
// @description Admin secret key for session control endpoints

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/aeonbot/aeon/pkg/env"
	"github.com/aeonbot/aeon/pkg/log"
	"github.com/aeonbot/aeon/pkg/router"
	"github.com/aeonbot/aeon/pkg/whatsapp"

	"github.com/aeonbot/aeon/internal"
	"github.com/aeonbot/aeon/internal/bot"
	"github.com/aeonbot/aeon/internal/session"
	"github.com/aeonbot/aeon/internal/stream"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler: router.HttpErrorHandler,
		BodyLimit:    router.BodyLimitBytes(),
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs") || strings.Contains(c.Path(), "/ws")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Secret",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router Cache
	app.Use(router.HttpCacheInMemory(router.CacheTTLSeconds))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Wire the WhatsApp session, event bridge and command bot
	bridge := whatsapp.NewBridge()
	bridge.AttachStdout()
	bridge.AttachWebhook()

	manager := whatsapp.NewManager(bridge)
	aeon := bot.New(manager)

	// Load Internal Routes
	internal.Routes(app, session.NewController(manager), stream.NewController(manager))

	// Running Startup Tasks
	internal.Startup(manager)

	// Running Routines Tasks
	internal.Routines(c, manager, aeon)

	// Get Server Configuration with defaults
	var serverConfig Server

	// SERVER_ADDRESS: default "0.0.0.0" (all interfaces)
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")

	// SERVER_PORT: default "3000"
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "3000")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown

	// Wait 5 Seconds Before Graceful Shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	if err := app.ShutdownWithContext(ctxShutdown); err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Try To Shutdown Cron
	c.Stop()

	// Close the WhatsApp socket without purging stored credentials so the
	// next start can resume the session.
	manager.Shutdown()
}
