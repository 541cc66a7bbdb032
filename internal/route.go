package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	"github.com/aeonbot/aeon/pkg/auth"
	"github.com/aeonbot/aeon/pkg/router"

	ctlIndex "github.com/aeonbot/aeon/internal/index"
	ctlSession "github.com/aeonbot/aeon/internal/session"
	ctlStream "github.com/aeonbot/aeon/internal/stream"
)

func Routes(app *fiber.App, session *ctlSession.Controller, stream *ctlStream.Controller) {
	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile("docs/swagger.json")
	})
	app.Get(router.BaseURL+"/docs/*", swaggerHandler)

	// Health probe stays unauthenticated for container orchestration
	// ---------------------------------------------
	app.Get(router.BaseURL+"/health", session.Health)

	// Session control routes (X-Admin-Secret authentication)
	// ---------------------------------------------
	adminMiddleware := auth.AdminAuth()

	app.Post(router.BaseURL+"/api/start-bot", adminMiddleware, session.StartBot)
	app.Post(router.BaseURL+"/api/start-qr", adminMiddleware, session.StartQR)
	app.Post(router.BaseURL+"/api/connect-qr", adminMiddleware, session.StartQR)
	app.Post(router.BaseURL+"/api/start-pairing", adminMiddleware, session.StartPairing)
	app.Post(router.BaseURL+"/api/connect-pairing", adminMiddleware, session.StartPairing)
	app.Post(router.BaseURL+"/api/disconnect", adminMiddleware, session.Disconnect)
	app.Get(router.BaseURL+"/api/status", adminMiddleware, session.Status)

	// Websocket event stream
	// ---------------------------------------------
	app.Use(router.BaseURL+"/ws", stream.Upgrade)
	app.Get(router.BaseURL+"/ws", stream.Handler())
}
