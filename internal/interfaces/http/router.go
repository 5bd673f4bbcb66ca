package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturacion-afip/pkg/jwt"
	"github.com/jhoicas/facturacion-afip/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Authorization authorizationService
	JWTSecret     string
	Logger        *logger.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api", RequestID(), RequestLogger(deps.Logger), AuthMiddleware(deps.JWTSecret))

	h := NewInvoiceHandler(deps.Authorization)
	operators := RequireRole(jwt.RoleAdmin, jwt.RoleFacturacion)
	readers := RequireRole(jwt.RoleAdmin, jwt.RoleFacturacion, jwt.RoleConsulta)

	// Invoices: operaciones con la autoridad
	invoices := api.Group("/invoices")
	invoices.Post("/resync", operators, h.Resync)
	invoices.Post("/:id/authorize", operators, h.Authorize)
	invoices.Post("/:id/credit-note", operators, h.CreditNote)
	invoices.Get("/:id/afip", readers, h.Verify)

	// Consultas al numerador
	afip := api.Group("/afip")
	afip.Get("/last-authorized", readers, h.LastAuthorized)
}
