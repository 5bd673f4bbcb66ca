package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/facturacion-afip/internal/application/billing"
	"github.com/jhoicas/facturacion-afip/internal/application/dto"
	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/infrastructure/afip"
	"github.com/jhoicas/facturacion-afip/internal/infrastructure/afip/signer"
	"github.com/jhoicas/facturacion-afip/internal/infrastructure/metrics"
	"github.com/jhoicas/facturacion-afip/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/facturacion-afip/internal/interfaces/http"
	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
	"github.com/jhoicas/facturacion-afip/pkg/config"
	"github.com/jhoicas/facturacion-afip/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("afip_mode", cfg.AFIP.Mode).
		Msg("iniciando aplicación")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(errors.Join(domain.ErrConfiguration, err)).Msg("configuración AFIP")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB, postgres.DefaultPoolOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migraciones")
	}

	catalogRepo := postgres.NewCatalogRepository(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	states, err := billing.ResolveStates(ctx, catalogRepo)
	if err != nil {
		log.Fatal().Err(err).Msg("catálogo de estados")
	}

	cert, err := afip.LoadCertificate(cfg.AFIP.CertPath, cfg.AFIP.KeyPath, cfg.AFIP.KeyPassphrase)
	if err != nil {
		log.Fatal().Err(err).Msg("certificado AFIP")
	}

	var cmsSigner pkgafip.Signer = signer.NewPKCS7Signer()
	if cfg.AFIP.Signer == "openssl" {
		cmsSigner = signer.NewOpenSSLSigner(cfg.AFIP.OpenSSLBin, cfg.AFIP.HTTPTimeout)
	}

	afipMetrics := metrics.New()
	loc := cfg.AFIP.Location()

	// WSAA: ticket de acceso cacheado en memoria y en disco (Credential Store)
	wsaa := afip.NewWSAAClient(afip.WSAAConfig{
		Endpoint: cfg.AFIP.WSAAURL,
		Service:  cfg.AFIP.Service,
		CUIT:     cfg.AFIP.CUIT,
		Location: loc,
		Margin:   cfg.AFIP.TicketMargin,
		Timeout:  cfg.AFIP.HTTPTimeout,
		Logger:   log,
		Observer: afipMetrics,
	}, cert, cmsSigner, afip.NewFileCredentialStore(cfg.AFIP.TicketPath, log))

	wsfe := afip.NewWSFEClient(afip.WSFEConfig{
		Endpoint: cfg.AFIP.WSFEURL,
		CUIT:     cfg.AFIP.CUIT,
		Location: loc,
		Timeout:  cfg.AFIP.HTTPTimeout,
		Logger:   log,
		Observer: afipMetrics,
	})

	// Orquestador: lock → validaciones → WSAA → FECAESolicitar → transición
	orchestrator := billing.NewAuthorizationOrchestrator(txRunner, invoiceRepo, wsaa, wsfe, states, billing.OrchestratorConfig{
		Logger:   log,
		Recorder: afipMetrics,
		Location: loc,
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.AFIP.HTTPTimeout * 4, // resync y NC encadenan varias llamadas a la autoridad
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Facturación AFIP API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(dto.HealthResponse{Status: "ok", Service: cfg.App.Name, Mode: cfg.AFIP.Mode})
	})
	app.Get("/metrics", adaptor.HTTPHandler(afipMetrics.Handler()))

	httpRouter.Router(app, httpRouter.RouterDeps{
		Authorization: orchestrator,
		JWTSecret:     cfg.JWT.Secret,
		Logger:        log,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
