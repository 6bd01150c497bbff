package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handlers "github.com/de-tools/identity-atlas/pkg/handlers/audit"
	schedulehandlers "github.com/de-tools/identity-atlas/pkg/handlers/schedule"
	atlasmiddleware "github.com/de-tools/identity-atlas/pkg/server/middleware"
	"github.com/de-tools/identity-atlas/pkg/services/schedule"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const defaultShutdownTimeout = 10 * time.Second

type WebAPI struct {
	router          http.Handler
	logger          *zerolog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

type Dependencies struct {
	Auditor   handlers.Auditor
	History   handlers.History
	// Scheduler is optional; schedule routes are mounted only when set.
	Scheduler schedule.Controller
	Logger    zerolog.Logger
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

func ConfigureRouter(config Config) http.Handler {
	auditHandler := handlers.NewHandler(config.Dependencies.Auditor, config.Dependencies.History)
	logger := config.Dependencies.Logger

	router := chi.NewRouter()

	router.Use(atlasmiddleware.Logger(&logger))
	router.Use(middleware.Recoverer)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/audits", auditHandler.RunAudit)
		r.Get("/audits", auditHandler.ListAudits)
		r.Get("/audits/{run}", auditHandler.GetAudit)
		r.Get("/rules", auditHandler.ListRules)
		r.Get("/platforms", auditHandler.ListPlatforms)

		if config.Dependencies.Scheduler != nil {
			scheduleHandler := schedulehandlers.NewHandler(config.Dependencies.Scheduler)
			r.Post("/schedules", scheduleHandler.CreateSchedule)
			r.Get("/schedules", scheduleHandler.ListSchedules)
			r.Delete("/schedules/{profile}", scheduleHandler.DeleteSchedule)
		}
	})

	return router
}

func NewWebAPI(config Config) *WebAPI {
	logger := config.Dependencies.Logger
	router := ConfigureRouter(config)

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	return &WebAPI{
		router: router,
		logger: &logger,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: timeout,
	}
}

func (w *WebAPI) Start() error {
	serverErrors := make(chan error, 1)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-shutdown:
		w.logger.Info().Msg("shutdown initiated")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
		defer cancel()

		err := w.server.Shutdown(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			err = w.server.Close()
		}

		if err != nil {
			return err
		}
	}

	return nil
}
