package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	v1handlers "github.com/rewards/gateway/internal/api/v1/handlers"
	v1mware "github.com/rewards/gateway/internal/api/v1/middleware"
	"github.com/rewards/gateway/internal/config"
	"github.com/rewards/gateway/internal/logger"
	"github.com/rewards/gateway/internal/services"
	"github.com/rs/zerolog/log"
)

func main() {
	config.LoadDotEnv()
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := services.InitializeServices(ctx, config.GetUpstreamConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	server := &http.Server{
		Addr:              config.GetServerAddr(),
		Handler:           setupRouter(svcs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetShutdownTimeout())
	defer cancel()

	// Close streams first; Shutdown does not wait for hijacked connections.
	svcs.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

func setupRouter(svcs *services.Services) *mux.Router {
	r := mux.NewRouter()
	r.Use(v1mware.RequestLogger)
	r.Use(v1mware.RateLimit("global"))

	r.HandleFunc("/healthz", handleHealth).Methods("GET")
	v1handlers.RegisterV1Routes(r, svcs.GetCredentialManager(), svcs.GetRelay(), svcs.GetConnectionManager())
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
