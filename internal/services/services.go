package services

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rewards/gateway/internal/config"
	"github.com/rewards/gateway/internal/connections"
	"github.com/rewards/gateway/internal/credentials"
	"github.com/rewards/gateway/internal/credentials/sessionstore"
	"github.com/rewards/gateway/internal/infrastructure/redis"
	"github.com/rewards/gateway/internal/infrastructure/upstream"
	"github.com/rewards/gateway/internal/relay"
	"github.com/rs/zerolog/log"
)

var (
	// Mutex for thread-safe initialization
	servicesMu sync.RWMutex
)

type Services struct {
	connectionManager *connections.Manager
	credentialManager *credentials.Manager
	redisService      *redis.Service
	relay             *relay.Relay
	sessionStore      sessionstore.Store
	upstreamService   *upstream.Service
}

// InitializeServices builds the service graph and restores any persisted
// session.
func InitializeServices(ctx context.Context, upstreamCfg config.UpstreamConfig, relayOptions ...relay.Option) (*Services, error) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	log.Info().Msg("Initializing core services")

	if !upstreamCfg.Validate() {
		return nil, errors.New("upstream configuration is incomplete")
	}

	// Initialize Redis service (optional)
	redisService := redis.NewService()
	log.Info().Bool("configured", redisService != nil).Msg("Initializing Redis service")

	sessionStore := sessionstore.New(config.GetSessionStoreConfig(), redisService)

	options := append([]relay.Option{
		relay.WithHTTPClient(&http.Client{Timeout: config.GetUpstreamTimeout()}),
	}, relayOptions...)
	relayService := relay.New(relay.Config{
		BaseURL:         upstreamCfg.BaseURL,
		APIKey:          upstreamCfg.APIKey,
		BasicAuthSecret: upstreamCfg.BasicAuthSecret,
		AppVersion:      upstreamCfg.AppVersion,
		Origin:          upstreamCfg.Origin,
	}, options...)
	log.Info().Str("base_url", upstreamCfg.BaseURL).Msg("Initializing relay")

	upstreamService := upstream.NewService(relayService)

	credentialManager := credentials.New(upstreamService, sessionStore, credentials.WithConfig(config.GetCredentialsConfig()))
	if err := credentialManager.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("Starting without a restored session")
	}
	log.Info().Str("state", string(credentialManager.Session().State)).Msg("Initializing credential manager")

	log.Info().Msg("All services initialized successfully")

	return &Services{
		connectionManager: connections.NewManager(connections.DefaultTimeouts),
		credentialManager: credentialManager,
		redisService:      redisService,
		relay:             relayService,
		sessionStore:      sessionStore,
		upstreamService:   upstreamService,
	}, nil
}

func (s *Services) GetCredentialManager() *credentials.Manager {
	return s.credentialManager
}

func (s *Services) GetRelay() *relay.Relay {
	return s.relay
}

func (s *Services) GetConnectionManager() *connections.Manager {
	return s.connectionManager
}

// Shutdown cancels renewal timers, closes session streams and releases Redis.
func (s *Services) Shutdown() {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	s.credentialManager.Dispose()
	s.connectionManager.CloseAll()

	if s.redisService != nil {
		if err := s.redisService.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
	log.Info().Msg("Services shut down")
}
