package grants

import (
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/backend"
	"github.com/david/grant-desk/internal/config"
	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

const cacheKey = "grants"

// NewCoordinator wires the three grant-list tiers from configuration.
func NewCoordinator(cfg config.Backend, creds retrieval.Credentials, logger *zap.Logger) *retrieval.Coordinator[[]models.Grant] {
	primary := retrieval.NewPrimary(retrieval.PrimaryConfig{
		BaseURL:     cfg.BaseURL,
		Path:        cfg.GrantsPath,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		Timeout:     cfg.Timeout,
	}, creds, backend.DecodeGrants(models.ProvenanceAPI), logger)

	fallback := retrieval.NewFallback(retrieval.FallbackConfig{
		BaseURL: cfg.BaseURL,
		Path:    cfg.FallbackPath,
		Timeout: cfg.FallbackTimeout,
	}, backend.DecodeGrants(models.ProvenanceFallback))

	cache := retrieval.NewCache[[]models.Grant](cfg.CacheTTL, nil)
	return retrieval.NewCoordinator[[]models.Grant](primary, fallback, cache, cacheKey, logger)
}
