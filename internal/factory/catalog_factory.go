package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/config"
	"github.com/mikey/mail-ingest/internal/ports"
	"github.com/mikey/mail-ingest/internal/submit"
	"github.com/mikey/mail-ingest/internal/utils"
)

// CatalogFactory creates the catalog submission client and payload builder
type CatalogFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCatalogFactory creates a new catalog factory
func NewCatalogFactory(cfg *config.Config, logger *zap.Logger) *CatalogFactory {
	return &CatalogFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCatalogClient creates the HTTP submission client from configuration
func (f *CatalogFactory) CreateCatalogClient() (ports.CatalogClient, error) {
	timeout, err := f.cfg.GetDuration("catalog.timeout")
	if err != nil {
		return nil, fmt.Errorf("invalid catalog timeout: %w", err)
	}
	backoffBase, err := f.cfg.GetDuration("catalog.backoff_base")
	if err != nil {
		return nil, fmt.Errorf("invalid catalog backoff base: %w", err)
	}

	return submit.NewClient(submit.Options{
		BaseURL:          f.cfg.GetString("catalog.base_url"),
		Token:            f.cfg.GetString("catalog.token"),
		Timeout:          timeout,
		MaxAttempts:      f.cfg.GetInt("catalog.max_attempts"),
		RateLimitRetries: f.cfg.GetInt("catalog.rate_limit_retries"),
		BackoffBase:      backoffBase,
	}, f.logger), nil
}

// CreatePayloadBuilder creates the payload builder with the configured body
// size bound
func (f *CatalogFactory) CreatePayloadBuilder(text *utils.TextProcessor) *submit.PayloadBuilder {
	return submit.NewPayloadBuilder(text, f.logger, f.cfg.GetInt("catalog.max_body_bytes"))
}
