package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/adapters/captioner"
	"github.com/mikey/mail-ingest/internal/config"
	"github.com/mikey/mail-ingest/internal/ports"
)

// CaptionerFactory creates caption/OCR clients based on configuration
type CaptionerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCaptionerFactory creates a new captioner factory
func NewCaptionerFactory(cfg *config.Config, logger *zap.Logger) *CaptionerFactory {
	return &CaptionerFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCaptioner creates a captioner based on the configuration. Provider
// "none" returns nil, which the body cleaner treats as OCR disabled.
func (f *CaptionerFactory) CreateCaptioner() (ports.Captioner, error) {
	provider := f.cfg.GetString("captioner.provider")

	switch provider {
	case "", "none":
		return nil, nil
	case "openai":
		return captioner.NewOpenAICaptioner(
			f.cfg.GetString("captioner.openai.api_key"),
			f.cfg.GetString("captioner.openai.model_name"),
			f.cfg.GetInt("captioner.openai.max_tokens"),
			f.logger,
		), nil
	case "gemini":
		return captioner.NewGeminiCaptioner(
			f.cfg.GetString("captioner.gemini.api_key"),
			f.cfg.GetString("captioner.gemini.model_name"),
			f.cfg.GetInt("captioner.gemini.max_tokens"),
			f.logger,
		)
	default:
		return nil, fmt.Errorf("unsupported captioner provider: %s", provider)
	}
}
