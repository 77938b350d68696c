package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/bodyclean"
	"github.com/mikey/mail-ingest/internal/config"
	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/factory"
	"github.com/mikey/mail-ingest/internal/logging"
	"github.com/mikey/mail-ingest/internal/ports"
	"github.com/mikey/mail-ingest/internal/server"
	"github.com/mikey/mail-ingest/internal/submit"
	"github.com/mikey/mail-ingest/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewCaptionerFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStateFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCatalogFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCollectorFactory); err != nil {
		return nil, err
	}

	// Register captioner
	if err := container.Provide(func(f *factory.CaptionerFactory) (ports.Captioner, error) {
		return f.CreateCaptioner()
	}); err != nil {
		return nil, err
	}

	// Register body cleaner
	if err := container.Provide(bodyclean.New); err != nil {
		return nil, err
	}

	// Register sync-state repository
	if err := container.Provide(func(f *factory.StateFactory) (ports.SyncStateRepository, error) {
		return f.CreateStateRepository()
	}); err != nil {
		return nil, err
	}

	// Register catalog client and payload builder
	if err := container.Provide(func(f *factory.CatalogFactory) (ports.CatalogClient, error) {
		return f.CreateCatalogClient()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.CatalogFactory, text *utils.TextProcessor) *submit.PayloadBuilder {
		return f.CreatePayloadBuilder(text)
	}); err != nil {
		return nil, err
	}

	// Register credential resolver
	if err := container.Provide(func() ports.CredentialResolver {
		return submit.NewEnvCredentialResolver()
	}); err != nil {
		return nil, err
	}

	// Register collectors and run service
	if err := container.Provide(func(f *factory.CollectorFactory) ([]core.Collector, error) {
		return f.CreateCollectors()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(logger *zap.Logger, collectors []core.Collector) *core.Service {
		return core.NewService(logger, collectors...)
	}); err != nil {
		return nil, err
	}

	// Register HTTP server
	if err := container.Provide(func(service *core.Service, logger *zap.Logger, cfg *config.Config) *server.Server {
		return server.New(service, logger, cfg.GetString("server.listen_address"))
	}); err != nil {
		return nil, err
	}

	return container, nil
}
