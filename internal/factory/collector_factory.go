package factory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/adapters/imapsource"
	"github.com/mikey/mail-ingest/internal/adapters/localmail"
	"github.com/mikey/mail-ingest/internal/bodyclean"
	"github.com/mikey/mail-ingest/internal/config"
	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/ports"
	"github.com/mikey/mail-ingest/internal/submit"
)

// CollectorFactory creates the mail source collectors
type CollectorFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	states  ports.SyncStateRepository
	cleaner *bodyclean.Cleaner
	builder *submit.PayloadBuilder
	catalog ports.CatalogClient
	creds   ports.CredentialResolver
}

// NewCollectorFactory creates a new collector factory
func NewCollectorFactory(cfg *config.Config, logger *zap.Logger, states ports.SyncStateRepository,
	cleaner *bodyclean.Cleaner, builder *submit.PayloadBuilder, catalog ports.CatalogClient,
	creds ports.CredentialResolver) *CollectorFactory {
	return &CollectorFactory{
		cfg:     cfg,
		logger:  logger,
		states:  states,
		cleaner: cleaner,
		builder: builder,
		catalog: catalog,
		creds:   creds,
	}
}

// CreateCollectors creates every configured collector. The local collector
// is only constructed when an index path is configured; the remote one is
// always registered so a disabled state surfaces as 503 rather than 404.
func (f *CollectorFactory) CreateCollectors() ([]core.Collector, error) {
	var collectors []core.Collector

	local, err := f.createLocal()
	if err != nil {
		return nil, err
	}
	if local != nil {
		collectors = append(collectors, local)
	}
	collectors = append(collectors, f.createRemote())
	return collectors, nil
}

func (f *CollectorFactory) createLocal() (core.Collector, error) {
	indexPath := f.cfg.GetString("local.index_path")
	if indexPath == "" {
		f.logger.Info("Local mailbox collector not configured, skipping")
		return nil, nil
	}
	root := f.cfg.GetString("local.mailbox_root")

	indexer, err := localmail.NewIndexer(indexPath, root, f.cfg.GetInt("local.scan_cap"), f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open local mail index: %w", err)
	}
	return localmail.NewCollector(indexer, f.states, f.cleaner, f.builder, f.catalog,
		f.logger, root, f.cfg.GetBool("local.enabled")), nil
}

func (f *CollectorFactory) createRemote() core.Collector {
	cache := imapsource.NewRunCache(
		f.cfg.GetString("remote.cache_dir"),
		f.cfg.GetInt64("remote.cache_max_bytes"),
		f.logger,
	)
	cache.SweepStaleRuns()

	fetchTimeout, err := f.cfg.GetDuration("remote.fetch_timeout")
	if err != nil {
		f.logger.Warn("Invalid remote.fetch_timeout, using 60s", zap.Error(err))
		fetchTimeout = 60 * time.Second
	}
	clientCfg := imapsource.ClientConfig{
		Host:         f.cfg.GetString("remote.host"),
		Port:         f.cfg.GetInt("remote.port"),
		Username:     f.cfg.GetString("remote.username"),
		Folder:       f.cfg.GetString("remote.folder"),
		FetchTimeout: fetchTimeout,
	}
	dial := func(_ context.Context, password string) (imapsource.Session, error) {
		return imapsource.Dial(clientCfg, password)
	}

	var floor time.Time
	if s := f.cfg.GetString("remote.floor"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			floor = t.UTC()
		} else {
			f.logger.Warn("Invalid remote.floor, ignoring", zap.String("value", s))
		}
	}

	engine := imapsource.NewEngine(dial, cache, f.cleaner, f.builder, f.catalog, f.creds,
		f.logger, imapsource.EngineConfig{
			Folder:     clientCfg.Folder,
			WindowDays: f.cfg.GetInt("remote.window_days"),
			MaxWindows: f.cfg.GetInt("remote.max_windows"),
			Floor:      floor,
		})
	return imapsource.NewCollector(engine, f.cfg.GetBool("remote.enabled"))
}
