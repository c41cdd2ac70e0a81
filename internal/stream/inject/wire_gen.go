// Hand-written stand-in for the injector Wire would generate from inject.go.

//go:generate go run github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package inject

import (
	"context"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/config"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/cursor"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/dirmanager"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/dispatcher"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/export"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/firehose"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/handler"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/processor"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/registry"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/backoff"
	"github.com/pkg/errors"
)

func provideDirManager(cfg *config.Config) (*dirmanager.Manager, error) {
	mgr := dirmanager.New(cfg.CacheRoot)
	if err := mgr.EnsureLayout(); err != nil {
		return nil, errors.Wrap(err, "inject: ensure cache layout")
	}
	return mgr, nil
}

func provideHandlerRegistry() *handler.Registry {
	return handler.NewRegistry()
}

func provideGenericHandler(cfg *config.Config, dirs *dirmanager.Manager) *handler.GenericHandler {
	return handler.NewGenericHandler(cfg.CacheRoot, dirs)
}

func provideCursor(cfg *config.Config) (types.Cursor, func(), error) {
	switch cfg.CursorBackend {
	case config.CursorSQL:
		store, err := cursor.NewSQLStore(cfg.CursorSQLDSN, cfg.CursorSQLTable, cfg.CursorSQLKey)
		if err != nil {
			return nil, func() {}, errors.Wrap(err, "inject: provide sql cursor")
		}
		return store, func() { store.Close() }, nil
	default:
		return cursor.NewFileStore(cfg.CursorFilePath), func() {}, nil
	}
}

func provideRegistry(cfg *config.Config) *registry.Registry {
	source := registry.NewFileSource(cfg.RegistrySourcePath)
	return registry.New(source, cfg.RegistryRefreshInterval())
}

func provideProcessors(reg *registry.Registry) dispatcher.Processors {
	clock := types.RealClock{}
	return dispatcher.Processors{
		types.CollectionPost:   &processor.PostProcessor{Clock: clock, Registry: reg},
		types.CollectionLike:   &processor.LikeProcessor{Clock: clock},
		types.CollectionFollow: &processor.FollowProcessor{Clock: clock},
	}
}

func provideDispatcher(cfg *config.Config, procs dispatcher.Processors, handlers *handler.Registry, writer *handler.GenericHandler, reg *registry.Registry, cur types.Cursor) *dispatcher.Dispatcher {
	return dispatcher.New(procs, handlers, writer, reg, cur, cfg.MaxWriteRetries)
}

func provideBackoffPolicy(cfg *config.Config) *backoff.Policy {
	return backoff.NewPolicy(cfg.ReconnectBackoffBase(), cfg.ReconnectBackoffCap())
}

func provideFirehoseClient(cfg *config.Config, cur types.Cursor, disp *dispatcher.Dispatcher, bo *backoff.Policy) *firehose.Client {
	return firehose.New(cfg.RelayHost, cur, disp, bo, cfg.FrameQueueCapacity)
}

func provideStorageRepository(ctx context.Context, cfg *config.Config) (export.StorageRepository, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		s3, err := export.NewS3Storage(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, errors.Wrap(err, "inject: provide s3 storage")
		}
		return s3, nil
	default:
		return export.NewLocalStorage(cfg.OutputRoot), nil
	}
}

func provideExporter(cfg *config.Config, dirs *dirmanager.Manager, handlers *handler.Registry, storage export.StorageRepository) *export.Exporter {
	return export.New(cfg.CacheRoot, dirs, handlers, storage, cfg.ExportClearFilepaths, cfg.ExportClearCache, cfg.ExporterSubtreeTimeout())
}

// InitializeStreamApp builds the ingest composition root.
func InitializeStreamApp(ctx context.Context, cfg *config.Config) (*StreamApp, func(), error) {
	dirs, err := provideDirManager(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	handlers := provideHandlerRegistry()
	writer := provideGenericHandler(cfg, dirs)

	cur, cleanupCursor, err := provideCursor(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	reg := provideRegistry(cfg)
	procs := provideProcessors(reg)
	disp := provideDispatcher(cfg, procs, handlers, writer, reg, cur)
	bo := provideBackoffPolicy(cfg)
	client := provideFirehoseClient(cfg, cur, disp, bo)

	app := &StreamApp{Firehose: client, Registry: reg, Cursor: cur}
	return app, cleanupCursor, nil
}

// InitializeExportApp builds the export composition root.
func InitializeExportApp(ctx context.Context, cfg *config.Config) (*ExportApp, func(), error) {
	dirs, err := provideDirManager(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	handlers := provideHandlerRegistry()
	storage, err := provideStorageRepository(ctx, cfg)
	if err != nil {
		return nil, func() {}, err
	}

	exporter := provideExporter(cfg, dirs, handlers, storage)
	return &ExportApp{Exporter: exporter}, func() {}, nil
}
