// Package app wires the service components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/assembler"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/config"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/health"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/server"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/icons"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/metrics"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/provider"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/render"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/renderevents"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/tilestore"
)

type App struct {
	Config    config.Config
	Catalog   config.Catalog
	Provider  *provider.Client
	Tiles     *tilestore.Store
	Assembler *assembler.Assembler
	Icons     *icons.Store
	Render    *render.Cache
	Ready     *health.Gate

	logger   *slog.Logger
	metrics  *metrics.Provider
	commands *kafkaconsumer.Consumer
	closers  []func() error
}

// New builds every component. Optional Redis and Kafka collaborators are
// connected only when enabled in cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, version string) (*App, error) {
	cat, err := config.LoadCatalog(cfg.MapsFile)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Catalog: cat, Ready: &health.Gate{}, logger: logger}

	a.Provider, err = provider.New(logger, httpclient.NewOutbound(cfg.Provider.Timeout),
		cfg.Provider.BaseURL, cfg.Provider.AppSN, cfg.Provider.Lang)
	if err != nil {
		return nil, err
	}

	outbound := httpclient.NewOutbound(0)
	a.Tiles, err = tilestore.New(logger, outbound, tilestore.Config{
		Dir:          cfg.Tiles.Dir,
		BaseURL:      cfg.Tiles.BaseURL,
		Ext:          cfg.Tiles.Ext,
		Concurrency:  cfg.Tiles.Concurrency,
		FetchTimeout: cfg.Tiles.FetchTimeout,
		MaxAttempts:  cfg.Tiles.MaxAttempts,
	}, a.slice)
	if err != nil {
		return nil, err
	}

	markers, err := render.NewMarkers(cfg.Render.MarkerSize, cfg.Render.TextureDir)
	if err != nil {
		return nil, err
	}

	opts := []assembler.Option{assembler.WithLayout(a.layout)}
	if len(cfg.LandmarkLabels) > 0 {
		opts = append(opts, assembler.WithOverlay(render.Landmarks(a.Provider, cfg.LandmarkLabels, markers)))
	}
	a.Assembler = assembler.New(logger, a.Tiles, a.Provider, cfg.Tiles.Size, opts...)

	a.Icons, err = icons.New(logger, outbound, icons.Config{
		Dir:       cfg.Icons.Dir,
		Retries:   cfg.Icons.Retries,
		Backoff:   cfg.Icons.Backoff,
		CacheSize: cfg.Icons.CacheSize,
	})
	if err != nil {
		return nil, err
	}

	deps := render.Deps{
		Catalog:    cat,
		Source:     a.Provider,
		Composites: a.Assembler,
		Icons:      a.Icons,
		Markers:    markers,
	}
	if cfg.Render.LockRedis {
		rc, err := redisstore.New(ctx, cfg.Redis.Addr,
			redisstore.WithPassword(cfg.Redis.Password), redisstore.WithDB(cfg.Redis.DB))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("render lock: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		deps.Locker = render.RedisLocker{Client: rc}
	}
	if cfg.Events.Enabled {
		pub, err := renderevents.NewPublisher(logger, cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		deps.Events = pub
	}

	a.Render, err = render.New(logger, render.Options{
		Dir:                cfg.Render.Dir,
		Padding:            cfg.Render.Padding,
		MinSize:            cfg.Render.MinSize,
		JPEGQuality:        cfg.Render.JPEGQuality,
		ClusterMaxDistance: cfg.Cluster.MaxDistance,
		ClusterMinSize:     cfg.Cluster.MinSize,
		MacroSize:          cfg.MacroTileSize,
		LockTTL:            cfg.Render.LockTTL,
		AssembleOnDemand:   !cfg.PrimeOnStart,
	}, deps)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.metrics = metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Version: version,
	})

	if cfg.Commands.Enabled {
		a.commands = kafkaconsumer.New(kafkaconsumer.Config{
			Brokers:             cfg.Commands.Brokers,
			Topic:               cfg.Commands.Topic,
			GroupID:             cfg.Commands.GroupID,
			InitialOffsetOldest: false,
		}, logger, cat, a.Assembler, a.Render)
	}
	return a, nil
}

func (a *App) slice(mapID int) string {
	if m, ok := a.Catalog.Lookup(mapID); ok {
		return m.Slice
	}
	return fmt.Sprint(mapID)
}

// layout prefers the catalog's grid size and falls back to the provider's
// total map size.
func (a *App) layout(mapID int, d model.MapDetail) model.TileRange {
	rng := assembler.LayoutFromDetail(d, a.Config.Tiles.Size)
	if m, ok := a.Catalog.Lookup(mapID); ok {
		if m.Columns > 0 {
			rng.ColEnd = rng.ColStart + m.Columns
		}
		if m.Rows > 0 {
			rng.RowEnd = rng.RowStart + m.Rows
		}
	}
	return rng
}

// Prime assembles the composites of ids, or of the whole catalog when ids is
// empty, and then marks the service ready.
func (a *App) Prime(ctx context.Context, ids ...int) error {
	if len(ids) == 0 {
		ids = a.Catalog.IDs()
	}
	err := a.Assembler.Prime(ctx, ids)
	for _, id := range ids {
		if _, ok := a.Assembler.Cached(id); ok {
			a.Ready.MarkPrimed(id)
		}
	}
	a.Ready.SetReady()
	return err
}

func (a *App) Handler() http.Handler {
	return server.NewHandler(a.logger, server.Deps{
		Renderer:      a.Render,
		Rebuilder:     a.Assembler,
		Catalog:       a.Catalog,
		Ready:         a.Ready,
		ExposeMetrics: !a.Config.Metrics.Enabled,
	})
}

// Serve runs the HTTP server, the metrics listener, the command consumer and
// priming until ctx is canceled or one of them fails.
func (a *App) Serve(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.metrics.Serve(ctx, a.logger) })
	if a.commands != nil {
		g.Go(func() error { return a.commands.Start(ctx) })
	}
	if a.Config.PrimeOnStart {
		g.Go(func() error {
			if err := a.Prime(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("priming finished with errors", "err", err)
			}
			return nil
		})
	} else {
		a.Ready.SetReady()
	}
	g.Go(func() error { return server.Run(ctx, addr, a.logger, a.Handler()) })

	return g.Wait()
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
