// Package assembler builds one composite raster per map from the tile cache
// and keeps it in memory for the life of the process.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/tilestore"
)

type Tiles interface {
	Ensure(ctx context.Context, mapID int, coords []model.TileCoord) (tilestore.Report, error)
	Load(mapID int, c model.TileCoord) (image.Image, error)
	ClearAbsent(mapID int) (int, error)
}

type Details interface {
	MapDetail(ctx context.Context, mapID int) (model.MapDetail, error)
}

// LayoutFunc chooses the tile range of a map.
type LayoutFunc func(mapID int, d model.MapDetail) model.TileRange

// Overlay draws onto dst, a clipped view of c, while the composite is locked.
type Overlay func(ctx context.Context, c *Composite, dst *image.RGBA) error

type Assembler struct {
	logger   *slog.Logger
	tiles    Tiles
	details  Details
	tileSize int
	layout   LayoutFunc
	overlay  Overlay

	mu    sync.Mutex
	maps  map[int]*Composite
	group singleflight.Group
}

type Option func(*Assembler)

func WithLayout(fn LayoutFunc) Option { return func(a *Assembler) { a.layout = fn } }

func WithOverlay(fn Overlay) Option { return func(a *Assembler) { a.overlay = fn } }

func New(logger *slog.Logger, tiles Tiles, details Details, tileSize int, opts ...Option) *Assembler {
	a := &Assembler{
		logger:   logger,
		tiles:    tiles,
		details:  details,
		tileSize: tileSize,
		maps:     make(map[int]*Composite),
	}
	a.layout = func(_ int, d model.MapDetail) model.TileRange { return LayoutFromDetail(d, tileSize) }
	for _, o := range opts {
		o(a)
	}
	return a
}

// LayoutFromDetail covers the provider's total map size with whole tiles.
func LayoutFromDetail(d model.MapDetail, tileSize int) model.TileRange {
	return model.TileRange{
		ColEnd: ceilDiv(d.TotalSize[0], tileSize),
		RowEnd: ceilDiv(d.TotalSize[1], tileSize),
	}
}

func ceilDiv(a, b int) int {
	if a <= 0 || b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Cached returns the composite of mapID if it was already assembled.
func (a *Assembler) Cached(mapID int) (*Composite, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.maps[mapID]
	return c, ok
}

// Get returns the cached composite of mapID, assembling it on first use.
func (a *Assembler) Get(ctx context.Context, mapID int) (*Composite, error) {
	if c, ok := a.Cached(mapID); ok {
		return c, nil
	}
	v, err, _ := a.group.Do(strconv.Itoa(mapID), func() (any, error) {
		if c, ok := a.Cached(mapID); ok {
			return c, nil
		}
		d, err := a.details.MapDetail(ctx, mapID)
		if err != nil {
			return nil, fmt.Errorf("map %d detail: %w", mapID, err)
		}
		return a.build(ctx, mapID, a.layout(mapID, d), d)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Composite), nil
}

// Assemble builds the composite of mapID over rng and caches it, replacing any
// earlier one.
func (a *Assembler) Assemble(ctx context.Context, mapID int, rng model.TileRange) (*Composite, error) {
	d, err := a.details.MapDetail(ctx, mapID)
	if err != nil {
		return nil, fmt.Errorf("map %d detail: %w", mapID, err)
	}
	return a.build(ctx, mapID, rng, d)
}

func (a *Assembler) build(ctx context.Context, mapID int, rng model.TileRange, d model.MapDetail) (*Composite, error) {
	if rng.Empty() {
		return nil, fmt.Errorf("map %d: empty tile range %+v", mapID, rng)
	}
	start := time.Now()
	rep, err := a.tiles.Ensure(ctx, mapID, rng.Coords())
	if err != nil {
		return nil, fmt.Errorf("ensure tiles of map %d: %w", mapID, err)
	}

	c := newComposite(mapID, rng, a.tileSize, d)
	for _, t := range rng.Coords() {
		img, err := a.tiles.Load(mapID, t)
		if err != nil {
			continue
		}
		c.put(t, img)
	}
	if a.overlay != nil {
		if err := a.overlay(ctx, c, c.img); err != nil {
			a.logger.WarnContext(ctx, "composite overlay failed", "map_id", mapID, "err", err)
		}
	}

	a.mu.Lock()
	a.maps[mapID] = c
	a.mu.Unlock()

	present, missing := c.Counts()
	observability.SetCompositeTiles(mapID, present, missing)
	a.logger.InfoContext(ctx, "composite assembled",
		"map_id", mapID,
		"cols", rng.Width(), "rows", rng.Height(),
		"present", present, "placeholders", missing,
		"fetched", rep.Fetched, "failed", rep.Failed,
		"duration", time.Since(start))
	return c, nil
}

// Rebuild drops the cached composite and the absence markers of mapID, then
// assembles it again.
func (a *Assembler) Rebuild(ctx context.Context, mapID int) (*Composite, error) {
	a.mu.Lock()
	delete(a.maps, mapID)
	a.mu.Unlock()

	if n, err := a.tiles.ClearAbsent(mapID); err != nil {
		a.logger.WarnContext(ctx, "clear absent markers", "map_id", mapID, "err", err)
	} else if n > 0 {
		a.logger.InfoContext(ctx, "absent markers cleared", "map_id", mapID, "count", n)
	}
	return a.Get(ctx, mapID)
}

// Heal fetches placeholder tiles under the pixel rectangle r and patches the
// ones that arrive into the cached composite. It returns the number patched.
func (a *Assembler) Heal(ctx context.Context, c *Composite, r image.Rectangle) (int, error) {
	missing := c.Missing(r)
	if len(missing) == 0 {
		return 0, nil
	}
	if _, err := a.tiles.Ensure(ctx, c.MapID, missing); err != nil {
		return 0, err
	}

	loaded := make(map[model.TileCoord]image.Image, len(missing))
	for _, t := range missing {
		if img, err := a.tiles.Load(c.MapID, t); err == nil {
			loaded[t] = img
		}
	}
	if len(loaded) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	var (
		patched    []image.Rectangle
		overlayErr error
	)
	for t, img := range loaded {
		if c.present[t] {
			continue
		}
		c.put(t, img)
		patched = append(patched, c.TileRect(t))
	}
	if a.overlay != nil {
		for _, r := range patched {
			if err := a.overlay(ctx, c, c.img.SubImage(r).(*image.RGBA)); err != nil {
				overlayErr = err
				break
			}
		}
	}
	c.mu.Unlock()

	if overlayErr != nil {
		a.logger.WarnContext(ctx, "composite overlay failed", "map_id", c.MapID, "err", overlayErr)
	}
	present, missingN := c.Counts()
	observability.SetCompositeTiles(c.MapID, present, missingN)
	a.logger.DebugContext(ctx, "composite healed", "map_id", c.MapID, "tiles", len(patched))
	return len(patched), nil
}

// Prime assembles every map in ids, continuing past failures.
func (a *Assembler) Prime(ctx context.Context, ids []int) error {
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.Get(ctx, id); err != nil {
			a.logger.ErrorContext(ctx, "prime map failed", "map_id", id, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
