// Package render resolves "resource R on map M" queries to cropped, annotated
// images and caches every result as a file keyed by the query.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/assembler"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/cache"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/cache/keys"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/cluster"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/config"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/grid"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/logger"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/provider"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/renderevents"
)

type Catalog interface {
	Lookup(id int) (config.MapEntry, bool)
}

type Composites interface {
	Get(ctx context.Context, mapID int) (*assembler.Composite, error)
	Cached(mapID int) (*assembler.Composite, bool)
	Heal(ctx context.Context, c *assembler.Composite, r image.Rectangle) (int, error)
}

type Icons interface {
	Icon(ctx context.Context, resource, iconURL string) image.Image
}

type Options struct {
	Dir                string
	Padding            int
	MinSize            int
	JPEGQuality        int
	ClusterMaxDistance float64
	ClusterMinSize     int
	MacroSize          int
	LockTTL            time.Duration
	// AssembleOnDemand builds a missing composite inside the request instead
	// of failing with ErrNotPrimed.
	AssembleOnDemand bool
}

type Deps struct {
	Catalog    Catalog
	Source     provider.Source
	Composites Composites
	Icons      Icons
	Markers    *Markers
	Locker     Locker
	Events     renderevents.Sink
}

type Result struct {
	Key  model.RenderKey
	Path string
	Hit  bool
}

type Cache struct {
	logger *slog.Logger
	opts   Options
	deps   Deps
	dir    cache.Dir
	group  singleflight.Group
}

func New(logger *slog.Logger, opts Options, deps Deps) (*Cache, error) {
	dir, err := cache.NewDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	if opts.MacroSize <= 0 {
		opts.MacroSize = grid.DefaultMacroSize
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if deps.Events == nil {
		deps.Events = renderevents.Noop{}
	}
	if deps.Markers == nil {
		deps.Markers, _ = NewMarkers(48, "")
	}
	return &Cache{logger: logger, opts: opts, deps: deps, dir: dir}, nil
}

func (c *Cache) key(mapID int, resource string, clustered bool) (model.RenderKey, error) {
	entry, ok := c.deps.Catalog.Lookup(mapID)
	if !ok {
		return model.RenderKey{}, fmt.Errorf("%w: %d", ErrUnknownMap, mapID)
	}
	return model.RenderKey{MapID: mapID, MapName: entry.Name, Resource: resource, Clustered: clustered}, nil
}

// Resolve returns the cached image of the query, building it on a miss.
// Concurrent callers of one key share a single build.
func (c *Cache) Resolve(ctx context.Context, mapID int, resource string, clustered bool) (Result, error) {
	k, err := c.key(mapID, resource, clustered)
	if err != nil {
		return Result{}, err
	}
	ctx = logger.WithRender(ctx, mapID, resource)
	name := keys.RenderFile(k)

	if c.dir.Exists(name) {
		c.finish(ctx, k, observability.RenderHit, 0)
		return Result{Key: k, Path: c.dir.Path(name), Hit: true}, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		return c.buildLocked(ctx, k, name)
	})
	if err != nil {
		outcome := observability.RenderError
		if errors.Is(err, ErrNotFound) {
			outcome = observability.RenderNotFound
		}
		c.finish(ctx, k, outcome, 0)
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Cache) buildLocked(ctx context.Context, k model.RenderKey, name string) (Result, error) {
	hit := Result{Key: k, Path: c.dir.Path(name), Hit: true}
	if c.dir.Exists(name) {
		return hit, nil
	}
	if c.deps.Locker != nil {
		lease, err := c.deps.Locker.Lock(ctx, keys.LockKey(k), c.opts.LockTTL, func() bool { return c.dir.Exists(name) })
		if err != nil {
			return Result{}, fmt.Errorf("build lock: %w", err)
		}
		if lease == nil {
			c.finish(ctx, k, observability.RenderHit, 0)
			return hit, nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				c.logger.WarnContext(ctx, "release build lock", "err", err)
			}
		}()
		if c.dir.Exists(name) {
			c.finish(ctx, k, observability.RenderHit, 0)
			return hit, nil
		}
	}

	start := time.Now()
	img, err := c.build(ctx, k)
	if err != nil {
		return Result{}, err
	}
	if err := c.persist(name, img); err != nil {
		return Result{}, err
	}
	dur := time.Since(start)
	observability.ObserveRenderBuild(k.MapID, dur.Seconds())
	c.finish(ctx, k, observability.RenderBuilt, dur)
	c.logger.InfoContext(ctx, "render built", "file", name, "duration", dur)
	return Result{Key: k, Path: c.dir.Path(name)}, nil
}

func (c *Cache) finish(ctx context.Context, k model.RenderKey, outcome string, dur time.Duration) {
	observability.IncRender(k.MapID, outcome, k.Clustered)
	c.deps.Events.Publish(renderevents.Event{
		MapID:      k.MapID,
		Map:        k.MapName,
		Resource:   k.Resource,
		Clustered:  k.Clustered,
		Outcome:    outcome,
		DurationMS: dur.Milliseconds(),
		TS:         time.Now().UTC(),
	})
	if outcome == observability.RenderHit {
		c.logger.DebugContext(ctx, "render cache hit", "clustered", k.Clustered)
	}
}

// resolved is the outcome of RESOLVE_POINTS: the label and its points in map
// pixels.
type resolved struct {
	label  model.Label
	points []model.Point
}

func (c *Cache) resolvePoints(ctx context.Context, k model.RenderKey) (resolved, error) {
	groups, err := c.deps.Source.Labels(ctx, k.MapID)
	if err != nil {
		return resolved{}, fmt.Errorf("labels: %w", err)
	}
	label, ok := provider.FindLabel(groups, k.Resource)
	if !ok {
		return resolved{}, notFound(k, "no such resource")
	}
	all, err := c.deps.Source.Points(ctx, k.MapID)
	if err != nil {
		return resolved{}, fmt.Errorf("points: %w", err)
	}
	pts := provider.PointsByLabel(all, label.ID)
	if len(pts) == 0 {
		return resolved{}, notFound(k, "no points for resource")
	}
	detail, err := c.deps.Source.MapDetail(ctx, k.MapID)
	if err != nil {
		return resolved{}, fmt.Errorf("map detail: %w", err)
	}
	return resolved{label: label, points: provider.ToPixels(pts, detail)}, nil
}

// region is a crop rectangle in map pixels and the points drawn inside it.
type region struct {
	min, max model.Vec
	members  []model.Point
}

func (c *Cache) chooseRegion(k model.RenderKey, points []model.Point) (region, error) {
	if k.Clustered {
		cl, ok := cluster.First(points, c.opts.ClusterMaxDistance, c.opts.ClusterMinSize)
		if !ok {
			return region{}, notFound(k, "no cluster")
		}
		r := region{min: cl.TopLeft, max: cl.BottomRight, members: cl.Members}
		if cl.Width() <= 0 || cl.Height() <= 0 {
			return region{}, notFound(k, "zero-area cluster")
		}
		return r, nil
	}
	return paddedRegion(points, float64(c.opts.Padding), float64(c.opts.MinSize)), nil
}

// paddedRegion is the bounding box of points grown by pad on every side, then
// widened symmetrically on any axis shorter than minSize.
func paddedRegion(points []model.Point, pad, minSize float64) region {
	lo, hi := grid.Bounds(points)
	lo = lo.Sub(model.Vec{X: pad, Y: pad})
	hi = hi.Add(model.Vec{X: pad, Y: pad})
	if w := hi.X - lo.X; w < minSize {
		d := (minSize - w) / 2
		lo.X, hi.X = lo.X-d, hi.X+d
	}
	if h := hi.Y - lo.Y; h < minSize {
		d := (minSize - h) / 2
		lo.Y, hi.Y = lo.Y-d, hi.Y+d
	}
	return region{min: lo, max: hi, members: points}
}

func (c *Cache) composite(ctx context.Context, mapID int) (*assembler.Composite, error) {
	if comp, ok := c.deps.Composites.Cached(mapID); ok {
		return comp, nil
	}
	if !c.opts.AssembleOnDemand {
		return nil, ErrNotPrimed
	}
	return c.deps.Composites.Get(ctx, mapID)
}

func (c *Cache) build(ctx context.Context, k model.RenderKey) (*image.RGBA, error) {
	res, err := c.resolvePoints(ctx, k)
	if err != nil {
		return nil, err
	}
	reg, err := c.chooseRegion(k, res.points)
	if err != nil {
		return nil, err
	}
	observability.ObserveMacroSlices(len(grid.PlanMacroCrop(reg.members, c.opts.MacroSize).Indices))

	comp, err := c.composite(ctx, k.MapID)
	if err != nil {
		return nil, err
	}
	lo, hi := comp.MapToPixel(reg.min), comp.MapToPixel(reg.max)
	rect := image.Rect(
		int(math.Floor(lo.X)), int(math.Floor(lo.Y)),
		int(math.Ceil(hi.X)), int(math.Ceil(hi.Y)),
	)
	if rect.Empty() {
		return nil, notFound(k, "empty crop")
	}
	if n, err := c.deps.Composites.Heal(ctx, comp, rect); err != nil {
		c.logger.WarnContext(ctx, "heal composite", "err", err)
	} else if n > 0 {
		c.logger.InfoContext(ctx, "composite healed before crop", "tiles", n)
	}

	out := comp.Crop(rect)
	var icon image.Image
	if c.deps.Icons != nil {
		icon = c.deps.Icons.Icon(ctx, k.Resource, res.label.Icon)
	}
	for _, p := range reg.members {
		at := comp.MapToPixel(p.Pos())
		pt := image.Pt(int(math.Round(at.X))-rect.Min.X, int(math.Round(at.Y))-rect.Min.Y)
		Paste(out, c.deps.Markers.Compose(p, icon), pt)
	}
	return out, nil
}

func (c *Cache) persist(name string, img image.Image) error {
	err := c.dir.WriteWith(name, func(w io.Writer) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: c.opts.JPEGQuality})
	})
	if err != nil {
		return fmt.Errorf("persist %s: %w", name, err)
	}
	return nil
}

// PlanResult describes which macro tiles a query touches, without rendering.
type PlanResult struct {
	Key    model.RenderKey
	Points int
	Min    model.Vec
	Max    model.Vec
	Macro  grid.MacroPlan
}

// Plan resolves the query's points and region and returns the macro-tile crop
// plan of the region's points.
func (c *Cache) Plan(ctx context.Context, mapID int, resource string, clustered bool) (PlanResult, error) {
	k, err := c.key(mapID, resource, clustered)
	if err != nil {
		return PlanResult{}, err
	}
	res, err := c.resolvePoints(logger.WithRender(ctx, mapID, resource), k)
	if err != nil {
		return PlanResult{}, err
	}
	reg, err := c.chooseRegion(k, res.points)
	if err != nil {
		return PlanResult{}, err
	}
	return PlanResult{
		Key:    k,
		Points: len(reg.members),
		Min:    reg.min,
		Max:    reg.max,
		Macro:  grid.PlanMacroCrop(reg.members, c.opts.MacroSize),
	}, nil
}

// Purge removes cached renders of a map. An empty resource removes every
// render of the map; otherwise both variants of that resource go.
func (c *Cache) Purge(mapID int, resource string) (int, error) {
	k, err := c.key(mapID, resource, false)
	if err != nil {
		return 0, err
	}
	var names []string
	if resource == "" {
		names, err = c.dir.Glob(k.MapName + "_*." + keys.RenderExt)
		if err != nil {
			return 0, fmt.Errorf("purge map %d: %w", mapID, err)
		}
	} else {
		plain := keys.RenderFile(k)
		k.Clustered = true
		names = []string{plain, keys.RenderFile(k)}
	}

	n := 0
	for _, name := range names {
		if !c.dir.Exists(name) {
			continue
		}
		if err := c.dir.Remove(name); err != nil {
			return n, fmt.Errorf("purge %s: %w", name, err)
		}
		n++
	}
	c.logger.Info("renders purged", "map_id", mapID, "resource", resource, "files", n)
	return n, nil
}
