// Package tilestore keeps the on-disk tile cache of every map and fetches
// missing tiles from the tile origin server in bounded batches.
package tilestore

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/cache"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/cache/keys"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
)

type State int

const (
	// StateMissing means the tile was never fetched, or every attempt so far failed.
	StateMissing State = iota
	StatePresent
	// StateAbsent means the origin server durably does not serve the tile.
	StateAbsent
)

func (s State) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateAbsent:
		return "absent"
	default:
		return "missing"
	}
}

type Config struct {
	Dir          string
	BaseURL      string
	Ext          string
	Concurrency  int
	FetchTimeout time.Duration
	MaxAttempts  int
	MaxBytes     int64
}

// SliceFunc maps a map id to the path segment the tile server uses for it.
type SliceFunc func(mapID int) string

// Report summarizes one Ensure call.
type Report struct {
	Cached  int
	Fetched int
	Failed  int
	Absent  int
	Extent  model.Extent
}

type attemptKey struct {
	mapID int
	coord model.TileCoord
}

type Store struct {
	logger *slog.Logger
	http   *http.Client
	cfg    Config
	dir    cache.Dir
	slice  SliceFunc

	mu       sync.Mutex
	attempts map[attemptKey]int
}

func New(logger *slog.Logger, client *http.Client, cfg Config, slice SliceFunc) (*Store, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 << 20
	}
	cfg.Ext = strings.TrimPrefix(cfg.Ext, ".")
	if cfg.Ext == "" {
		cfg.Ext = "png"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if slice == nil {
		slice = func(mapID int) string { return fmt.Sprint(mapID) }
	}
	dir, err := cache.NewDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("tilestore: %w", err)
	}
	return &Store{
		logger:   logger,
		http:     client,
		cfg:      cfg,
		dir:      dir,
		slice:    slice,
		attempts: make(map[attemptKey]int),
	}, nil
}

func (s *Store) Path(mapID int, c model.TileCoord) string {
	return s.dir.Path(keys.TileFile(mapID, c, s.cfg.Ext))
}

// URL is the origin address of a tile: {base}/{slice}/{col}_{row}_P0.{ext}.
func (s *Store) URL(mapID int, c model.TileCoord) string {
	return fmt.Sprintf("%s/%s/%d_%d_P0.%s", s.cfg.BaseURL, s.slice(mapID), c.Col, c.Row, s.cfg.Ext)
}

func (s *Store) State(mapID int, c model.TileCoord) State {
	if s.dir.Exists(keys.TileFile(mapID, c, s.cfg.Ext)) {
		return StatePresent
	}
	if s.dir.Exists(keys.AbsentFile(mapID, c)) {
		return StateAbsent
	}
	return StateMissing
}

// Ensure makes every coordinate either present on disk or accounted for as
// failed or absent. Fetch failures are not errors; only cancellation of ctx is.
func (s *Store) Ensure(ctx context.Context, mapID int, coords []model.TileCoord) (Report, error) {
	var (
		rep     Report
		pending []model.TileCoord
	)
	for _, c := range coords {
		switch s.State(mapID, c) {
		case StatePresent:
			rep.Cached++
			rep.Extent.Include(c)
		case StateAbsent:
			rep.Absent++
		default:
			pending = append(pending, c)
		}
	}
	observability.AddTiles(mapID, observability.TileCached, rep.Cached)

	var mu sync.Mutex
	for start := 0; start < len(pending); start += s.cfg.Concurrency {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		end := min(start+s.cfg.Concurrency, len(pending))

		var g errgroup.Group
		for _, c := range pending[start:end] {
			g.Go(func() error {
				err := s.fetch(ctx, mapID, c)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					rep.Fetched++
					rep.Extent.Include(c)
					return nil
				}
				if s.recordFailure(mapID, c) {
					rep.Absent++
				} else {
					rep.Failed++
				}
				s.logger.WarnContext(ctx, "tile fetch failed",
					"map_id", mapID, "tile", c.String(), "err", err)
				return nil
			})
		}
		_ = g.Wait()
	}

	observability.AddTiles(mapID, observability.TileFetched, rep.Fetched)
	observability.AddTiles(mapID, observability.TileFailed, rep.Failed)
	observability.AddTiles(mapID, observability.TileAbsent, rep.Absent)

	if len(pending) > 0 {
		s.logger.DebugContext(ctx, "tiles ensured", "map_id", mapID,
			"cached", rep.Cached, "fetched", rep.Fetched, "failed", rep.Failed, "absent", rep.Absent)
	}
	return rep, ctx.Err()
}

func (s *Store) fetch(ctx context.Context, mapID int, c model.TileCoord) error {
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	start := time.Now()
	body, err := s.download(ctx, s.URL(mapID, c))
	observability.ObserveUpstreamLatency("tiles", err, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	return s.dir.Write(keys.TileFile(mapID, c, s.cfg.Ext), body)
}

func (s *Store) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("tile status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.cfg.MaxBytes {
		return nil, fmt.Errorf("tile larger than %d bytes", s.cfg.MaxBytes)
	}
	if len(body) == 0 {
		return nil, errors.New("empty tile body")
	}
	return body, nil
}

// recordFailure counts a failed attempt and reports whether the tile has now
// been marked durably absent.
func (s *Store) recordFailure(mapID int, c model.TileCoord) bool {
	k := attemptKey{mapID: mapID, coord: c}
	s.mu.Lock()
	s.attempts[k]++
	n := s.attempts[k]
	if n >= s.cfg.MaxAttempts {
		delete(s.attempts, k)
	}
	s.mu.Unlock()

	if n < s.cfg.MaxAttempts {
		return false
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := s.dir.Write(keys.AbsentFile(mapID, c), stamp); err != nil {
		s.logger.Error("write absent marker", "map_id", mapID, "tile", c.String(), "err", err)
		return false
	}
	return true
}

// ClearAbsent removes every absence marker of mapID so the next Ensure retries
// those tiles. It returns the number of markers removed.
func (s *Store) ClearAbsent(mapID int) (int, error) {
	matches, err := s.dir.Glob(fmt.Sprintf("%d_*_*.%s", mapID, keys.AbsentExt))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		if err := s.dir.Remove(m); err != nil {
			return n, fmt.Errorf("remove %s: %w", m, err)
		}
		n++
	}
	s.mu.Lock()
	for k := range s.attempts {
		if k.mapID == mapID {
			delete(s.attempts, k)
		}
	}
	s.mu.Unlock()
	return n, nil
}

// Load decodes a cached tile. A tile that is not on disk yields an error
// matching os.ErrNotExist.
func (s *Store) Load(mapID int, c model.TileCoord) (image.Image, error) {
	f, err := s.dir.Open(keys.TileFile(mapID, c, s.cfg.Ext))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", c, err)
	}
	return img, nil
}
