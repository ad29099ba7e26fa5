// Package icons downloads resource icons on first use and serves them from a
// disk cache and an in-memory LRU afterwards.
package icons

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/cache"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/cache/keys"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
)

const placeholderSize = 64

var ErrNoIcon = errors.New("resource has no icon url")

type Config struct {
	Dir       string
	Retries   int
	Backoff   time.Duration
	CacheSize int
	MaxBytes  int64
}

type Store struct {
	logger  *slog.Logger
	http    *http.Client
	dir     cache.Dir
	cfg     Config
	decoded *lru.Cache[string, image.Image]
	group   singleflight.Group
}

func New(logger *slog.Logger, client *http.Client, cfg Config) (*Store, error) {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 4 << 20
	}
	dir, err := cache.NewDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("icons: %w", err)
	}
	decoded, err := lru.New[string, image.Image](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("icons lru: %w", err)
	}
	return &Store{logger: logger, http: client, dir: dir, cfg: cfg, decoded: decoded}, nil
}

// Icon returns the icon of resource, or a placeholder when it cannot be had.
func (s *Store) Icon(ctx context.Context, resource, iconURL string) image.Image {
	img, err := s.Get(ctx, resource, iconURL)
	if err != nil {
		s.logger.WarnContext(ctx, "icon unavailable, using placeholder", "resource", resource, "err", err)
		return Placeholder()
	}
	return img
}

// Get returns the decoded icon, downloading it at most once per process when it
// is not on disk. Downloads retry Retries times with exponential backoff.
func (s *Store) Get(ctx context.Context, resource, iconURL string) (image.Image, error) {
	name := keys.IconFile(resource)
	if img, ok := s.decoded.Get(name); ok {
		return img, nil
	}
	v, err, _ := s.group.Do(name, func() (any, error) {
		if img, err := s.loadDisk(name); err == nil {
			s.decoded.Add(name, img)
			return img, nil
		}
		if iconURL == "" {
			return nil, ErrNoIcon
		}
		body, err := s.download(ctx, iconURL)
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("decode icon %q: %w", resource, err)
		}
		if err := s.dir.Write(name, body); err != nil {
			s.logger.WarnContext(ctx, "persist icon", "resource", resource, "err", err)
		}
		s.decoded.Add(name, img)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

func (s *Store) loadDisk(name string) (image.Image, error) {
	f, err := s.dir.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		_ = s.dir.Remove(name)
		return nil, err
	}
	return img, nil
}

func (s *Store) download(ctx context.Context, iconURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.Retries; attempt++ {
		if attempt > 0 {
			wait := s.cfg.Backoff << (attempt - 1)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		start := time.Now()
		body, err := s.fetchOnce(ctx, iconURL)
		observability.ObserveUpstreamLatency("icons", err, time.Since(start).Seconds())
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("icon download failed after %d attempts: %w", s.cfg.Retries, lastErr)
}

func (s *Store) fetchOnce(ctx context.Context, iconURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("icon status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.cfg.MaxBytes {
		return nil, fmt.Errorf("icon larger than %d bytes", s.cfg.MaxBytes)
	}
	return body, nil
}

var placeholder = func() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{0x9E, 0x9E, 0x9E, 0xFF}}, image.Point{}, draw.Src)
	inner := img.Bounds().Inset(placeholderSize / 4)
	draw.Draw(img, inner, &image.Uniform{C: color.RGBA{0xF5, 0xF5, 0xF5, 0xFF}}, image.Point{}, draw.Src)
	return img
}()

// Placeholder is the icon drawn when a resource's icon cannot be fetched.
func Placeholder() image.Image { return placeholder }
