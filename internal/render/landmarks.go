package render

import (
	"context"
	"fmt"
	"image"
	"math"
	"slices"
	"sync"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/assembler"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/provider"
)

// Landmarks pastes a marker for every provider point carrying one of labels
// onto the composite. Points are fetched once per map.
func Landmarks(src provider.Source, labels []int64, markers *Markers) assembler.Overlay {
	var (
		mu    sync.Mutex
		byMap = map[int][]model.Point{}
	)
	load := func(ctx context.Context, mapID int) ([]model.Point, error) {
		mu.Lock()
		defer mu.Unlock()
		if pts, ok := byMap[mapID]; ok {
			return pts, nil
		}
		all, err := src.Points(ctx, mapID)
		if err != nil {
			return nil, fmt.Errorf("landmark points: %w", err)
		}
		detail, err := src.MapDetail(ctx, mapID)
		if err != nil {
			return nil, fmt.Errorf("landmark detail: %w", err)
		}
		var pts []model.Point
		for _, p := range all {
			if slices.Contains(labels, p.LabelID) {
				pts = append(pts, p)
			}
		}
		pts = provider.ToPixels(pts, detail)
		byMap[mapID] = pts
		return pts, nil
	}

	return func(ctx context.Context, c *assembler.Composite, dst *image.RGBA) error {
		if len(labels) == 0 {
			return nil
		}
		pts, err := load(ctx, c.MapID)
		if err != nil {
			return err
		}
		mb := markers.Bounds()
		for _, p := range pts {
			at := c.MapToPixel(p.Pos())
			pt := image.Pt(int(math.Round(at.X)), int(math.Round(at.Y)))
			footprint := image.Rect(pt.X-mb.Dx()/2, pt.Y-mb.Dy(), pt.X+mb.Dx()-mb.Dx()/2, pt.Y)
			if !footprint.Overlaps(dst.Bounds()) {
				continue
			}
			Paste(dst, markers.Landmark(p.LabelID), pt)
		}
		return nil
	}
}
