package assembler

import (
	"image"
	"image/draw"
	"sync"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/grid"
)

// Composite is the assembled raster of one map. The tile at (c,r) occupies
// [(c-ColStart)*S, (c-ColStart+1)*S) x [(r-RowStart)*S, (r-RowStart+1)*S).
// Tiles that were never drawn stay fully transparent.
type Composite struct {
	MapID    int
	Range    model.TileRange
	TileSize int
	// Origin and Padding come from the provider's map detail.
	Origin  image.Point
	Padding image.Point

	mu      sync.RWMutex
	img     *image.RGBA
	present map[model.TileCoord]bool
	extent  model.Extent
}

func newComposite(mapID int, rng model.TileRange, size int, d model.MapDetail) *Composite {
	return &Composite{
		MapID:    mapID,
		Range:    rng,
		TileSize: size,
		Origin:   image.Pt(d.Origin[0], d.Origin[1]),
		Padding:  image.Pt(d.Padding[0], d.Padding[1]),
		img:      image.NewRGBA(image.Rect(0, 0, rng.Width()*size, rng.Height()*size)),
		present:  make(map[model.TileCoord]bool),
	}
}

func (c *Composite) Bounds() image.Rectangle { return c.img.Bounds() }

// Offset is origin minus padding: the shift from provider world coordinates to
// the pixel frame of the full tile grid.
func (c *Composite) Offset() image.Point { return c.Origin.Sub(c.Padding) }

func (c *Composite) gridShift() model.Vec {
	return model.Vec{X: float64(c.Range.ColStart * c.TileSize), Y: float64(c.Range.RowStart * c.TileSize)}
}

// MapToPixel converts a map pixel (world + origin) to a pixel of this raster.
func (c *Composite) MapToPixel(v model.Vec) model.Vec {
	pad := model.Vec{X: float64(c.Padding.X), Y: float64(c.Padding.Y)}
	return v.Sub(pad).Sub(c.gridShift())
}

// WorldToPixel converts a provider world coordinate to a pixel of this raster.
func (c *Composite) WorldToPixel(v model.Vec) model.Vec {
	off := c.Offset()
	return v.Add(model.Vec{X: float64(off.X), Y: float64(off.Y)}).Sub(c.gridShift())
}

func (c *Composite) Extent() model.Extent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.extent
}

func (c *Composite) Present(t model.TileCoord) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.present[t]
}

// Counts returns the number of drawn and placeholder tiles.
func (c *Composite) Counts() (present, missing int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	present = len(c.present)
	return present, c.Range.Width()*c.Range.Height() - present
}

// Missing lists the placeholder tiles inside the pixel rectangle r.
func (c *Composite) Missing(r image.Rectangle) []model.TileCoord {
	rng := c.tilesUnder(r)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.TileCoord
	for _, t := range rng.Coords() {
		if !c.present[t] {
			out = append(out, t)
		}
	}
	return out
}

func (c *Composite) tilesUnder(r image.Rectangle) model.TileRange {
	local := grid.RangeForRect(r.Intersect(c.img.Bounds()), c.TileSize)
	if local.Empty() {
		return model.TileRange{}
	}
	return model.TileRange{
		ColStart: local.ColStart + c.Range.ColStart,
		ColEnd:   local.ColEnd + c.Range.ColStart,
		RowStart: local.RowStart + c.Range.RowStart,
		RowEnd:   local.RowEnd + c.Range.RowStart,
	}.Intersect(c.Range)
}

// TileRect is the pixel region of tile t in this raster.
func (c *Composite) TileRect(t model.TileCoord) image.Rectangle {
	return grid.TileRect(t, model.TileCoord{Col: c.Range.ColStart, Row: c.Range.RowStart}, c.TileSize)
}

// Crop copies the pixels under r into a new raster whose origin is r.Min.
// Parts of r outside the composite are transparent.
func (c *Composite) Crop(r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	c.mu.RLock()
	defer c.mu.RUnlock()
	draw.Draw(dst, dst.Bounds(), c.img, r.Min, draw.Src)
	return dst
}

// put draws tile img at t. Callers hold the write lock or own c exclusively.
func (c *Composite) put(t model.TileCoord, img image.Image) {
	draw.Draw(c.img, c.TileRect(t), img, img.Bounds().Min, draw.Src)
	c.present[t] = true
	c.extent.Include(t)
}
