// Package grid maps world and pixel coordinates onto the tile grid.
//
// Two grids are involved. On-disk tiles are small squares (TILE_SIZE, 256 px by
// default) addressed by (col,row). Macro tiles are the large pre-rendered slices
// (4096 px) addressed linearly, row-major, with a fixed row width of MacroRowWidth.
package grid

import (
	"image"
	"math"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
)

const (
	DefaultMacroSize = 4096
	MacroRowWidth    = 4
)

// crossing bits returned by ClassifyBoundaryCrossing
const (
	CrossRight = 1
	CrossDown  = 4
)

// TileIndexOf floor-divides both axes by tileSize.
func TileIndexOf(v model.Vec, tileSize int) model.TileCoord {
	s := float64(tileSize)
	return model.TileCoord{
		Col: int(math.Floor(v.X / s)),
		Row: int(math.Floor(v.Y / s)),
	}
}

// MacroIndex returns the linear macro tile index containing v.
func MacroIndex(v model.Vec, macroSize int) int {
	c := TileIndexOf(v, macroSize)
	return c.Col + MacroRowWidth*c.Row
}

// ClassifyBoundaryCrossing reports whether the box [minV,maxV] spills out of the
// macro tile holding minV: 0 fits, 1 crosses right, 4 crosses down, 5 both.
func ClassifyBoundaryCrossing(minV, maxV model.Vec, macroSize int) int {
	a := TileIndexOf(minV, macroSize)
	b := TileIndexOf(maxV, macroSize)
	code := 0
	if b.Col > a.Col {
		code |= CrossRight
	}
	if b.Row > a.Row {
		code |= CrossDown
	}
	return code
}

// TileSetForRegion lists the linear indices of the columns base..endColumn,
// repeated for every row offset 0, MacroRowWidth, ... up to rowStride.
// With base 0, endColumn is the number of extra columns.
func TileSetForRegion(base, endColumn, rowStride int) []int {
	out := make([]int, 0, (endColumn-base+1)*(rowStride/MacroRowWidth+1))
	for j := 0; j <= rowStride; j += MacroRowWidth {
		for i := base; i <= endColumn; i++ {
			out = append(out, i+j)
		}
	}
	return out
}

// MacroPlan describes which macro tiles a point set needs and the points
// re-expressed relative to the top-left macro tile.
type MacroPlan struct {
	Indices    []int
	ColumnSpan int
	Crossing   int
	Origin     model.TileCoord
	Local      []model.Point
}

// PlanMacroCrop resolves the macro tiles covering points.
func PlanMacroCrop(points []model.Point, macroSize int) MacroPlan {
	if len(points) == 0 {
		return MacroPlan{}
	}
	minV, maxV := Bounds(points)
	a := TileIndexOf(minV, macroSize)
	b := TileIndexOf(maxV, macroSize)
	start := a.Col + MacroRowWidth*a.Row
	span := b.Col - a.Col
	stride := (b.Row - a.Row) * MacroRowWidth
	return MacroPlan{
		Indices:    TileSetForRegion(start, start+span, stride),
		ColumnSpan: span,
		Crossing:   ClassifyBoundaryCrossing(minV, maxV, macroSize),
		Origin:     a,
		Local:      ToLocalFrame(points, a, macroSize),
	}
}

// Bounds returns the component-wise minimum and maximum of points.
func Bounds(points []model.Point) (minV, maxV model.Vec) {
	if len(points) == 0 {
		return
	}
	minV = points[0].Pos()
	maxV = minV
	for _, p := range points[1:] {
		minV.X = math.Min(minV.X, p.X)
		minV.Y = math.Min(minV.Y, p.Y)
		maxV.X = math.Max(maxV.X, p.X)
		maxV.Y = math.Max(maxV.Y, p.Y)
	}
	return
}

// ToLocalFrame shifts points so that the top-left corner of originTile is (0,0).
func ToLocalFrame(points []model.Point, originTile model.TileCoord, tileSize int) []model.Point {
	return Translate(points, tileOrigin(originTile, tileSize))
}

// FromLocalFrame undoes ToLocalFrame.
func FromLocalFrame(points []model.Point, originTile model.TileCoord, tileSize int) []model.Point {
	o := tileOrigin(originTile, tileSize)
	out := make([]model.Point, len(points))
	for i, p := range points {
		out[i] = p.Moved(o)
	}
	return out
}

// Translate re-expresses points relative to origin.
func Translate(points []model.Point, origin model.Vec) []model.Point {
	d := model.Vec{X: -origin.X, Y: -origin.Y}
	out := make([]model.Point, len(points))
	for i, p := range points {
		out[i] = p.Moved(d)
	}
	return out
}

func tileOrigin(c model.TileCoord, tileSize int) model.Vec {
	return model.Vec{X: float64(c.Col * tileSize), Y: float64(c.Row * tileSize)}
}

// RangeForRect returns the half-open tile range covering the pixel rectangle r.
func RangeForRect(r image.Rectangle, tileSize int) model.TileRange {
	if r.Empty() {
		return model.TileRange{}
	}
	return model.TileRange{
		ColStart: floorDiv(r.Min.X, tileSize),
		ColEnd:   floorDiv(r.Max.X-1, tileSize) + 1,
		RowStart: floorDiv(r.Min.Y, tileSize),
		RowEnd:   floorDiv(r.Max.Y-1, tileSize) + 1,
	}
}

// TileRect is the pixel region of tile c inside a raster whose top-left tile is origin.
func TileRect(c, origin model.TileCoord, tileSize int) image.Rectangle {
	x := (c.Col - origin.Col) * tileSize
	y := (c.Row - origin.Row) * tileSize
	return image.Rect(x, y, x+tileSize, y+tileSize)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
