// Package model defines core domain types shared across the service.
package model

import "fmt"

// Vec is a coordinate in world or pixel space.
type Vec struct {
	X, Y float64
}

func (v Vec) Add(o Vec) Vec { return Vec{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec) Sub(o Vec) Vec { return Vec{X: v.X - o.X, Y: v.Y - o.Y} }

// Point is one resource occurrence reported by the data provider.
// Tier is the provider's z level, Status its icon sign.
type Point struct {
	ID      int64
	LabelID int64
	X, Y    float64
	Tier    int
	Status  int
}

func (p Point) Pos() Vec { return Vec{X: p.X, Y: p.Y} }

// Moved returns a copy of p shifted by d.
func (p Point) Moved(d Vec) Point {
	p.X += d.X
	p.Y += d.Y
	return p
}

type TileCoord struct {
	Col, Row int
}

func (c TileCoord) String() string {
	return fmt.Sprintf("%d_%d", c.Col, c.Row)
}

// TileRange is half-open on both axes: [ColStart,ColEnd) x [RowStart,RowEnd).
type TileRange struct {
	ColStart, ColEnd int
	RowStart, RowEnd int
}

func (r TileRange) Width() int {
	if r.ColEnd <= r.ColStart {
		return 0
	}
	return r.ColEnd - r.ColStart
}

func (r TileRange) Height() int {
	if r.RowEnd <= r.RowStart {
		return 0
	}
	return r.RowEnd - r.RowStart
}

func (r TileRange) Empty() bool { return r.Width() == 0 || r.Height() == 0 }

func (r TileRange) Contains(c TileCoord) bool {
	return c.Col >= r.ColStart && c.Col < r.ColEnd && c.Row >= r.RowStart && c.Row < r.RowEnd
}

// Coords lists every coordinate of the range in row-major order.
func (r TileRange) Coords() []TileCoord {
	out := make([]TileCoord, 0, r.Width()*r.Height())
	for row := r.RowStart; row < r.RowEnd; row++ {
		for col := r.ColStart; col < r.ColEnd; col++ {
			out = append(out, TileCoord{Col: col, Row: row})
		}
	}
	return out
}

// Intersect clips r to o.
func (r TileRange) Intersect(o TileRange) TileRange {
	out := TileRange{
		ColStart: max(r.ColStart, o.ColStart),
		ColEnd:   min(r.ColEnd, o.ColEnd),
		RowStart: max(r.RowStart, o.RowStart),
		RowEnd:   min(r.RowEnd, o.RowEnd),
	}
	if out.ColEnd < out.ColStart {
		out.ColEnd = out.ColStart
	}
	if out.RowEnd < out.RowStart {
		out.RowEnd = out.RowStart
	}
	return out
}

// Extent is the largest column and row for which a tile is present.
type Extent struct {
	MaxCol, MaxRow int
	Any            bool
}

func (e *Extent) Include(c TileCoord) {
	if !e.Any {
		e.MaxCol, e.MaxRow, e.Any = c.Col, c.Row, true
		return
	}
	e.MaxCol = max(e.MaxCol, c.Col)
	e.MaxRow = max(e.MaxRow, c.Row)
}

func (e *Extent) Merge(o Extent) {
	if !o.Any {
		return
	}
	e.Include(TileCoord{Col: o.MaxCol, Row: o.MaxRow})
}

// Cluster encloses its members between TopLeft and BottomRight.
type Cluster struct {
	TopLeft     Vec
	BottomRight Vec
	Members     []Point
}

func (c Cluster) Width() float64  { return c.BottomRight.X - c.TopLeft.X }
func (c Cluster) Height() float64 { return c.BottomRight.Y - c.TopLeft.Y }

// RenderKey identifies one finished annotated image.
type RenderKey struct {
	MapID     int
	MapName   string
	Resource  string
	Clustered bool
}

func (k RenderKey) String() string {
	return fmt.Sprintf("%s/%s/clustered=%t", k.MapName, k.Resource, k.Clustered)
}

// MapDetail is the geometry part of the provider's map metadata.
type MapDetail struct {
	Origin    [2]int
	Padding   [2]int
	TotalSize [2]int
}

// Label is a resource kind in the provider's label tree.
type Label struct {
	ID       int64
	Name     string
	Icon     string
	ParentID int64
}

// LabelGroup is one top-level node of the label tree.
type LabelGroup struct {
	ID       int64
	Name     string
	Children []Label
}
