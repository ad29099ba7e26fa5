package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
)

// Point statuses that get an overlay badge.
const (
	StatusBelow = 1
	StatusAbove = 2
)

const maxTier = 3

var (
	tierColors = map[int]color.RGBA{
		1: {0x3C, 0x8D, 0xDA, 0xFF},
		2: {0x9B, 0x59, 0xB6, 0xFF},
		3: {0xE6, 0xA8, 0x17, 0xFF},
	}
	fallbackColor = color.RGBA{0x7F, 0x8C, 0x8D, 0xFF}
	ringColor     = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	belowColor    = color.RGBA{0x16, 0xA0, 0x85, 0xFF}
	aboveColor    = color.RGBA{0xE7, 0x4C, 0x3C, 0xFF}
)

// Markers draws point markers: a pin whose frame depends on the point's tier,
// the resource icon inside it, and a badge for the two special statuses.
// PNG textures named tier_1.png..tier_3.png, tier_x.png, status_1.png,
// status_2.png and landmark_<label>.png in the texture dir replace the
// procedural shapes.
type Markers struct {
	size     int
	textures map[string]image.Image
}

func NewMarkers(size int, textureDir string) (*Markers, error) {
	if size < 8 {
		size = 8
	}
	m := &Markers{size: size, textures: map[string]image.Image{}}
	if textureDir == "" {
		return m, nil
	}
	entries, err := os.ReadDir(textureDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("read texture dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		img, err := decodeFile(filepath.Join(textureDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("texture %s: %w", e.Name(), err)
		}
		m.textures[e.Name()[:len(e.Name())-len(".png")]] = img
	}
	return m, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	return img, err
}

// Bounds is the size of a composed marker.
func (m *Markers) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.size, m.size+m.size/4)
}

// Compose builds the marker of p with icon drawn inside the pin head.
func (m *Markers) Compose(p model.Point, icon image.Image) *image.RGBA {
	dst := image.NewRGBA(m.Bounds())
	tierKey := "tier_x"
	if p.Tier >= 1 && p.Tier <= maxTier {
		tierKey = "tier_" + strconv.Itoa(p.Tier)
	}
	if tex, ok := m.textures[tierKey]; ok {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), tex, tex.Bounds(), draw.Over, nil)
	} else {
		c, ok := tierColors[p.Tier]
		if !ok {
			c = fallbackColor
		}
		m.drawPin(dst, c)
	}

	if icon != nil {
		inset := m.size / 5
		head := image.Rect(inset, inset, m.size-inset, m.size-inset)
		xdraw.CatmullRom.Scale(dst, head, icon, icon.Bounds(), draw.Over, nil)
	}

	if p.Tier > maxTier {
		drawLabel(dst, strconv.Itoa(p.Tier), m.size/2, m.size-2)
	}

	switch p.Status {
	case StatusBelow:
		m.drawBadge(dst, "status_1", belowColor, image.Pt(m.size/6, m.size-m.size/6))
	case StatusAbove:
		m.drawBadge(dst, "status_2", aboveColor, image.Pt(m.size-m.size/6, m.size/6))
	}
	return dst
}

// Landmark builds the marker of a landmark point of the given label.
func (m *Markers) Landmark(labelID int64) *image.RGBA {
	dst := image.NewRGBA(m.Bounds())
	if tex, ok := m.textures["landmark_"+strconv.FormatInt(labelID, 10)]; ok {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), tex, tex.Bounds(), draw.Over, nil)
		return dst
	}
	c := color.RGBA{0x2C, 0x3E, 0x50, 0xFF}
	if labelID%2 == 1 {
		c = color.RGBA{0x27, 0xAE, 0x60, 0xFF}
	}
	m.drawPin(dst, c)
	fillCircle(dst, image.Pt(m.size/2, m.size/2), m.size/6, ringColor)
	return dst
}

func (m *Markers) drawPin(dst *image.RGBA, c color.RGBA) {
	r := m.size / 2
	center := image.Pt(r, r)
	fillCircle(dst, center, r-1, ringColor)
	fillCircle(dst, center, r-3, c)

	// pointer from the lower half of the head down to the tip
	tipY := dst.Bounds().Dy() - 1
	for y := r; y <= tipY; y++ {
		half := (tipY - y) * r / (tipY - r + 1) / 2
		for x := r - half; x <= r+half; x++ {
			if dst.RGBAAt(x, y).A == 0 {
				dst.SetRGBA(x, y, c)
			}
		}
	}
}

func (m *Markers) drawBadge(dst *image.RGBA, texture string, c color.RGBA, at image.Point) {
	rad := max(m.size/7, 2)
	if tex, ok := m.textures[texture]; ok {
		r := image.Rect(at.X-rad, at.Y-rad, at.X+rad, at.Y+rad)
		xdraw.CatmullRom.Scale(dst, r, tex, tex.Bounds(), draw.Over, nil)
		return
	}
	fillCircle(dst, at, rad, ringColor)
	fillCircle(dst, at, rad-1, c)
}

func fillCircle(dst *image.RGBA, center image.Point, r int, c color.RGBA) {
	if r <= 0 {
		return
	}
	rr := r * r
	b := dst.Bounds()
	for y := center.Y - r; y <= center.Y+r; y++ {
		for x := center.X - r; x <= center.X+r; x++ {
			dx, dy := x-center.X, y-center.Y
			if dx*dx+dy*dy <= rr && image.Pt(x, y).In(b) {
				dst.SetRGBA(x, y, c)
			}
		}
	}
}

func drawLabel(dst *image.RGBA, text string, cx, baseline int) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(cx-w/2, baseline),
	}
	d.DrawString(text)
}

// Paste draws marker onto dst horizontally centered on at, with its bottom
// edge on at.
func Paste(dst draw.Image, marker image.Image, at image.Point) {
	b := marker.Bounds()
	r := image.Rect(at.X-b.Dx()/2, at.Y-b.Dy(), at.X-b.Dx()/2+b.Dx(), at.Y)
	draw.Draw(dst, r, marker, b.Min, draw.Over)
}
