// Package cluster groups resource points with single-linkage clustering.
package cluster

import (
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
)

// Cluster links two points when a chain of points, each within maxDistance of
// the next, connects them. Clusters smaller than minSize are dropped. The result
// keeps the order in which clusters were opened while scanning points; bounding
// boxes are the raw member extremes with no padding.
func Cluster(points []model.Point, maxDistance float64, minSize int) []model.Cluster {
	if len(points) == 0 {
		return nil
	}
	limit := maxDistance * maxDistance
	assigned := make([]bool, len(points))
	var out []model.Cluster

	for i := range points {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []model.Point{points[i]}

		// members grows while we walk it, so every new member gets its own scan
		for k := 0; k < len(members); k++ {
			m := members[k]
			for j := range points {
				if assigned[j] {
					continue
				}
				if dist2(m, points[j]) <= limit {
					assigned[j] = true
					members = append(members, points[j])
				}
			}
		}

		if len(members) < minSize {
			continue
		}
		out = append(out, boxed(members))
	}
	return out
}

// First returns the first cluster, mirroring how clustered renders pick their region.
func First(points []model.Point, maxDistance float64, minSize int) (model.Cluster, bool) {
	cs := Cluster(points, maxDistance, minSize)
	if len(cs) == 0 {
		return model.Cluster{}, false
	}
	return cs[0], true
}

func boxed(members []model.Point) model.Cluster {
	c := model.Cluster{
		TopLeft:     members[0].Pos(),
		BottomRight: members[0].Pos(),
		Members:     members,
	}
	for _, p := range members[1:] {
		c.TopLeft.X = min(c.TopLeft.X, p.X)
		c.TopLeft.Y = min(c.TopLeft.Y, p.Y)
		c.BottomRight.X = max(c.BottomRight.X, p.X)
		c.BottomRight.Y = max(c.BottomRight.Y, p.Y)
	}
	return c
}

func dist2(a, b model.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}
