package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MapEntry describes one servable map. Slice is the path segment of the tile
// server for this map; Columns and Rows bound the tile grid (0 derives them from
// the provider's total size).
type MapEntry struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	Slice   string `yaml:"slice"`
	Columns int    `yaml:"columns"`
	Rows    int    `yaml:"rows"`
}

type Catalog struct {
	Maps []MapEntry `yaml:"maps"`
}

func DefaultCatalog() Catalog {
	return Catalog{Maps: []MapEntry{
		{ID: 2, Name: "teyvat", Slice: "2"},
		{ID: 7, Name: "enkanomiya", Slice: "7"},
		{ID: 9, Name: "chasm", Slice: "9"},
	}}
}

// LoadCatalog reads path, or returns the default catalog when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read maps file: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse maps file: %w", err)
	}
	seen := map[int]bool{}
	for i, m := range c.Maps {
		if m.ID <= 0 {
			return Catalog{}, fmt.Errorf("map %d: id must be positive", i)
		}
		if seen[m.ID] {
			return Catalog{}, fmt.Errorf("map %d: duplicate id %d", i, m.ID)
		}
		seen[m.ID] = true
		if strings.TrimSpace(m.Name) == "" {
			return Catalog{}, fmt.Errorf("map %d: name is required", m.ID)
		}
		if m.Slice == "" {
			c.Maps[i].Slice = strconv.Itoa(m.ID)
		}
		if m.Columns < 0 || m.Rows < 0 {
			return Catalog{}, fmt.Errorf("map %d: negative grid size", m.ID)
		}
	}
	sort.Slice(c.Maps, func(i, j int) bool { return c.Maps[i].ID < c.Maps[j].ID })
	return c, nil
}

func (c Catalog) Lookup(id int) (MapEntry, bool) {
	for _, m := range c.Maps {
		if m.ID == id {
			return m, true
		}
	}
	return MapEntry{}, false
}

func (c Catalog) IDs() []int {
	out := make([]int, 0, len(c.Maps))
	for _, m := range c.Maps {
		out = append(out, m.ID)
	}
	return out
}
