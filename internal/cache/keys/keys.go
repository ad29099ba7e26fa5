// Package keys derives file names and lock keys from tile coordinates and render keys.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
)

const (
	RenderExt       = "jpg"
	IconExt         = "png"
	AbsentExt       = "absent"
	clusteredSuffix = "_CLUSTERED"
)

// TileFile is the on-disk name of a tile: {mapId}_{col}_{row}.{ext}.
func TileFile(mapID int, c model.TileCoord, ext string) string {
	return fmt.Sprintf("%d_%d_%d.%s", mapID, c.Col, c.Row, strings.TrimPrefix(ext, "."))
}

// AbsentFile marks a tile the origin server durably does not have.
func AbsentFile(mapID int, c model.TileCoord) string {
	return fmt.Sprintf("%d_%d_%d.%s", mapID, c.Col, c.Row, AbsentExt)
}

// RenderFile is the cache file of a rendered query:
// {mapName}_{resource}[_CLUSTERED].jpg with path separators replaced.
func RenderFile(k model.RenderKey) string {
	name := k.MapName + "_" + FileSafe(k.Resource)
	if k.Clustered {
		name += clusteredSuffix
	}
	return name + "." + RenderExt
}

// IconFile is the cache file of a resource icon.
func IconFile(resource string) string {
	return FileSafe(resource) + "." + IconExt
}

// FileSafe replaces path separators so a name stays inside its directory.
// Only separators are touched; everything else, including non-ASCII, is kept.
func FileSafe(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}

// LockKey is the shared lock key for building k. The readable part is
// sanitized and truncated; the hash suffix keeps distinct resources apart.
func LockKey(k model.RenderKey) string {
	res := sanitizeForKey(collapseASCIIWhitespace(k.Resource))

	const maxResourceLen = 96
	if len(res) > maxResourceLen {
		res = res[:maxResourceLen]
	}

	c := 0
	if k.Clustered {
		c = 1
	}
	sum := xxhash.Sum64String(fmt.Sprintf("%d\x00%s\x00%d", k.MapID, k.Resource, c))
	return fmt.Sprintf("render-lock:%s:%s:c=%d:h=%016x", sanitizeForKey(k.MapName), res, c, sum)
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
