package render

import (
	"errors"
	"fmt"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
)

var (
	ErrNotFound   = errors.New("resource not found")
	ErrUnknownMap = errors.New("unknown map id")
	// ErrNotPrimed is returned while a map's composite has not been assembled
	// and on-demand assembly is off.
	ErrNotPrimed = errors.New("map not primed yet")
)

// NotFoundError explains why a query resolved to nothing. Nothing is cached
// for it, so the next call resolves again.
type NotFoundError struct {
	Key    model.RenderKey
	Reason string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s on map %d", e.Reason, e.Key.Resource, e.Key.MapID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func notFound(k model.RenderKey, reason string) error {
	return &NotFoundError{Key: k, Reason: reason}
}
