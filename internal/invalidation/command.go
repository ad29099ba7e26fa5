// Package invalidation decodes operator commands that drop or rebuild cached
// map artifacts.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// OpRebuild forgets the map's composite and assembles it again.
	OpRebuild = "rebuild"
	// OpPurge removes rendered images of the map, or of one resource on it.
	OpPurge = "purge"
)

type Command struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	MapID    int       `json:"map_id"`
	Resource string    `json:"resource,omitempty"`
	TS       time.Time `json:"ts"`
}

func (c Command) Validate() error {
	if c.Version != 1 {
		return errors.New("version must be 1")
	}
	switch c.Op {
	case OpRebuild:
		if c.Resource != "" {
			return errors.New("rebuild takes no resource")
		}
	case OpPurge:
	default:
		return fmt.Errorf("op must be %s|%s", OpRebuild, OpPurge)
	}
	if c.MapID <= 0 {
		return errors.New("map_id must be positive")
	}
	if c.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}

// Decode parses and validates one command message.
func Decode(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}
	return c, nil
}
