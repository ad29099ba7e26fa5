// Package kafkaconsumer applies operator commands read from a Kafka topic.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/assembler"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/config"
	obs "github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/invalidation"
	mylog "github.com/mohammed-shakir/tilemap-render-cache/internal/logger"
)

type Rebuilder interface {
	Rebuild(ctx context.Context, mapID int) (*assembler.Composite, error)
}

type Purger interface {
	Purge(mapID int, resource string) (int, error)
}

type Catalog interface {
	Lookup(id int) (config.MapEntry, bool)
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	catalog Catalog
	rebuild Rebuilder
	purge   Purger
}

func New(cfg Config, logger *slog.Logger, cat Catalog, rb Rebuilder, p Purger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg.WithDefaults(), logger: logger, catalog: cat, rebuild: rb, purge: p}
}

// Start joins the consumer group and applies commands until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.catalog == nil || c.rebuild == nil || c.purge == nil {
		return errors.New("kafkaconsumer: missing dependencies (catalog/rebuilder/purger)")
	}

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, c.cfg.sarama())
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}
	c.logger.Info("kafka command consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka command consumer shutting down")
			return nil
		default:
		}
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			c.logger.Error("consumer error", "err", err, "topic", c.cfg.Topic)
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
	}
}

// ProcessOne applies a single message. Malformed commands and unknown maps are
// logged and skipped; a failed rebuild or purge is returned so the message is
// retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	cmd, err := invalidation.Decode(msg.Value)
	if err != nil {
		obs.IncCommand("", "skipped")
		c.logger.WarnContext(ctx, "skipping command",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if _, ok := c.catalog.Lookup(cmd.MapID); !ok {
		obs.IncCommand(cmd.Op, "skipped")
		c.logger.WarnContext(ctx, "command for unknown map", "op", cmd.Op, "map_id", cmd.MapID)
		return nil
	}

	ctx = mylog.WithRender(ctx, cmd.MapID, cmd.Resource)
	start := time.Now()
	switch cmd.Op {
	case invalidation.OpRebuild:
		_, err = c.rebuild.Rebuild(ctx, cmd.MapID)
	case invalidation.OpPurge:
		var n int
		n, err = c.purge.Purge(cmd.MapID, cmd.Resource)
		if err == nil {
			c.logger.InfoContext(ctx, "renders purged by command", "files", n)
		}
	}
	if err != nil {
		obs.IncCommand(cmd.Op, "error")
		c.logger.ErrorContext(ctx, "command failed", "op", cmd.Op,
			"partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("%s map %d: %w", cmd.Op, cmd.MapID, err)
	}
	obs.IncCommand(cmd.Op, "ok")
	c.logger.InfoContext(ctx, "command applied", "op", cmd.Op, "took", time.Since(start))
	return nil
}
