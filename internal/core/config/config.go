// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		Addr     string `env:"ADDR" envDefault:":5000"`
		LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

		Log      Log      `envPrefix:"LOG_"`
		Metrics  Metrics  `envPrefix:"METRICS_"`
		Provider Provider `envPrefix:"PROVIDER_"`
		Tiles    Tiles    `envPrefix:"TILE_"`
		Render   Render   `envPrefix:"RENDER_"`
		Icons    Icons    `envPrefix:"ICON_"`
		Cluster  Cluster  `envPrefix:"CLUSTER_"`
		Redis    Redis    `envPrefix:"REDIS_"`
		Events   Events   `envPrefix:"RENDER_EVENTS_"`
		Commands Commands `envPrefix:"COMMANDS_"`

		MapsFile       string  `env:"MAPS_FILE"`
		LandmarkLabels []int64 `env:"LANDMARK_LABELS" envSeparator:","`
		PrimeOnStart   bool    `env:"PRIME_ON_START" envDefault:"true"`
		MacroTileSize  int     `env:"MACRO_TILE_SIZE" envDefault:"4096"`
	}

	Log struct {
		Console bool `env:"CONSOLE" envDefault:"false"`
		SampleN int  `env:"SAMPLE_N" envDefault:"0"`
	}

	Metrics struct {
		Enabled bool   `env:"ENABLED" envDefault:"false"`
		Addr    string `env:"ADDR" envDefault:":9090"`
		Path    string `env:"PATH" envDefault:"/metrics"`
	}

	Provider struct {
		BaseURL string        `env:"BASE_URL" envDefault:"https://api-static.mihoyo.com/common/blackboard/ys_obc/v1/map"`
		AppSN   string        `env:"APP_SN" envDefault:"ys_obc"`
		Lang    string        `env:"LANG" envDefault:"zh-cn"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
	}

	Tiles struct {
		BaseURL      string        `env:"BASE_URL" envDefault:"https://act-webstatic.mihoyo.com/ys-map-op/map"`
		Ext          string        `env:"EXT" envDefault:"png"`
		Size         int           `env:"SIZE" envDefault:"256"`
		Dir          string        `env:"DIR" envDefault:"data/tiles"`
		Concurrency  int           `env:"FETCH_CONCURRENCY" envDefault:"8"`
		FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
		MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	}

	Render struct {
		Dir         string        `env:"DIR" envDefault:"data/resources"`
		TextureDir  string        `env:"TEXTURE_DIR"`
		Padding     int           `env:"PADDING" envDefault:"100"`
		MinSize     int           `env:"MIN_SIZE" envDefault:"400"`
		MarkerSize  int           `env:"MARKER_SIZE" envDefault:"48"`
		JPEGQuality int           `env:"JPEG_QUALITY" envDefault:"85"`
		LockRedis   bool          `env:"LOCK_REDIS" envDefault:"false"`
		LockTTL     time.Duration `env:"LOCK_TTL" envDefault:"2m"`
	}

	Icons struct {
		Dir       string        `env:"DIR" envDefault:"data/icons"`
		Retries   int           `env:"RETRIES" envDefault:"3"`
		Backoff   time.Duration `env:"BACKOFF" envDefault:"200ms"`
		CacheSize int           `env:"CACHE_SIZE" envDefault:"256"`
	}

	Cluster struct {
		MaxDistance float64 `env:"MAX_DISTANCE" envDefault:"500"`
		MinSize     int     `env:"MIN_SIZE" envDefault:"2"`
	}

	Redis struct {
		Addr     string `env:"ADDR" envDefault:"localhost:6379"`
		Password string `env:"PASSWORD"`
		DB       int    `env:"DB" envDefault:"0"`
	}

	Events struct {
		Enabled bool     `env:"ENABLED" envDefault:"false"`
		Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
		Topic   string   `env:"TOPIC" envDefault:"map-render-events"`
		Queue   int      `env:"QUEUE" envDefault:"1024"`
	}

	Commands struct {
		Enabled bool     `env:"ENABLED" envDefault:"false"`
		Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
		Topic   string   `env:"TOPIC" envDefault:"map-commands"`
		GroupID string   `env:"GROUP_ID" envDefault:"mapcache"`
	}
)

// Load reads an optional .env file, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Tiles.Size <= 0 {
		c.Tiles.Size = 256
	}
	if c.Tiles.Concurrency <= 0 {
		c.Tiles.Concurrency = 8
	}
	if c.Tiles.MaxAttempts <= 0 {
		c.Tiles.MaxAttempts = 1
	}
	if c.MacroTileSize <= 0 {
		c.MacroTileSize = 4096
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		c.Render.JPEGQuality = 85
	}
	if c.Render.MarkerSize <= 0 {
		c.Render.MarkerSize = 48
	}
	if c.Icons.Retries < 1 {
		c.Icons.Retries = 1
	}
	if c.Cluster.MinSize < 1 {
		c.Cluster.MinSize = 1
	}
}
