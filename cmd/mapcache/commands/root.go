// Package commands implements the mapcache command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/app"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/config"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/logger"
)

type CLI struct {
	version string
	rootCmd *cobra.Command

	cfg    config.Config
	logger *slog.Logger

	mapsFile string
	logLevel string
}

func New(version string) *CLI {
	c := &CLI{version: version}
	rootCmd := &cobra.Command{
		Use:               "mapcache",
		Short:             "Tile, cluster and cache annotated resource maps",
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           version,
		PersistentPreRunE: c.setup,
	}
	rootCmd.PersistentFlags().StringVar(&c.mapsFile, "maps", "", "map catalog YAML (overrides MAPS_FILE)")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		c.newServeCmd(),
		c.newPrimeCmd(),
		c.newRebuildCmd(),
		c.newRenderCmd(),
		c.newPlanCmd(),
		c.newVersionCmd(),
	)
	c.rootCmd = rootCmd
	return c
}

func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

func (c *CLI) SetOutput(w io.Writer) {
	c.rootCmd.SetOut(w)
	c.rootCmd.SetErr(w)
}

func (c *CLI) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.mapsFile != "" {
		cfg.MapsFile = c.mapsFile
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	c.cfg = cfg

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Component: "mapcache",
	}, os.Stderr)
	c.logger = logger.NewSlog(&zl)
	return nil
}

func (c *CLI) app(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, c.cfg, c.logger, c.version)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return a, nil
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "mapcache version %s\n", c.version)
		},
	}
}
