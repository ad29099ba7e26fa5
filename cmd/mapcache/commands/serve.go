package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newServeCmd() *cobra.Command {
	var (
		addr    string
		noPrime bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Addr = addr
			}
			if noPrime {
				c.cfg.PrimeOnStart = false
			}
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			c.logger.Info("starting mapcache", "addr", c.cfg.Addr, "version", c.version,
				"maps", a.Catalog.IDs(), "prime", c.cfg.PrimeOnStart)
			if err := a.Serve(cmd.Context(), c.cfg.Addr); err != nil {
				return err
			}
			c.logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ADDR)")
	cmd.Flags().BoolVar(&noPrime, "no-prime", false, "assemble composites on first request instead of at start")
	return cmd
}
