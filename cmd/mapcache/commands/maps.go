package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func (c *CLI) newPrimeCmd() *cobra.Command {
	var ids []int
	cmd := &cobra.Command{
		Use:   "prime",
		Short: "Download tiles and assemble composites ahead of serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			err = a.Prime(cmd.Context(), ids...)
			_, maps := a.Ready.Readiness()
			for _, id := range maps {
				comp, _ := a.Assembler.Cached(id)
				present, missing := comp.Counts()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "map %d: %d tiles present, %d missing\n", id, present, missing)
			}
			return err
		},
	}
	cmd.Flags().IntSliceVar(&ids, "map", nil, "map ids to prime (default: whole catalog)")
	return cmd
}

func (c *CLI) newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild MAP_ID",
		Short: "Retry absent tiles and assemble a map's composite again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid map id %q", args[0])
			}
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if _, ok := a.Catalog.Lookup(id); !ok {
				return fmt.Errorf("map id %d does not exist", id)
			}

			comp, err := a.Assembler.Rebuild(cmd.Context(), id)
			if err != nil {
				return err
			}
			present, missing := comp.Counts()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "map %d: %d tiles present, %d missing\n", id, present, missing)
			return nil
		},
	}
}

type queryFlags struct {
	mapID     int
	clustered bool
}

func (q *queryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&q.mapID, "map-id", 2, "map id")
	cmd.Flags().BoolVar(&q.clustered, "cluster", false, "crop to the first point cluster")
}

func (c *CLI) newRenderCmd() *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "render RESOURCE",
		Short: "Render one resource map and print the cached file path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.cfg.PrimeOnStart = false
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.Render.Resolve(cmd.Context(), q.mapID, args[0], q.clustered)
			if err != nil {
				return err
			}
			state := "built"
			if res.Hit {
				state = "cached"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", res.Path, state)
			return nil
		},
	}
	q.bind(cmd)
	return cmd
}

func (c *CLI) newPlanCmd() *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "plan RESOURCE",
		Short: "Print the macro tiles a resource query touches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			p, err := a.Render.Plan(cmd.Context(), q.mapID, args[0], q.clustered)
			if err != nil {
				return err
			}
			out := map[string]any{
				"map":         p.Key.MapName,
				"resource":    p.Key.Resource,
				"clustered":   p.Key.Clustered,
				"points":      p.Points,
				"indices":     p.Macro.Indices,
				"column_span": p.Macro.ColumnSpan,
				"crossing":    p.Macro.Crossing,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	q.bind(cmd)
	return cmd
}
