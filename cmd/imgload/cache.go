package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/imageloader/cache"
)

func newCacheCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the cache",
	}
	cmd.AddCommand(newCacheStatsCmd(c))
	cmd.AddCommand(newCacheClearCmd(c))
	cmd.AddCommand(newCachePurgeCmd(c))
	return cmd
}

// withRuntime runs fn against a runtime built from the current settings.
func withRuntime(cmd *cobra.Command, c *cli, fn func(rt *runtime) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func newCacheStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, c, func(rt *runtime) error {
				stats, err := rt.images.Stats(cmd.Context())
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer enc.Close()
				return enc.Encode(stats)
			})
		},
	}
}

func newCacheClearCmd(c *cli) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, ok := cache.ParseType(tier)
			if !ok {
				return fmt.Errorf("unknown cache type %q", tier)
			}
			return withRuntime(cmd, c, func(rt *runtime) error {
				err := wait(cmd.Context(), func(done cache.DoneFunc) {
					rt.cache.Clear(cmd.Context(), typ, done)
				})
				if err != nil {
					return fmt.Errorf("failed to clear cache: %w", err)
				}
				cfg := rt.images.Config()
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s cache at %s\n", typ, cfg.Dir())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tier, "type", "all", "tiers to clear (memory, disk, all)")
	return cmd
}

func newCachePurgeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired images and enforce the disk budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, c, func(rt *runtime) error {
				err := wait(cmd.Context(), func(done cache.DoneFunc) {
					rt.images.PurgeExpired(cmd.Context(), done)
				})
				if err != nil {
					return fmt.Errorf("failed to purge cache: %w", err)
				}
				count, err := rt.images.TotalDiskCount(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d images remain\n", count)
				return nil
			})
		},
	}
}
