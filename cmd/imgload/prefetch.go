package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/go/imageloader"
	"github.com/jmgilman/go/imageloader/dispatch"
)

func newPrefetchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefetch <url>...",
		Short: "Warm the cache with a list of images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefetch(cmd, c, args)
		},
	}

	cmd.Flags().IntP("concurrency", "j", 0, "maximum concurrent loads")
	c.bind("prefetcher.max_concurrent", cmd.Flags().Lookup("concurrency"))
	return cmd
}

func runPrefetch(cmd *cobra.Command, c *cli, args []string) error {
	ctx := cmd.Context()

	cfg, err := c.config()
	if err != nil {
		return err
	}
	opts, err := cfg.PrefetchOptions()
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	p := imageloader.NewPrefetcher(rt.manager)
	p.Options = opts
	p.MaxConcurrentPrefetchCount = cfg.Prefetcher.MaxConcurrent
	p.CallbackQueue = dispatch.Inline()

	out := cmd.OutOrStdout()
	var finished, skipped int
	token := p.Prefetch(ctx, args,
		func(n, total int) {
			fmt.Fprintf(out, "%d/%d\n", n, total)
		},
		func(f, s int) {
			finished, skipped = f, s
		})
	<-token.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	fmt.Fprintf(out, "prefetched %d of %d images\n", finished-skipped, len(args))
	if skipped > 0 {
		return fmt.Errorf("%d of %d images failed", skipped, len(args))
	}
	return nil
}
