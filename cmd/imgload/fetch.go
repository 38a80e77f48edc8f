package main

import (
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/jmgilman/go/imageloader"
	"github.com/jmgilman/go/imageloader/cache"
	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/transform"
)

type fetchFlags struct {
	out       string
	resize    string
	mode      string
	grayscale bool
	tint      string
	options   []string
}

type fetchResult struct {
	img  *coder.Image
	data []byte
	err  error
	tier cache.Type
}

func newFetchCmd(c *cli) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Load images through the cache",
		Long: `Load one or more images, from the cache when present and from the
network otherwise, and optionally write them to a directory.

Examples:
  imgload fetch https://example.com/a.png
  imgload fetch https://example.com/a.png --out ./images --resize 200x200
  imgload fetch https://example.com/a.png --options refresh_cached`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, c, f, args)
		},
	}

	cmd.Flags().StringVarP(&f.out, "out", "o", "", "directory to write images to")
	cmd.Flags().StringVar(&f.resize, "resize", "", "resize to WIDTHxHEIGHT")
	cmd.Flags().StringVar(&f.mode, "mode", "fill", "resize mode (fill, fit, stretch)")
	cmd.Flags().BoolVar(&f.grayscale, "grayscale", false, "convert to grayscale")
	cmd.Flags().StringVar(&f.tint, "tint", "", "tint with a hex color")
	cmd.Flags().StringSliceVar(&f.options, "options", nil, "request options, e.g. refresh_cached,retry_failed")
	return cmd
}

func runFetch(cmd *cobra.Command, c *cli, f *fetchFlags, args []string) error {
	ctx := cmd.Context()

	cfg, err := c.config()
	if err != nil {
		return err
	}
	opts, err := cfg.LoadOptions()
	if err != nil {
		return err
	}
	extra, ok := imageloader.ParseOptions(f.options...)
	if !ok {
		return fmt.Errorf("unknown option in %v", f.options)
	}
	opts |= extra

	transformer, err := f.transformer()
	if err != nil {
		return err
	}

	var out string
	if f.out != "" {
		out, err = homedir.Expand(f.out)
		if err != nil {
			return fmt.Errorf("failed to expand output path: %w", err)
		}
		if err := os.MkdirAll(out, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var mopts []imageloader.Option
	if transformer != nil {
		mopts = append(mopts, imageloader.WithTransformer(transformer))
	}
	rt, err := newRuntime(ctx, cfg, mopts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	results := make([]fetchResult, len(args))
	ops := make([]*imageloader.CombinedOperation, len(args))
	for i, raw := range args {
		ops[i] = rt.manager.Load(ctx, raw, opts, nil, nil,
			func(img *coder.Image, data []byte, err error, tier cache.Type, finished bool, _ *url.URL) {
				if finished {
					results[i] = fetchResult{img: img, data: data, err: err, tier: tier}
				}
			})
	}

	failed := 0
	for i, op := range ops {
		select {
		case <-op.Done():
		case <-ctx.Done():
			rt.manager.CancelAll()
			return ctx.Err()
		}

		res := results[i]
		if res.err == nil && res.img == nil && res.data == nil {
			res.err = fmt.Errorf("not found")
		}
		if res.err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", args[i], res.err)
			continue
		}

		line := fmt.Sprintf("%s: %s", args[i], describe(res))
		if out != "" {
			u, _ := url.Parse(args[i])
			path, err := writeImage(out, rt.manager.LoadCacheKey(u, opts, nil), res)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", args[i], err)
				continue
			}
			line += " -> " + path
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(args))
	}
	return nil
}

func (f *fetchFlags) transformer() (transform.Transformer, error) {
	var pipeline transform.Pipeline
	if f.resize != "" {
		size, err := parseSize(f.resize)
		if err != nil {
			return nil, err
		}
		mode, err := parseScaleMode(f.mode)
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, transform.Resize{Size: size, Mode: mode})
	}
	if f.grayscale {
		pipeline = append(pipeline, transform.Grayscale{})
	}
	if f.tint != "" {
		tint, err := transform.NewTint(f.tint, 0.5)
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, tint)
	}

	switch len(pipeline) {
	case 0:
		return nil, nil
	case 1:
		return pipeline[0], nil
	}
	return pipeline, nil
}

// parseSize parses "WIDTHxHEIGHT".
func parseSize(s string) (image.Point, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("invalid size %q, expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return image.Point{}, fmt.Errorf("invalid width in %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return image.Point{}, fmt.Errorf("invalid height in %q", s)
	}
	return image.Pt(width, height), nil
}

func parseScaleMode(s string) (transform.ScaleMode, error) {
	switch strings.ToLower(s) {
	case "fill", "":
		return transform.Fill, nil
	case "fit":
		return transform.Fit, nil
	case "stretch":
		return transform.Stretch, nil
	}
	return transform.Fill, fmt.Errorf("unknown resize mode %q", s)
}

func describe(res fetchResult) string {
	source := "network"
	if res.tier != cache.None {
		source = res.tier.String() + " cache"
	}
	if res.img == nil {
		return fmt.Sprintf("%d bytes from %s", len(res.data), source)
	}
	b := res.img.Bounds()
	return fmt.Sprintf("%dx%d %s from %s", b.Dx(), b.Dy(), res.img.Format, source)
}

// writeImage writes the image under its cache file name. Transformed
// images carry no bytes and are encoded in their source format, or PNG
// when that format has no encoder.
func writeImage(dir, key string, res fetchResult) (string, error) {
	data := res.data
	format := coder.DetectFormat(data)
	if data == nil {
		format = res.img.Format
		codecs := coder.Default()
		if !codecs.CanEncode(format) {
			format = coder.PNG
		}
		var err error
		data, err = codecs.Encode(res.img, format, coder.EncodeOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to encode image: %w", err)
		}
	}

	name := cache.FileName(key)
	if filepath.Ext(name) == "" && format != coder.Undefined {
		name += "." + format.String()
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return path, nil
}
