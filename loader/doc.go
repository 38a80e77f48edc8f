// Package loader fetches image data for the loading pipeline.
//
// A Loader turns a URL into an image or bytes and reports progress and
// partial images along the way. The built-in Downloader speaks HTTP:
//
//	d, err := loader.NewDownloader(
//	    loader.WithMaxConcurrentDownloads(4),
//	    loader.WithTimeout(10*time.Second),
//	)
//	op := d.Load(ctx, u, loader.Options{Priority: loader.PriorityHigh}, nil,
//	    func(img *coder.Image, data []byte, err error, finished bool) { ... })
//
// # Scheduling
//
// Downloads run on a scheduler with MaxConcurrentDownloads slots. Queued
// downloads are grouped by priority; within a priority the execution
// order picks the oldest (FIFO) or newest (LIFO) request. Suspending the
// downloader stops new downloads from starting.
//
// Concurrent loads of the same URL with the same options share a single
// transfer. Each caller gets its own operation; the transfer is aborted
// once every caller has cancelled.
//
// # Validation
//
// Responses are checked against the acceptable status ranges and content
// types. Failures carry the codes defined in the errs package, and
// ShouldBlockFailedURL tells the caller which of them are permanent.
//
// A Manager combines several loaders with a selection policy.
package loader

//go:generate go run github.com/matryer/moq@latest -out mocks/loader.go -pkg mocks . Loader
