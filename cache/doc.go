// Package cache provides the tiered image cache of the loading pipeline.
//
// An ImageCache pairs a memory tier with a disk tier:
//
//   - MemoryCache: decoded images in an LRU bounded by decoded byte size
//     and entry count
//   - DiskCache: encoded bytes, one file per key, named by the SHA-256
//     digest of the key, expired by modification time
//   - ObjectCache: an optional remote tier over an S3-compatible bucket
//   - Manager: combines caches with per-operation fan-out policies
//
// # Query Flow
//
// A query checks memory first and answers a hit on the calling goroutine.
// On a memory miss the disk read and decode run on a keyed I/O queue, so
// operations for one key are applied in order while different keys
// proceed concurrently. A disk hit is promoted into memory unless the
// query sets SkipMemoryPromotion. Read and decode failures are reported
// as misses and counted in the metrics.
//
// # Maintenance
//
// A background ticker sweeps the disk tier: files older than MaxDiskAge
// are removed first, then, when the size or count budget is exceeded, the
// oldest files are removed until usage drops below half of the budget.
// HandleEvent reacts to low-memory and background events.
//
// Every operation is logged through a structured logger and recorded in
// DetailedMetrics.
package cache

//go:generate go run github.com/matryer/moq@latest -out mocks/cache.go -pkg mocks . Cache
