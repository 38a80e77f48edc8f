package cache

import (
	"context"
	"strings"

	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/operation"
)

// Type is a set of cache tiers.
type Type int

const (
	// None means no tier: a miss, or a result that came from a loader.
	None Type = 0
	// Disk is the persistent tier.
	Disk Type = 1 << 0
	// Memory is the in-memory tier.
	Memory Type = 1 << 1
	// All is every tier.
	All = Disk | Memory
)

// Has reports whether t includes every tier of o.
func (t Type) Has(o Type) bool {
	return o != None && t&o == o
}

// String returns the tier names joined with "|".
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case All:
		return "all"
	}
	var names []string
	if t.Has(Memory) {
		names = append(names, "memory")
	}
	if t.Has(Disk) {
		names = append(names, "disk")
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "|")
}

// ParseType parses "none", "disk", "memory" or "all".
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return None, true
	case "disk":
		return Disk, true
	case "memory":
		return Memory, true
	case "all", "":
		return All, true
	}
	return None, false
}

// Options are query flags.
type Options uint

const (
	// QueryMemoryData also reads the bytes from disk on a memory hit.
	QueryMemoryData Options = 1 << iota
	// QueryMemoryDataSync reads those bytes on the calling goroutine.
	QueryMemoryDataSync
	// QueryDiskDataSync reads disk on the calling goroutine.
	QueryDiskDataSync
	// ScaleDownLargeImages caps the decoded size of disk hits.
	ScaleDownLargeImages
	// AvoidDecodeImage returns disk bytes without decoding them.
	AvoidDecodeImage
	// DecodeFirstFrameOnly decodes only the first frame of animations.
	DecodeFirstFrameOnly
	// SkipMemoryPromotion leaves disk hits out of the memory tier.
	SkipMemoryPromotion
)

// DefaultScaleDownLimitBytes is the decoded size cap applied by
// ScaleDownLargeImages when the decode options do not set one.
const DefaultScaleDownLimitBytes = 60 << 20

// QueryOptions control a query.
type QueryOptions struct {
	Flags Options
	// Type selects the tiers to query; the zero value queries All.
	Type Type
	// Decode is passed to the coder for disk hits.
	Decode coder.DecodeOptions
	// Coder overrides the cache's coder.
	Coder coder.Coder
}

func (o QueryOptions) types() Type {
	if o.Type == None {
		return All
	}
	return o.Type
}

func (o QueryOptions) decodeOptions() coder.DecodeOptions {
	opts := o.Decode
	if o.Flags&DecodeFirstFrameOnly != 0 {
		opts.FirstFrameOnly = true
	}
	if o.Flags&ScaleDownLargeImages != 0 && opts.LimitBytes == 0 {
		opts.LimitBytes = DefaultScaleDownLimitBytes
	}
	return opts
}

// QueryFunc receives a query result. A miss is (nil, nil, None).
type QueryFunc func(img *coder.Image, data []byte, tier Type)

// DoneFunc receives the outcome of a store, remove or clear.
type DoneFunc func(err error)

// ContainsFunc receives the tier holding a key, or None.
type ContainsFunc func(tier Type)

// Cache is a tiered image cache. Callbacks may run on any goroutine;
// nil callbacks are allowed everywhere.
type Cache interface {
	// Query looks key up in the tiers selected by opts.
	Query(ctx context.Context, key string, opts QueryOptions, done QueryFunc) operation.Operation
	// Store writes an image and/or its bytes to the tiers in typ.
	Store(ctx context.Context, img *coder.Image, data []byte, key string, typ Type, done DoneFunc)
	// Remove deletes key from the tiers in typ.
	Remove(ctx context.Context, key string, typ Type, done DoneFunc)
	// Contains reports which tier holds key.
	Contains(ctx context.Context, key string, typ Type, done ContainsFunc)
	// Clear empties the tiers in typ.
	Clear(ctx context.Context, typ Type, done DoneFunc)
}

// Event is a process lifecycle event the cache reacts to.
type Event int

const (
	// EventLowMemory clears the memory tier.
	EventLowMemory Event = iota
	// EventBackground clears the memory tier and purges expired disk
	// entries.
	EventBackground
)

func (e Event) String() string {
	switch e {
	case EventLowMemory:
		return "low_memory"
	case EventBackground:
		return "background"
	default:
		return "unknown"
	}
}

func finish(done DoneFunc, err error) {
	if done != nil {
		done(err)
	}
}
