// Package cache holds resolved geocodes keyed by normalized query.
//
// Entries never expire. A write only lands when the key is empty or the new
// entry has strictly higher confidence, so an entry is never downgraded.
package cache

import "context"

// Entry is one cached resolution.
type Entry struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DisplayName string  `json:"display_name,omitempty"`
	Confidence  float64 `json:"confidence"`
	Provider    string  `json:"provider"`
}

// Cache is one storage tier.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put stores e unless an entry with equal or higher confidence exists.
	// It reports whether e was stored.
	Put(ctx context.Context, key string, e Entry) (bool, error)
}
