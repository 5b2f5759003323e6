// Package cache provides a small generic LRU cache with a soft size limit.
//
// It memoizes values that are expensive to produce and cheap to keep, such
// as compiled shader binaries:
//
//	c := cache.New[uint64, []uint32](32)
//	words, err := c.GetOrCreate(key, func() ([]uint32, error) {
//	    return compile(src)
//	})
//
// Failed creations are not cached, so a later call retries.
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
