package devicecache

import "errors"

// ErrCacheExhausted is returned when a fetch cannot find an evictable
// slot because every slot is pinned (spec §4.6, §7).
var ErrCacheExhausted = errors.New("devicecache: cache exhausted, all slots pinned")
