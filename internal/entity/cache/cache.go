// Package cache holds merged entities for the read path. Entries are
// expendable projections; the backing stores are the source of truth.
package cache

import "time"

// DefaultTTL is how long a merged entity is served before re-merging.
const DefaultTTL = 300 * time.Second

// Key is the cache key of an entity: "<entityType>:<id>".
func Key(entityType, id string) string {
	return entityType + ":" + id
}
