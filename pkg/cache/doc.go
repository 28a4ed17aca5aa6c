// Package cache provides the TTL-bounded read cache that backs the remote
// proxy. Entries are keyed by (resource type, normalized sub-key) where the
// sub-key is either a sorted filter string for listings or a reserved get
// key for single objects. Invalidation is pattern based and deliberately
// conservative: after a write it is always safe to remove more than strictly
// necessary, never less.
package cache
