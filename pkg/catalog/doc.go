// Package catalog defines the resource types RackSync can manage and the
// capability descriptor for each: the managed-field set, the natural key
// used for lookups, the cache TTL class, the creation pass, and the
// dependency edges that order bulk runs.
//
// The catalog is a compile-time registry. Types are registered at init from
// a static table and are immutable afterwards; resolving an unregistered
// type returns an error wrapping ErrUnsupportedType rather than failing at
// the call site with an opaque lookup error.
package catalog
