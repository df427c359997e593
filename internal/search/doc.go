// Package search implements the sharded full-text index.
//
// Documents are placed on shard fnv32a(id) mod N. A search fans out to every
// shard concurrently, each under its own timeout, and merges the per-shard
// ranked lists by score descending then id ascending. Shards that fail or
// time out are left out of the merge and reported on the Response; the call
// only errors when no shard answered.
package search
