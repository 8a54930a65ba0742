// Package registry keeps the per-host compatibility verdict of every model id
// and removes on-disk weights of models that can never run here.
//
//   - record.go: Record and the status transition applied after an attempt.
//   - registry.go: Registry (Lookup, Record, Seed, Mark, Reset, List).
//   - store.go: Store interface; store_file.go (JSON file) and
//     store_redis.go (Redis hash) implementations.
//   - evict.go: Evictor for Hugging Face style cache directories.
//   - scan.go: Scanner listing cached models and their sizes.
package registry
