// Package memory holds the allocation and hand-off primitives of the
// executor's hot path: a typed object pool and a bounded multi-producer
// single-consumer ring used as each shard's submission queue.
package memory
