// Package journal is an append-only binary log of CRC-framed records,
// split into segment files. The simulator writes its fill log here; a run
// replayed from the same input produces byte-identical segments.
package journal
