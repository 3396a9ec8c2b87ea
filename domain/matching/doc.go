// Package matching implements price-time priority matching over an
// orderbook.OrderBook. A pass consumes the opposite side level by level,
// FIFO within a level, and emits fills, level deltas and state updates of
// the resting orders it touched.
package matching
