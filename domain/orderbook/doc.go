// Package orderbook holds the resting liquidity of one symbol: two
// red-black trees of price levels (bids descending, asks ascending) and an
// intrusive FIFO queue of orders per level.
//
// The book is a single-writer structure. Matching lives in package
// matching; readers on other goroutines see published snapshots only.
package orderbook
