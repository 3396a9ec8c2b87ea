// Package market holds the simulation's virtual clock, tick type and the
// latency and slippage models. Models read virtual time only, never the
// wall clock.
package market
