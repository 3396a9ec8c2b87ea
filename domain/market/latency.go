package market

import "github.com/Rizwan-Beg/fxharry/domain/orderbook"

// LatencyModel returns how long after now an order becomes visible to the
// matching engine. Implementations must be pure functions of their inputs
// and seed so that replays stay deterministic.
type LatencyModel interface {
	Delay(o *orderbook.Order, now int64) int64
}

// FixedLatency delays every order by the same amount.
type FixedLatency int64

func (f FixedLatency) Delay(*orderbook.Order, int64) int64 {
	if f < 0 {
		return 0
	}
	return int64(f)
}

// JitterLatency adds a seeded, per-order jitter in [0, Jitter] on top of
// Base. The jitter is a hash of the seed, order id and time, not a shared
// RNG stream, so it does not depend on call order.
type JitterLatency struct {
	Base   int64
	Jitter int64
	Seed   uint64
}

func (j JitterLatency) Delay(o *orderbook.Order, now int64) int64 {
	d := j.Base
	if j.Jitter > 0 {
		h := mix(j.Seed ^ o.ID ^ uint64(now)*0x9e3779b97f4a7c15)
		d += int64(h % uint64(j.Jitter+1))
	}
	if d < 0 {
		return 0
	}
	return d
}

// splitmix64 finalizer
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
