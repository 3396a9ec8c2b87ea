package simulator

import (
	"container/heap"

	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
)

// pendingOrder is an order submitted to the simulator but not yet visible
// to matching.
type pendingOrder struct {
	order     *orderbook.Order
	visibleAt int64
	seq       uint64
	index     int
}

// pendingQueue orders by visibility time, then submission order.
type pendingQueue []*pendingOrder

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	if q[i].visibleAt != q[j].visibleAt {
		return q[i].visibleAt < q[j].visibleAt
	}
	return q[i].seq < q[j].seq
}

func (q pendingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *pendingQueue) Push(x any) {
	p := x.(*pendingOrder)
	p.index = len(*q)
	*q = append(*q, p)
}

func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*q = old[:n-1]
	return p
}

func (q *pendingQueue) peek() *pendingOrder {
	if len(*q) == 0 {
		return nil
	}
	return (*q)[0]
}

func (q *pendingQueue) remove(p *pendingOrder) {
	heap.Remove(q, p.index)
}
