package orderbook

// Child slots. Mirrored cases of the balancing code are written once with
// dir and 1-dir.
const (
	lo = 0
	hi = 1
)

type rbNode struct {
	key    int64
	level  *PriceLevel
	red    bool
	child  [2]*rbNode
	parent *rbNode
}

// RBTree indexes the price levels of one book side by price.
type RBTree struct {
	root *rbNode
	// leaf is the shared black sentinel; its parent is scratch space
	// during delete.
	leaf *rbNode
	size int
}

func NewRBTree() *RBTree {
	leaf := &rbNode{}
	leaf.parent = leaf
	return &RBTree{root: leaf, leaf: leaf}
}

func (t *RBTree) Len() int { return t.size }

func (t *RBTree) Find(price int64) *PriceLevel {
	return t.find(price).level
}

// Upsert returns the level at price, creating it when missing.
func (t *RBTree) Upsert(price int64) *PriceLevel {
	parent, dir := t.leaf, lo
	for n := t.root; n != t.leaf; n = n.child[dir] {
		if price == n.key {
			return n.level
		}
		parent, dir = n, lo
		if price > n.key {
			dir = hi
		}
	}

	n := &rbNode{
		key:    price,
		level:  &PriceLevel{Price: price},
		red:    true,
		child:  [2]*rbNode{t.leaf, t.leaf},
		parent: parent,
	}
	if parent == t.leaf {
		t.root = n
	} else {
		parent.child[dir] = n
	}
	t.fixInsert(n)
	t.size++
	return n.level
}

func (t *RBTree) Delete(price int64) bool {
	n := t.find(price)
	if n == t.leaf {
		return false
	}
	t.unlink(n)
	t.size--
	return true
}

func (t *RBTree) Min() *PriceLevel { return t.edge(t.root, lo).level }

func (t *RBTree) Max() *PriceLevel { return t.edge(t.root, hi).level }

// Ascend visits levels from the lowest price until fn returns false.
func (t *RBTree) Ascend(fn func(*PriceLevel) bool) { t.walk(hi, fn) }

// Descend visits levels from the highest price until fn returns false.
func (t *RBTree) Descend(fn func(*PriceLevel) bool) { t.walk(lo, fn) }

func (t *RBTree) walk(dir int, fn func(*PriceLevel) bool) {
	for n := t.edge(t.root, 1-dir); n != t.leaf; n = t.step(n, dir) {
		if !fn(n.level) {
			return
		}
	}
}

// find returns the sentinel (whose level is nil) on a miss.
func (t *RBTree) find(price int64) *rbNode {
	n := t.root
	for n != t.leaf && n.key != price {
		if price < n.key {
			n = n.child[lo]
		} else {
			n = n.child[hi]
		}
	}
	return n
}

// edge is the outermost node of the subtree at n in direction dir.
func (t *RBTree) edge(n *rbNode, dir int) *rbNode {
	if n == t.leaf {
		return n
	}
	for n.child[dir] != t.leaf {
		n = n.child[dir]
	}
	return n
}

// step moves to the in-order neighbour: successor for hi, predecessor
// for lo.
func (t *RBTree) step(n *rbNode, dir int) *rbNode {
	if n.child[dir] != t.leaf {
		return t.edge(n.child[dir], 1-dir)
	}
	p := n.parent
	for p != t.leaf && n == p.child[dir] {
		n, p = p, p.parent
	}
	return p
}

func (t *RBTree) slot(n *rbNode) int {
	if n == n.parent.child[lo] {
		return lo
	}
	return hi
}

// replace hangs v where u was. u's own links are left alone.
func (t *RBTree) replace(u, v *rbNode) {
	if u.parent == t.leaf {
		t.root = v
	} else {
		u.parent.child[t.slot(u)] = v
	}
	v.parent = u.parent
}

// rotate turns x down in direction dir; its child on the other side
// takes its place.
func (t *RBTree) rotate(x *rbNode, dir int) {
	y := x.child[1-dir]
	x.child[1-dir] = y.child[dir]
	if y.child[dir] != t.leaf {
		y.child[dir].parent = x
	}
	t.replace(x, y)
	y.child[dir] = x
	x.parent = y
}

func (t *RBTree) fixInsert(z *rbNode) {
	for z.parent.red {
		p := z.parent
		gp := p.parent
		d := t.slot(p)
		if uncle := gp.child[1-d]; uncle.red {
			p.red, uncle.red, gp.red = false, false, true
			z = gp
			continue
		}
		if z == p.child[1-d] {
			z = p
			t.rotate(z, d)
		}
		z.parent.red = false
		z.parent.parent.red = true
		t.rotate(z.parent.parent, 1-d)
	}
	t.root.red = false
}

func (t *RBTree) unlink(z *rbNode) {
	removedRed := z.red
	var x *rbNode

	switch {
	case z.child[lo] == t.leaf:
		x = z.child[hi]
		t.replace(z, x)
	case z.child[hi] == t.leaf:
		x = z.child[lo]
		t.replace(z, x)
	default:
		y := t.edge(z.child[hi], lo)
		removedRed = y.red
		x = y.child[hi]
		if y.parent == z {
			x.parent = y
		} else {
			t.replace(y, x)
			y.child[hi] = z.child[hi]
			y.child[hi].parent = y
		}
		t.replace(z, y)
		y.child[lo] = z.child[lo]
		y.child[lo].parent = y
		y.red = z.red
	}

	if !removedRed {
		t.fixDelete(x)
	}
	t.leaf.parent = t.leaf
}

func (t *RBTree) fixDelete(x *rbNode) {
	for x != t.root && !x.red {
		d := t.slot(x)
		w := x.parent.child[1-d]
		if w.red {
			w.red = false
			x.parent.red = true
			t.rotate(x.parent, d)
			w = x.parent.child[1-d]
		}
		if !w.child[lo].red && !w.child[hi].red {
			w.red = true
			x = x.parent
			continue
		}
		if !w.child[1-d].red {
			w.child[d].red = false
			w.red = true
			t.rotate(w, 1-d)
			w = x.parent.child[1-d]
		}
		w.red = x.parent.red
		x.parent.red = false
		w.child[1-d].red = false
		t.rotate(x.parent, d)
		x = t.root
	}
	x.red = false
}
