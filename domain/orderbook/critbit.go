package orderbook

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDuplicateKey is returned by Insert for a key already in the tree.
// Sort keys embed the mint sequence number, so this only happens when a
// caller reuses a key, never for two distinct orders.
var ErrDuplicateKey = errors.New("orderbook: duplicate key")

// Tree is a critbit (PATRICIA) trie over 128-bit sort keys, built from
// slab nodes. Every inner node records the position of the highest bit
// at which its two subtrees differ; child 0 holds the keys with that bit
// clear, child 1 the keys with it set. In-order traversal therefore
// yields keys in strictly ascending order.
type Tree struct {
	slab      *Slab
	root      uint32
	leafCount uint32
}

// NewTree creates an empty tree with its own arena of capacity nodes.
// A tree of n leaves uses 2n-1 nodes, so capacity bounds the resting
// order count at (capacity+1)/2.
func NewTree(capacity uint32) *Tree {
	return &Tree{
		slab: NewSlab(capacity),
		root: nilIdx,
	}
}

// Len is the number of resting orders (leaves) in the tree.
func (t *Tree) Len() int { return int(t.leafCount) }

// Capacity is the node capacity of the backing arena.
func (t *Tree) Capacity() uint32 { return t.slab.Capacity() }

// Insert adds a leaf for o.Key. It walks from the root comparing bits
// most-significant first and splits at the first bit where the new key
// diverges from the existing trie path.
func (t *Tree) Insert(o Order) error {
	if t.root == nilIdx {
		idx, err := t.slab.Allocate()
		if err != nil {
			return err
		}
		t.slab.node(idx).setOrder(o)
		t.root = idx
		t.leafCount++
		return nil
	}
	link := &t.root
	for {
		idx := *link
		n := t.slab.node(idx)
		shared := sharedPrefixLen(n.key, o.Key)
		if n.tag == tagLeaf && shared == 128 {
			return ErrDuplicateKey
		}
		if n.tag == tagInner && shared >= n.prefixLen {
			link = &n.children[o.Key.Bit(n.prefixLen)]
			continue
		}

		// The new key diverges from this subtree at bit `shared`:
		// splice a new inner node into the parent link.
		leafIdx, err := t.slab.Allocate()
		if err != nil {
			return err
		}
		innerIdx, err := t.slab.Allocate()
		if err != nil {
			t.slab.Free(leafIdx)
			return err
		}
		t.slab.node(leafIdx).setOrder(o)
		inner := t.slab.node(innerIdx)
		inner.tag = tagInner
		inner.prefixLen = shared
		inner.key = o.Key
		dir := o.Key.Bit(shared)
		inner.children[dir] = leafIdx
		inner.children[1-dir] = idx
		*link = innerIdx
		t.leafCount++
		return nil
	}
}

// Remove deletes the leaf for k and returns its order. Removing a leaf
// collapses its parent: the sibling is promoted into the parent's slot
// and both nodes are freed, so the tree never accumulates single-child
// inner nodes.
func (t *Tree) Remove(k Key) (Order, bool) {
	if t.root == nilIdx {
		return Order{}, false
	}
	n := t.slab.node(t.root)
	if n.tag == tagLeaf {
		if n.key != k {
			return Order{}, false
		}
		o := n.order()
		t.slab.Free(t.root)
		t.root = nilIdx
		t.leafCount--
		return o, true
	}
	parentLink := &t.root
	parentIdx := t.root
	for {
		if sharedPrefixLen(n.key, k) < n.prefixLen {
			return Order{}, false
		}
		dir := k.Bit(n.prefixLen)
		childIdx := n.children[dir]
		c := t.slab.node(childIdx)
		if c.tag == tagLeaf {
			if c.key != k {
				return Order{}, false
			}
			o := c.order()
			*parentLink = n.children[1-dir]
			t.slab.Free(childIdx)
			t.slab.Free(parentIdx)
			t.leafCount--
			return o, true
		}
		parentLink = &n.children[dir]
		parentIdx = childIdx
		n = c
	}
}

// Find returns the order stored under k, if any.
func (t *Tree) Find(k Key) (Order, bool) {
	n := t.findLeaf(k)
	if n == nil {
		return Order{}, false
	}
	return n.order(), true
}

// UpdateQuantity rewrites the remaining quantity of the leaf for k in
// place (partial fills mutate, they do not reinsert).
func (t *Tree) UpdateQuantity(k Key, quantity uint64) bool {
	n := t.findLeaf(k)
	if n == nil {
		return false
	}
	n.quantity = quantity
	return true
}

func (t *Tree) findLeaf(k Key) *node {
	if t.root == nilIdx {
		return nil
	}
	idx := t.root
	for {
		n := t.slab.node(idx)
		if n.tag == tagLeaf {
			if n.key == k {
				return n
			}
			return nil
		}
		if sharedPrefixLen(n.key, k) < n.prefixLen {
			return nil
		}
		idx = n.children[k.Bit(n.prefixLen)]
	}
}

// Min returns the order with the smallest key: descend always-left.
func (t *Tree) Min() (Order, bool) { return t.extreme(0) }

// Max returns the order with the largest key: descend always-right.
func (t *Tree) Max() (Order, bool) { return t.extreme(1) }

func (t *Tree) extreme(dir uint32) (Order, bool) {
	if t.root == nilIdx {
		return Order{}, false
	}
	idx := t.root
	for {
		n := t.slab.node(idx)
		if n.tag == tagLeaf {
			return n.order(), true
		}
		idx = n.children[dir]
	}
}

// Ascend visits every order in strictly ascending key order until fn
// returns false.
func (t *Tree) Ascend(fn func(Order) bool) { t.walk(0, fn) }

// Descend visits every order in strictly descending key order until fn
// returns false.
func (t *Tree) Descend(fn func(Order) bool) { t.walk(1, fn) }

func (t *Tree) walk(first uint32, fn func(Order) bool) {
	if t.root == nilIdx {
		return
	}
	// Keys are 128 bits, so the trie is at most 128 levels deep.
	stack := make([]uint32, 0, 128)
	stack = append(stack, t.root)
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.slab.node(idx)
		if n.tag == tagLeaf {
			if !fn(n.order()) {
				return
			}
			continue
		}
		stack = append(stack, n.children[1-first], n.children[first])
	}
}

// TreeBinarySize is the marshaled size of a tree with the given arena
// capacity.
func TreeBinarySize(capacity uint32) int {
	return 8 + SlabBinarySize(capacity)
}

// AppendBinary marshals the tree header followed by its arena.
func (t *Tree) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, t.root)
	b = binary.LittleEndian.AppendUint32(b, t.leafCount)
	return t.slab.AppendBinary(b)
}

// UnmarshalTree reads a tree image written by AppendBinary.
func UnmarshalTree(b []byte, capacity uint32) (*Tree, error) {
	if len(b) < TreeBinarySize(capacity) {
		return nil, fmt.Errorf("%w: short buffer", ErrCorruptSlab)
	}
	root := binary.LittleEndian.Uint32(b[0:])
	leafCount := binary.LittleEndian.Uint32(b[4:])
	slab, err := UnmarshalSlab(b[8:], capacity)
	if err != nil {
		return nil, err
	}
	if root != nilIdx && root >= slab.bumpIndex {
		return nil, fmt.Errorf("%w: root %d out of range", ErrCorruptSlab, root)
	}
	if (root == nilIdx) != (leafCount == 0) {
		return nil, fmt.Errorf("%w: root/leafCount mismatch", ErrCorruptSlab)
	}
	return &Tree{slab: slab, root: root, leafCount: leafCount}, nil
}
