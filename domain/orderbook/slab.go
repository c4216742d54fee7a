package orderbook

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrSlabFull is returned when the arena has no free node and no
	// remaining capacity to bump-allocate from.
	ErrSlabFull = errors.New("orderbook: slab full")

	// ErrCorruptSlab is returned when a persisted slab image fails
	// validation on load.
	ErrCorruptSlab = errors.New("orderbook: corrupt slab image")
)

// nilIdx is the sentinel arena index. It is stored in place of a child
// link that does not exist and as the root of an empty tree.
const nilIdx = ^uint32(0)

type nodeTag uint32

const (
	tagUninitialized nodeTag = iota
	tagInner
	tagLeaf
	tagFree
	tagLastFree
)

// node is one fixed-size slab record. Inner nodes use prefixLen and
// children; leaf nodes use the order payload fields. Free nodes reuse
// children[0] as the free-list link. All links are arena indices, never
// pointers, so a persisted image stays valid across reloads.
type node struct {
	tag       nodeTag
	prefixLen uint32 // inner: shared leading bits of the subtree; the critical bit position
	children  [2]uint32
	key       Key // leaf: the sort key; inner: any key from the subtree (prefix bits are what matter)
	ownerSlot uint32
	feeTier   uint32
	quantity  uint64
	clientID  uint64
}

// nodeBinarySize is the on-region footprint of one node.
const nodeBinarySize = 4 + 4 + 8 + 16 + 4 + 4 + 8 + 8

func (n *node) order() Order {
	return Order{
		Key:       n.key,
		OwnerSlot: n.ownerSlot,
		FeeTier:   uint8(n.feeTier),
		Quantity:  n.quantity,
		ClientID:  n.clientID,
	}
}

func (n *node) setOrder(o Order) {
	n.tag = tagLeaf
	n.key = o.Key
	n.ownerSlot = o.OwnerSlot
	n.feeTier = uint32(o.FeeTier)
	n.quantity = o.Quantity
	n.clientID = o.ClientID
}

// Slab is a fixed-capacity node arena with an intrusive free list.
// Allocate pops the free list or bumps the high-water mark; Free pushes
// the index back. Nodes are never moved or compacted, so an index handed
// out stays valid until freed.
type Slab struct {
	nodes        []node
	bumpIndex    uint32
	freeListLen  uint32
	freeListHead uint32
}

// NewSlab creates an empty arena with room for capacity nodes.
func NewSlab(capacity uint32) *Slab {
	return &Slab{
		nodes:        make([]node, capacity),
		freeListHead: nilIdx,
	}
}

// Capacity is the fixed node count declared at creation.
func (s *Slab) Capacity() uint32 { return uint32(len(s.nodes)) }

// InUse is the number of live (allocated, not freed) nodes.
func (s *Slab) InUse() uint32 { return s.bumpIndex - s.freeListLen }

// Allocate reserves a node and returns its index. The node contents are
// whatever the caller writes; the tag is left tagUninitialized.
func (s *Slab) Allocate() (uint32, error) {
	if s.freeListLen > 0 {
		idx := s.freeListHead
		n := &s.nodes[idx]
		switch n.tag {
		case tagFree:
			s.freeListHead = n.children[0]
		case tagLastFree:
			s.freeListHead = nilIdx
		default:
			return 0, fmt.Errorf("%w: free list head %d has tag %d", ErrCorruptSlab, idx, n.tag)
		}
		s.freeListLen--
		n.tag = tagUninitialized
		return idx, nil
	}
	if s.bumpIndex >= uint32(len(s.nodes)) {
		return 0, ErrSlabFull
	}
	idx := s.bumpIndex
	s.bumpIndex++
	s.nodes[idx].tag = tagUninitialized
	return idx, nil
}

// Free returns a node to the free list. The index must have been handed
// out by Allocate and not freed since; freeing never moves other nodes.
func (s *Slab) Free(idx uint32) {
	n := &s.nodes[idx]
	if s.freeListHead == nilIdx {
		n.tag = tagLastFree
	} else {
		n.tag = tagFree
		n.children[0] = s.freeListHead
	}
	s.freeListHead = idx
	s.freeListLen++
}

func (s *Slab) node(idx uint32) *node {
	return &s.nodes[idx]
}

// SlabBinarySize is the marshaled size of a slab with the given capacity.
func SlabBinarySize(capacity uint32) int {
	return 16 + int(capacity)*nodeBinarySize
}

// AppendBinary marshals the slab header and the full node arena at fixed
// offsets, little-endian.
func (s *Slab) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, s.bumpIndex)
	b = binary.LittleEndian.AppendUint32(b, s.freeListLen)
	b = binary.LittleEndian.AppendUint32(b, s.freeListHead)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s.nodes)))
	for i := range s.nodes {
		n := &s.nodes[i]
		b = binary.LittleEndian.AppendUint32(b, uint32(n.tag))
		b = binary.LittleEndian.AppendUint32(b, n.prefixLen)
		b = binary.LittleEndian.AppendUint32(b, n.children[0])
		b = binary.LittleEndian.AppendUint32(b, n.children[1])
		b = binary.LittleEndian.AppendUint64(b, n.key.Hi)
		b = binary.LittleEndian.AppendUint64(b, n.key.Lo)
		b = binary.LittleEndian.AppendUint32(b, n.ownerSlot)
		b = binary.LittleEndian.AppendUint32(b, n.feeTier)
		b = binary.LittleEndian.AppendUint64(b, n.quantity)
		b = binary.LittleEndian.AppendUint64(b, n.clientID)
	}
	return b
}

// UnmarshalSlab reads a slab image written by AppendBinary. The declared
// capacity must match the image; stored indices are validated against it.
func UnmarshalSlab(b []byte, capacity uint32) (*Slab, error) {
	if len(b) < SlabBinarySize(capacity) {
		return nil, fmt.Errorf("%w: short buffer", ErrCorruptSlab)
	}
	s := NewSlab(capacity)
	s.bumpIndex = binary.LittleEndian.Uint32(b[0:])
	s.freeListLen = binary.LittleEndian.Uint32(b[4:])
	s.freeListHead = binary.LittleEndian.Uint32(b[8:])
	if stored := binary.LittleEndian.Uint32(b[12:]); stored != capacity {
		return nil, fmt.Errorf("%w: capacity %d, image says %d", ErrCorruptSlab, capacity, stored)
	}
	if s.bumpIndex > capacity || s.freeListLen > s.bumpIndex {
		return nil, fmt.Errorf("%w: bump %d free %d cap %d", ErrCorruptSlab, s.bumpIndex, s.freeListLen, capacity)
	}
	if s.freeListHead != nilIdx && s.freeListHead >= s.bumpIndex {
		return nil, fmt.Errorf("%w: free list head %d out of range", ErrCorruptSlab, s.freeListHead)
	}
	off := 16
	for i := range s.nodes {
		n := &s.nodes[i]
		n.tag = nodeTag(binary.LittleEndian.Uint32(b[off:]))
		n.prefixLen = binary.LittleEndian.Uint32(b[off+4:])
		n.children[0] = binary.LittleEndian.Uint32(b[off+8:])
		n.children[1] = binary.LittleEndian.Uint32(b[off+12:])
		n.key.Hi = binary.LittleEndian.Uint64(b[off+16:])
		n.key.Lo = binary.LittleEndian.Uint64(b[off+24:])
		n.ownerSlot = binary.LittleEndian.Uint32(b[off+32:])
		n.feeTier = binary.LittleEndian.Uint32(b[off+36:])
		n.quantity = binary.LittleEndian.Uint64(b[off+40:])
		n.clientID = binary.LittleEndian.Uint64(b[off+48:])
		off += nodeBinarySize
	}
	// Every stored link must land below the high-water mark, or a later
	// tree walk would index past the live arena.
	for i := uint32(0); i < s.bumpIndex; i++ {
		n := &s.nodes[i]
		switch n.tag {
		case tagInner:
			if n.children[0] >= s.bumpIndex || n.children[1] >= s.bumpIndex {
				return nil, fmt.Errorf("%w: node %d child out of range", ErrCorruptSlab, i)
			}
			if n.prefixLen > 127 {
				return nil, fmt.Errorf("%w: node %d prefix length %d", ErrCorruptSlab, i, n.prefixLen)
			}
		case tagFree:
			if n.children[0] >= s.bumpIndex {
				return nil, fmt.Errorf("%w: node %d free link out of range", ErrCorruptSlab, i)
			}
		case tagLeaf, tagLastFree, tagUninitialized:
		default:
			return nil, fmt.Errorf("%w: node %d unknown tag %d", ErrCorruptSlab, i, n.tag)
		}
	}
	return s, nil
}
