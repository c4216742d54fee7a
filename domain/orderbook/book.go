package orderbook

import "fmt"

// Book pairs the two sorted indexes of a market. Bids iterate highest
// price first (Max), asks lowest first (Min). After any completed
// matching pass no resting bid price may be >= any resting ask price.
type Book struct {
	bids *Tree
	asks *Tree
}

// NewBook creates an empty book; each side gets its own arena of
// nodesPerSide slab nodes.
func NewBook(nodesPerSide uint32) *Book {
	return &Book{
		bids: NewTree(nodesPerSide),
		asks: NewTree(nodesPerSide),
	}
}

// Tree returns the index for one side.
func (b *Book) Tree(side Side) *Tree {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

// BestBid is the resting bid with the highest price, oldest first
// within the price.
func (b *Book) BestBid() (Order, bool) { return b.bids.Max() }

// BestAsk is the resting ask with the lowest price, oldest first
// within the price.
func (b *Book) BestAsk() (Order, bool) { return b.asks.Min() }

// Best returns the top of the given side.
func (b *Book) Best(side Side) (Order, bool) {
	if side == Bid {
		return b.BestBid()
	}
	return b.BestAsk()
}

// Insert posts a resting order on the given side.
func (b *Book) Insert(side Side, o Order) error {
	return b.Tree(side).Insert(o)
}

// Remove deletes a resting order by its sort key.
func (b *Book) Remove(side Side, k Key) (Order, bool) {
	return b.Tree(side).Remove(k)
}

// Crossed reports whether the book is in a crossed state (best bid
// price >= best ask price). A correct matching pass never leaves the
// book crossed; this is the invariant check, not a normal condition.
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid.Price() >= ask.Price()
}

// Level is one aggregated price level of a depth view.
type Level struct {
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
	Orders   uint32 `json:"orders"`
}

// Depth aggregates up to maxLevels price levels from the top of the
// given side, best price first.
func (b *Book) Depth(side Side, maxLevels int) []Level {
	out := make([]Level, 0, maxLevels)
	visit := func(o Order) bool {
		if n := len(out); n > 0 && out[n-1].Price == o.Price() {
			out[n-1].Quantity += o.Quantity
			out[n-1].Orders++
			return true
		}
		if len(out) == maxLevels {
			return false
		}
		out = append(out, Level{Price: o.Price(), Quantity: o.Quantity, Orders: 1})
		return true
	}
	if side == Bid {
		b.bids.Descend(visit)
	} else {
		b.asks.Ascend(visit)
	}
	return out
}

// BookBinarySize is the marshaled size of a book whose sides each have
// the given arena capacity.
func BookBinarySize(nodesPerSide uint32) int {
	return 2 * TreeBinarySize(nodesPerSide)
}

// AppendBinary marshals bids then asks at fixed offsets.
func (b *Book) AppendBinary(buf []byte) []byte {
	buf = b.bids.AppendBinary(buf)
	return b.asks.AppendBinary(buf)
}

// UnmarshalBook reads a book image written by AppendBinary.
func UnmarshalBook(buf []byte, nodesPerSide uint32) (*Book, error) {
	if len(buf) < BookBinarySize(nodesPerSide) {
		return nil, fmt.Errorf("%w: short buffer", ErrCorruptSlab)
	}
	treeSize := TreeBinarySize(nodesPerSide)
	bids, err := UnmarshalTree(buf[:treeSize], nodesPerSide)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := UnmarshalTree(buf[treeSize:2*treeSize], nodesPerSide)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return &Book{bids: bids, asks: asks}, nil
}
