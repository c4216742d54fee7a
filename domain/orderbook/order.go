package orderbook

// Order is the payload carried by a leaf node: one resting order.
// Quantity is the remaining base quantity; it is decremented on partial
// fills and the order leaves the tree when it reaches zero.
type Order struct {
	Key       Key
	OwnerSlot uint32
	FeeTier   uint8
	Quantity  uint64
	ClientID  uint64
}

// Price of the resting order, recovered from the sort key.
func (o Order) Price() uint64 { return o.Key.Price() }
