package market

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
)

// Address identifies an external account (market, vault, owner).
type Address [32]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// ParseAddress reads a 64-character hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(a) {
		return Address{}, Validationf("bad address %q", s)
	}
	copy(a[:], b)
	return a, nil
}

// MaxOpenOrdersPerSlot bounds how many orders one owner can have
// resting at once. The bound is part of the persisted layout.
const MaxOpenOrdersPerSlot = 64

// OpenOrders is one per-owner slot: the owner's resting order IDs plus
// free and locked balances in native units. Order records reference the
// slot by index; the slot, not the order, owns the balances.
//
// freeBits has one bit per entry, set while the entry is unused.
type OpenOrders struct {
	Owner       Address
	Initialized bool
	FeeTier     uint8

	BaseFree    uint64
	BaseLocked  uint64
	QuoteFree   uint64
	QuoteLocked uint64

	freeBits  uint64
	orders    [MaxOpenOrdersPerSlot]orderbook.Key
	clientIDs [MaxOpenOrdersPerSlot]uint64
}

// Claim initializes an unused slot for an owner.
func (oo *OpenOrders) Claim(owner Address, feeTier uint8) {
	*oo = OpenOrders{
		Owner:       owner,
		Initialized: true,
		FeeTier:     feeTier,
		freeBits:    ^uint64(0),
	}
}

// OpenCount is the number of resting orders tracked by the slot.
func (oo *OpenOrders) OpenCount() int {
	return MaxOpenOrdersPerSlot - bits.OnesCount64(oo.freeBits)
}

// AddOrder records a newly posted order. Fails when the slot already
// tracks MaxOpenOrdersPerSlot orders.
func (oo *OpenOrders) AddOrder(id orderbook.Key, clientID uint64) error {
	if oo.freeBits == 0 {
		return Capacityf("owner slot full: %d open orders", MaxOpenOrdersPerSlot)
	}
	i := bits.TrailingZeros64(oo.freeBits)
	oo.freeBits &^= 1 << i
	oo.orders[i] = id
	oo.clientIDs[i] = clientID
	return nil
}

// RemoveOrder forgets a resting order by ID.
func (oo *OpenOrders) RemoveOrder(id orderbook.Key) bool {
	for i := 0; i < MaxOpenOrdersPerSlot; i++ {
		if oo.freeBits&(1<<i) == 0 && oo.orders[i] == id {
			oo.freeBits |= 1 << i
			oo.orders[i] = orderbook.Key{}
			oo.clientIDs[i] = 0
			return true
		}
	}
	return false
}

// HasOrder reports whether the slot tracks the given order ID.
func (oo *OpenOrders) HasOrder(id orderbook.Key) bool {
	for i := 0; i < MaxOpenOrdersPerSlot; i++ {
		if oo.freeBits&(1<<i) == 0 && oo.orders[i] == id {
			return true
		}
	}
	return false
}

// FindByClientID returns the order ID recorded under a client order ID.
func (oo *OpenOrders) FindByClientID(clientID uint64) (orderbook.Key, bool) {
	for i := 0; i < MaxOpenOrdersPerSlot; i++ {
		if oo.freeBits&(1<<i) == 0 && oo.clientIDs[i] == clientID {
			return oo.orders[i], true
		}
	}
	return orderbook.Key{}, false
}

// Orders returns the live order IDs, slot order.
func (oo *OpenOrders) Orders() []orderbook.Key {
	out := make([]orderbook.Key, 0, oo.OpenCount())
	for i := 0; i < MaxOpenOrdersPerSlot; i++ {
		if oo.freeBits&(1<<i) == 0 {
			out = append(out, oo.orders[i])
		}
	}
	return out
}

// OpenOrdersBinarySize is the on-region footprint of one slot.
const OpenOrdersBinarySize = 32 + 1 + 1 + 2 + 4*8 + 8 + MaxOpenOrdersPerSlot*(16+8)

// AppendBinary marshals the slot, little-endian, fixed width.
func (oo *OpenOrders) AppendBinary(b []byte) []byte {
	b = append(b, oo.Owner[:]...)
	if oo.Initialized {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = append(b, oo.FeeTier, 0, 0)
	b = binary.LittleEndian.AppendUint64(b, oo.BaseFree)
	b = binary.LittleEndian.AppendUint64(b, oo.BaseLocked)
	b = binary.LittleEndian.AppendUint64(b, oo.QuoteFree)
	b = binary.LittleEndian.AppendUint64(b, oo.QuoteLocked)
	b = binary.LittleEndian.AppendUint64(b, oo.freeBits)
	for i := 0; i < MaxOpenOrdersPerSlot; i++ {
		b = binary.LittleEndian.AppendUint64(b, oo.orders[i].Hi)
		b = binary.LittleEndian.AppendUint64(b, oo.orders[i].Lo)
		b = binary.LittleEndian.AppendUint64(b, oo.clientIDs[i])
	}
	return b
}

// UnmarshalOpenOrders reads a slot image written by AppendBinary.
func UnmarshalOpenOrders(b []byte) (OpenOrders, error) {
	var oo OpenOrders
	if len(b) < OpenOrdersBinarySize {
		return oo, fmt.Errorf("short open-orders image: %d bytes", len(b))
	}
	copy(oo.Owner[:], b[:32])
	oo.Initialized = b[32] == 1
	oo.FeeTier = b[33]
	oo.BaseFree = binary.LittleEndian.Uint64(b[36:])
	oo.BaseLocked = binary.LittleEndian.Uint64(b[44:])
	oo.QuoteFree = binary.LittleEndian.Uint64(b[52:])
	oo.QuoteLocked = binary.LittleEndian.Uint64(b[60:])
	oo.freeBits = binary.LittleEndian.Uint64(b[68:])
	off := 76
	for i := 0; i < MaxOpenOrdersPerSlot; i++ {
		oo.orders[i].Hi = binary.LittleEndian.Uint64(b[off:])
		oo.orders[i].Lo = binary.LittleEndian.Uint64(b[off+8:])
		oo.clientIDs[i] = binary.LittleEndian.Uint64(b[off+16:])
		off += 24
	}
	return oo, nil
}
