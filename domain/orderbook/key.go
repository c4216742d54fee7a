package orderbook

import (
	"fmt"
	"math/bits"
	"strconv"
)

// Side of the book an order rests on.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Key is the 128-bit sort key of a resting order, and doubles as its
// order ID. Hi holds the price. Lo holds the mint sequence number for
// asks and its bitwise complement for bids, so that min-first iteration
// over asks and max-first iteration over bids both yield price-then-time
// order. Sequence numbers make keys globally unique: two orders at the
// same price never collide.
type Key struct {
	Hi uint64
	Lo uint64
}

// NewKey mints the sort key for an order.
func NewKey(side Side, price, seq uint64) Key {
	if side == Bid {
		return Key{Hi: price, Lo: ^seq}
	}
	return Key{Hi: price, Lo: seq}
}

// Price recovers the price half of the key.
func (k Key) Price() uint64 { return k.Hi }

// Seq recovers the mint sequence number for the given side.
func (k Key) Seq(side Side) uint64 {
	if side == Bid {
		return ^k.Lo
	}
	return k.Lo
}

// IsZero reports whether k is the zero key. Prices are validated to be
// nonzero, so the zero key never names a live order.
func (k Key) IsZero() bool { return k.Hi == 0 && k.Lo == 0 }

func (k Key) Less(o Key) bool {
	if k.Hi != o.Hi {
		return k.Hi < o.Hi
	}
	return k.Lo < o.Lo
}

// Bit returns bit i of the key, counting from the most significant
// (i = 0 is the top bit of Hi, i = 127 the bottom bit of Lo).
func (k Key) Bit(i uint32) uint32 {
	if i < 64 {
		return uint32(k.Hi>>(63-i)) & 1
	}
	return uint32(k.Lo>>(127-i)) & 1
}

func (k Key) String() string {
	return fmt.Sprintf("%016x%016x", k.Hi, k.Lo)
}

// ParseKey reads the 32-hex-character form produced by String.
func ParseKey(s string) (Key, error) {
	if len(s) != 32 {
		return Key{}, fmt.Errorf("order id must be 32 hex characters, got %d", len(s))
	}
	hi, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return Key{}, fmt.Errorf("bad order id %q", s)
	}
	lo, err := strconv.ParseUint(s[16:], 16, 64)
	if err != nil {
		return Key{}, fmt.Errorf("bad order id %q", s)
	}
	return Key{Hi: hi, Lo: lo}, nil
}

// sharedPrefixLen is the number of identical leading bits of a and b,
// in [0, 128]. When the keys differ it is the critical bit position.
func sharedPrefixLen(a, b Key) uint32 {
	if x := a.Hi ^ b.Hi; x != 0 {
		return uint32(bits.LeadingZeros64(x))
	}
	return 64 + uint32(bits.LeadingZeros64(a.Lo^b.Lo))
}
