// Package instruction defines the host-facing wire encoding of engine
// instructions: a tag byte followed by a compact positional encoding of
// fixed-width little-endian fields. The encoding is a boundary contract
// with the execution host, not an internal choice.
package instruction

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
)

// ErrBadEncoding rejects a byte string that is not exactly one
// well-formed instruction.
var ErrBadEncoding = errors.New("instruction: bad encoding")

// Tag selects the instruction.
type Tag uint8

const (
	TagNewOrder Tag = iota
	TagCancelOrder
	TagConsumeEvents
	TagSettleFunds
	TagInitMarket
)

func (t Tag) String() string {
	switch t {
	case TagNewOrder:
		return "new_order"
	case TagCancelOrder:
		return "cancel_order"
	case TagConsumeEvents:
		return "consume_events"
	case TagSettleFunds:
		return "settle_funds"
	case TagInitMarket:
		return "init_market"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// OrderType controls what happens to an unfilled remainder.
type OrderType uint8

const (
	// Limit: the remainder is posted to the book.
	Limit OrderType = iota
	// ImmediateOrCancel: the remainder is discarded with an Out event.
	ImmediateOrCancel
	// PostOnly: the order is rejected outright if it would cross.
	PostOnly
)

// SelfTradePolicy decides what happens when an incoming order would
// cross a resting order of the same owner.
type SelfTradePolicy uint8

const (
	// CancelOldest removes the resting order; no fill happens.
	CancelOldest SelfTradePolicy = iota
	// CancelNewest aborts the incoming order's further matching; its
	// remainder is discarded, never posted.
	CancelNewest
	// DecrementAndCancel cancels the smaller-quantity side and reduces
	// the other by its amount; no fill happens.
	DecrementAndCancel
	// AbortTransaction fails the whole instruction.
	AbortTransaction
)

// DefaultMatchLimit bounds the match loop when an instruction carries
// Limit == 0.
const DefaultMatchLimit = 65535

// Instruction is one decoded host instruction.
type Instruction interface {
	Tag() Tag
}

// NewOrder submits an order for matching and, if a remainder survives
// and the type allows, posting.
type NewOrder struct {
	Side      orderbook.Side
	Type      OrderType
	SelfTrade SelfTradePolicy
	OwnerSlot uint32
	Owner     market.Address
	Price     uint64
	Quantity  uint64
	ClientID  uint64
	Limit     uint16 // max match-loop iterations; 0 means DefaultMatchLimit
}

func (NewOrder) Tag() Tag { return TagNewOrder }

// CancelOrder removes a resting order by its order ID.
type CancelOrder struct {
	Side      orderbook.Side
	OwnerSlot uint32
	OrderID   orderbook.Key
}

func (CancelOrder) Tag() Tag { return TagCancelOrder }

// ConsumeEvents drains up to Limit entries from the event queue.
type ConsumeEvents struct {
	Limit uint16
}

func (ConsumeEvents) Tag() Tag { return TagConsumeEvents }

// SettleFunds moves an owner's free balances out to external accounts.
type SettleFunds struct {
	OwnerSlot uint32
}

func (SettleFunds) Tag() Tag { return TagSettleFunds }

// InitMarket writes a fresh market header and zeroes every section.
type InitMarket struct {
	Params market.Params
}

func (InitMarket) Tag() Tag { return TagInitMarket }

// Encode serializes an instruction to its wire form.
func Encode(ins Instruction) []byte {
	switch ix := ins.(type) {
	case NewOrder:
		b := make([]byte, 0, 66)
		b = append(b, byte(TagNewOrder), byte(ix.Side), byte(ix.Type), byte(ix.SelfTrade))
		b = binary.LittleEndian.AppendUint32(b, ix.OwnerSlot)
		b = append(b, ix.Owner[:]...)
		b = binary.LittleEndian.AppendUint64(b, ix.Price)
		b = binary.LittleEndian.AppendUint64(b, ix.Quantity)
		b = binary.LittleEndian.AppendUint64(b, ix.ClientID)
		b = binary.LittleEndian.AppendUint16(b, ix.Limit)
		return b
	case CancelOrder:
		b := make([]byte, 0, 22)
		b = append(b, byte(TagCancelOrder), byte(ix.Side))
		b = binary.LittleEndian.AppendUint32(b, ix.OwnerSlot)
		b = binary.LittleEndian.AppendUint64(b, ix.OrderID.Hi)
		b = binary.LittleEndian.AppendUint64(b, ix.OrderID.Lo)
		return b
	case ConsumeEvents:
		b := make([]byte, 0, 3)
		b = append(b, byte(TagConsumeEvents))
		return binary.LittleEndian.AppendUint16(b, ix.Limit)
	case SettleFunds:
		b := make([]byte, 0, 5)
		b = append(b, byte(TagSettleFunds))
		return binary.LittleEndian.AppendUint32(b, ix.OwnerSlot)
	case InitMarket:
		p := ix.Params
		b := make([]byte, 0, 131)
		b = append(b, byte(TagInitMarket))
		b = append(b, p.Market[:]...)
		b = append(b, p.BaseVault[:]...)
		b = append(b, p.QuoteVault[:]...)
		b = append(b, p.BaseDecimals, p.QuoteDecimals)
		for _, bps := range p.Fees {
			b = binary.LittleEndian.AppendUint16(b, bps)
		}
		b = binary.LittleEndian.AppendUint32(b, p.Caps.BookNodes)
		b = binary.LittleEndian.AppendUint32(b, p.Caps.Requests)
		b = binary.LittleEndian.AppendUint32(b, p.Caps.Events)
		b = binary.LittleEndian.AppendUint32(b, p.Caps.Slots)
		return b
	default:
		panic(fmt.Sprintf("instruction: unknown type %T", ins))
	}
}

// Decode parses exactly one instruction; trailing bytes are an error.
func Decode(b []byte) (Instruction, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadEncoding)
	}
	tag, body := Tag(b[0]), b[1:]
	switch tag {
	case TagNewOrder:
		if len(body) != 65 {
			return nil, fmt.Errorf("%w: new_order wants 65 body bytes, got %d", ErrBadEncoding, len(body))
		}
		ix := NewOrder{
			Side:      orderbook.Side(body[0]),
			Type:      OrderType(body[1]),
			SelfTrade: SelfTradePolicy(body[2]),
			OwnerSlot: binary.LittleEndian.Uint32(body[3:]),
			Price:     binary.LittleEndian.Uint64(body[39:]),
			Quantity:  binary.LittleEndian.Uint64(body[47:]),
			ClientID:  binary.LittleEndian.Uint64(body[55:]),
			Limit:     binary.LittleEndian.Uint16(body[63:]),
		}
		copy(ix.Owner[:], body[7:39])
		if ix.Side > orderbook.Ask || ix.Type > PostOnly || ix.SelfTrade > AbortTransaction {
			return nil, fmt.Errorf("%w: new_order enum out of range", ErrBadEncoding)
		}
		return ix, nil
	case TagCancelOrder:
		if len(body) != 21 {
			return nil, fmt.Errorf("%w: cancel_order wants 21 body bytes, got %d", ErrBadEncoding, len(body))
		}
		ix := CancelOrder{
			Side:      orderbook.Side(body[0]),
			OwnerSlot: binary.LittleEndian.Uint32(body[1:]),
			OrderID: orderbook.Key{
				Hi: binary.LittleEndian.Uint64(body[5:]),
				Lo: binary.LittleEndian.Uint64(body[13:]),
			},
		}
		if ix.Side > orderbook.Ask {
			return nil, fmt.Errorf("%w: cancel_order side out of range", ErrBadEncoding)
		}
		return ix, nil
	case TagConsumeEvents:
		if len(body) != 2 {
			return nil, fmt.Errorf("%w: consume_events wants 2 body bytes, got %d", ErrBadEncoding, len(body))
		}
		return ConsumeEvents{Limit: binary.LittleEndian.Uint16(body)}, nil
	case TagSettleFunds:
		if len(body) != 4 {
			return nil, fmt.Errorf("%w: settle_funds wants 4 body bytes, got %d", ErrBadEncoding, len(body))
		}
		return SettleFunds{OwnerSlot: binary.LittleEndian.Uint32(body)}, nil
	case TagInitMarket:
		if len(body) != 130 {
			return nil, fmt.Errorf("%w: init_market wants 130 body bytes, got %d", ErrBadEncoding, len(body))
		}
		var p market.Params
		copy(p.Market[:], body[0:32])
		copy(p.BaseVault[:], body[32:64])
		copy(p.QuoteVault[:], body[64:96])
		p.BaseDecimals = body[96]
		p.QuoteDecimals = body[97]
		for i := range p.Fees {
			p.Fees[i] = binary.LittleEndian.Uint16(body[98+2*i:])
		}
		p.Caps.BookNodes = binary.LittleEndian.Uint32(body[114:])
		p.Caps.Requests = binary.LittleEndian.Uint32(body[118:])
		p.Caps.Events = binary.LittleEndian.Uint32(body[122:])
		p.Caps.Slots = binary.LittleEndian.Uint32(body[126:])
		return InitMarket{Params: p}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrBadEncoding, tag)
	}
}
