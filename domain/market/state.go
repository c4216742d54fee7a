package market

import (
	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
	"github.com/dvrvsimi/openbook-dex/domain/queue"
)

const (
	// Magic tags the first word of a persisted market region.
	Magic uint32 = 0x0bdec10b
	// Version of the persisted layout.
	Version uint16 = 1
)

// FeeTierCount is the size of the per-market fee table.
const FeeTierCount = 8

// FeeTable maps a fee tier to its taker fee in basis points.
type FeeTable [FeeTierCount]uint16

// TakerBps returns the taker fee for a tier.
func (f FeeTable) TakerBps(tier uint8) uint16 {
	return f[int(tier)%FeeTierCount]
}

// Capacities declares the fixed sizes of every region section. All
// byte offsets of the persisted layout are computed from these, never
// discovered at runtime.
type Capacities struct {
	BookNodes uint32 // slab nodes per side
	Requests  uint32
	Events    uint32
	Slots     uint32
}

// Params configures a new market.
type Params struct {
	Market        Address
	BaseVault     Address
	QuoteVault    Address
	BaseDecimals  uint8
	QuoteDecimals uint8
	Fees          FeeTable
	Caps          Capacities
}

func (p Params) validate() error {
	if p.Market.IsZero() || p.BaseVault.IsZero() || p.QuoteVault.IsZero() {
		return Validationf("market and vault addresses must be set")
	}
	if p.BaseDecimals > 18 || p.QuoteDecimals > 18 {
		return Validationf("decimals out of range: base=%d quote=%d", p.BaseDecimals, p.QuoteDecimals)
	}
	if p.Caps.BookNodes == 0 || p.Caps.Requests == 0 || p.Caps.Events == 0 || p.Caps.Slots == 0 {
		return Validationf("all capacities must be nonzero")
	}
	return nil
}

// State is the full in-memory form of one persisted market region: the
// header, both order book arenas, both ring queues, and the open-orders
// slot table. It is the single mutable context every engine operation
// takes explicitly; the host guarantees exclusive access for the length
// of one instruction.
type State struct {
	Market        Address
	BaseVault     Address
	QuoteVault    Address
	BaseDecimals  uint8
	QuoteDecimals uint8
	Fees          FeeTable
	Caps          Capacities

	// SeqNum mints sort keys; strictly monotonic over the market's
	// whole life, including across reloads.
	SeqNum uint64

	QuoteFeesAccrued   uint64
	BaseDepositsTotal  uint64
	QuoteDepositsTotal uint64

	Book     *orderbook.Book
	Requests *queue.RequestQueue
	Events   *queue.EventQueue
	Slots    []OpenOrders
}

// NewState initializes an empty market.
func NewState(p Params) (*State, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &State{
		Market:        p.Market,
		BaseVault:     p.BaseVault,
		QuoteVault:    p.QuoteVault,
		BaseDecimals:  p.BaseDecimals,
		QuoteDecimals: p.QuoteDecimals,
		Fees:          p.Fees,
		Caps:          p.Caps,
		Book:          orderbook.NewBook(p.Caps.BookNodes),
		Requests:      queue.NewRequestQueue(p.Caps.Requests),
		Events:        queue.NewEventQueue(p.Caps.Events),
		Slots:         make([]OpenOrders, p.Caps.Slots),
	}, nil
}

// NextSeq mints the next order sequence number.
func (s *State) NextSeq() uint64 {
	s.SeqNum++
	return s.SeqNum
}

// Slot returns the open-orders slot at index i.
func (s *State) Slot(i uint32) (*OpenOrders, error) {
	if int(i) >= len(s.Slots) {
		return nil, Validationf("owner slot %d out of range (have %d)", i, len(s.Slots))
	}
	return &s.Slots[i], nil
}

// Credit deposits external funds into an owner's slot. This is the
// vault-deposit collaborator: the token transfer itself happens outside
// the engine, the region only tracks the resulting balances.
func (s *State) Credit(slot uint32, owner Address, base, quote uint64) error {
	oo, err := s.Slot(slot)
	if err != nil {
		return err
	}
	if !oo.Initialized {
		oo.Claim(owner, 0)
	} else if oo.Owner != owner {
		return Validationf("slot %d owned by %s", slot, oo.Owner)
	}
	if oo.BaseFree, err = AddU64(oo.BaseFree, base); err != nil {
		return err
	}
	if oo.QuoteFree, err = AddU64(oo.QuoteFree, quote); err != nil {
		return err
	}
	if s.BaseDepositsTotal, err = AddU64(s.BaseDepositsTotal, base); err != nil {
		return err
	}
	if s.QuoteDepositsTotal, err = AddU64(s.QuoteDepositsTotal, quote); err != nil {
		return err
	}
	return nil
}
