// Package service is the only write entry point into the market. It
// coordinates the matching engine, the instruction journal, the region
// store, and the event outbox, and it enforces the all-or-nothing rule:
// a failed operation leaves no observable change behind.
package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/dvrvsimi/openbook-dex/domain/instruction"
	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/domain/matching"
	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
	"github.com/dvrvsimi/openbook-dex/domain/queue"
	"github.com/dvrvsimi/openbook-dex/infra/journal"
	"github.com/dvrvsimi/openbook-dex/infra/regionstore"
	"github.com/dvrvsimi/openbook-dex/infra/sequence"
	"github.com/dvrvsimi/openbook-dex/pkg/logger"
	"github.com/dvrvsimi/openbook-dex/snapshot"
)

// Journal record kinds. Replaying the records in order against the last
// persisted region image reproduces the live state exactly.
const (
	// KindApply carries one encoded instruction applied directly.
	KindApply journal.Kind = iota
	// KindSubmit pushes one encoded instruction onto the request queue.
	KindSubmit
	// KindCrank pops one request and applies it; the pop survives even
	// when the apply fails, matching the live crank behavior.
	KindCrank
	// KindCredit deposits external funds into an owner slot.
	KindCredit
)

// FeedPublisher fans consumed events out to the market-data feed,
// keyed by market address. The durable settlement path is the outbox;
// feed publishes are best-effort and never fail the operation.
type FeedPublisher interface {
	Send(ctx context.Context, key, value []byte) error
}

// EventStager durably stages a consumed event for broadcast. Satisfied
// by the pebble outbox; staging must succeed before a drain commits.
type EventStager interface {
	Put(seq uint64, payload []byte) error
}

// MarketService serializes every operation on one market.
type MarketService struct {
	mu       sync.Mutex
	engine   *matching.Engine
	journal  *journal.Journal
	store    *regionstore.Store
	outbox   EventStager
	seq      *sequence.Sequencer
	feed     FeedPublisher
	log      *logger.Logger
	lastGood []byte
}

// Deps wires the infrastructure a service needs. Feed is optional.
type Deps struct {
	Journal *journal.Journal
	Store   *regionstore.Store
	Outbox  EventStager
	Seq     *sequence.Sequencer
	Feed    FeedPublisher
	Log     *logger.Logger
}

// New wraps an already-built market state.
func New(st *market.State, d Deps) *MarketService {
	return &MarketService{
		engine:   matching.NewEngine(st),
		journal:  d.Journal,
		store:    d.Store,
		outbox:   d.Outbox,
		seq:      d.Seq,
		feed:     d.Feed,
		log:      d.Log,
		lastGood: snapshot.Marshal(st),
	}
}

func (s *MarketService) state() *market.State { return s.engine.State() }

// restore discards every uncommitted mutation by rebuilding the state
// from the last committed image.
func (s *MarketService) restore() {
	st, err := snapshot.Unmarshal(s.lastGood)
	if err != nil {
		// lastGood is always a Marshal product; this cannot happen
		// short of memory corruption.
		s.log.Error(err, logger.NewField("context", "restore"))
		return
	}
	s.engine = matching.NewEngine(st)
}

// commit journals the operation and refreshes the rollback image.
func (s *MarketService) commit(kind journal.Kind, payload []byte) error {
	rec := journal.NewRecord(kind, s.seq.Next(), payload)
	if err := s.journal.Append(rec); err != nil {
		s.restore()
		return err
	}
	s.lastGood = snapshot.Marshal(s.state())
	return nil
}

// mutate runs fn under the all-or-nothing contract.
func (s *MarketService) mutate(kind journal.Kind, payload []byte, fn func() error) error {
	if err := fn(); err != nil {
		s.restore()
		return err
	}
	return s.commit(kind, payload)
}

// PlaceOrder applies a new order immediately, bypassing the request
// queue. Used by the direct API; queued submissions go through
// SubmitRequest and Crank.
func (s *MarketService) PlaceOrder(ix instruction.NewOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(KindApply, instruction.Encode(ix), func() error {
		return s.engine.NewOrder(ix)
	})
}

// CancelOrder removes a resting order.
func (s *MarketService) CancelOrder(ix instruction.CancelOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(KindApply, instruction.Encode(ix), func() error {
		return s.engine.CancelOrder(ix)
	})
}

// SubmitRequest validates and enqueues an encoded instruction for the
// next crank. A full queue rejects the submission.
func (s *MarketService) SubmitRequest(encoded []byte) error {
	ins, err := instruction.Decode(encoded)
	if err != nil {
		return market.Validationf("bad instruction: %v", err)
	}
	if ins.Tag() == instruction.TagInitMarket {
		return market.Validationf("init_market cannot be queued")
	}
	req, err := queue.NewRequest(encoded)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(KindSubmit, encoded, func() error {
		return s.state().Requests.Push(req)
	})
}

// Crank drains up to limit queued requests through the engine. A failed
// request is dropped with its effects rolled back; the failure never
// blocks the requests behind it. Returns how many requests were drained.
func (s *MarketService) Crank(limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := 0
	for drained < limit {
		if !s.crankOne() {
			break
		}
		if err := s.commit(KindCrank, nil); err != nil {
			return drained, err
		}
		drained++
	}
	return drained, nil
}

// crankOne pops and applies the next request. The pop is kept even when
// the apply fails; only the apply's effects are rolled back.
func (s *MarketService) crankOne() bool {
	req, ok := s.state().Requests.Pop()
	if !ok {
		return false
	}
	checkpoint := snapshot.Marshal(s.state())
	ins, err := instruction.Decode(req.Bytes())
	if err == nil {
		err = s.engine.Apply(ins)
	}
	if err != nil {
		st, uerr := snapshot.Unmarshal(checkpoint)
		if uerr == nil {
			s.engine = matching.NewEngine(st)
		}
		s.log.Warn("request dropped",
			logger.NewField("error", err.Error()),
			logger.NewField("code", market.CodeOf(err).String()))
	}
	return true
}

// FeedEvent is the JSON shape staged for the fills feed.
type FeedEvent struct {
	V         int    `json:"v"`
	Type      string `json:"type"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	OwnerSlot uint32 `json:"owner_slot"`
	Seq       uint64 `json:"seq"`
	OrderID   string `json:"order_id"`
	TakerID   string `json:"taker_id,omitempty"`
	Price     uint64 `json:"price,omitempty"`
	Quantity  uint64 `json:"quantity"`
}

// ConsumeEvents drains up to limit events, applying maker credits, and
// stages each drained event in the outbox for broadcast. Staging
// happens before the drain commits: once an event leaves the in-region
// queue it is already durable in the outbox, so a crash between the
// two can only replay the drain, never lose the event. Put is
// idempotent per sequence, so a rolled-back drain leaves at most a
// duplicate staging.
func (s *MarketService) ConsumeEvents(limit uint16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evs []queue.Event
	var payloads [][]byte
	err := s.mutate(KindApply, instruction.Encode(instruction.ConsumeEvents{Limit: limit}), func() error {
		drained, err := s.engine.ConsumeEvents(limit)
		if err != nil {
			return err
		}
		for _, ev := range drained {
			payload, err := json.Marshal(s.feedEvent(ev))
			if err != nil {
				return err
			}
			if err := s.outbox.Put(ev.Seq, payload); err != nil {
				s.log.Error(err, logger.NewField("event_seq", ev.Seq))
				return err
			}
			payloads = append(payloads, payload)
		}
		evs = drained
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.feed != nil && len(payloads) > 0 {
		key := []byte(s.state().Market.String())
		for _, payload := range payloads {
			if err := s.feed.Send(context.Background(), key, payload); err != nil {
				s.log.Warn("feed publish failed", logger.NewField("error", err.Error()))
				break
			}
		}
	}
	return len(evs), nil
}

func (s *MarketService) feedEvent(ev queue.Event) FeedEvent {
	typ := "fill"
	if ev.Tag == queue.EventOut {
		typ = "out"
	}
	fe := FeedEvent{
		V:         1,
		Type:      typ,
		Market:    s.state().Market.String(),
		Side:      ev.Side.String(),
		OwnerSlot: ev.OwnerSlot,
		Seq:       ev.Seq,
		OrderID:   ev.OrderID.String(),
		Quantity:  ev.Quantity,
	}
	if ev.Tag == queue.EventFill {
		fe.TakerID = ev.TakerID.String()
		fe.Price = ev.Price
	}
	return fe
}

// SettleFunds zeroes an owner's free balances and returns the amounts
// the host must transfer out of the vaults.
func (s *MarketService) SettleFunds(slot uint32) (base, quote uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.mutate(KindApply, instruction.Encode(instruction.SettleFunds{OwnerSlot: slot}), func() error {
		var ferr error
		base, quote, ferr = s.engine.SettleFunds(slot)
		return ferr
	})
	if err != nil {
		return 0, 0, err
	}
	return base, quote, nil
}

// Credit records an external vault deposit into an owner slot.
func (s *MarketService) Credit(slot uint32, owner market.Address, base, quote uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(KindCredit, encodeCredit(slot, owner, base, quote), func() error {
		return s.state().Credit(slot, owner, base, quote)
	})
}

// Snapshot persists the current region image and truncates journal
// segments the image now covers. Run periodically by the server.
func (s *MarketService) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq.Current()
	if err := s.store.Save(s.state().Market, seq, s.lastGood); err != nil {
		return err
	}
	return s.journal.TruncateBefore(seq)
}

// Depth returns up to maxLevels aggregated price levels for one side.
func (s *MarketService) Depth(side orderbook.Side, maxLevels int) []orderbook.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state().Book.Depth(side, maxLevels)
}

// OpenOrdersView is a read-only copy of one owner slot.
type OpenOrdersView struct {
	Slot        uint32          `json:"slot"`
	Owner       string          `json:"owner"`
	Initialized bool            `json:"initialized"`
	BaseFree    uint64          `json:"base_free"`
	BaseLocked  uint64          `json:"base_locked"`
	QuoteFree   uint64          `json:"quote_free"`
	QuoteLocked uint64          `json:"quote_locked"`
	Orders      []orderbook.Key `json:"orders"`
}

// OpenOrders returns the state of one owner slot.
func (s *MarketService) OpenOrders(slot uint32) (OpenOrdersView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oo, err := s.state().Slot(slot)
	if err != nil {
		return OpenOrdersView{}, err
	}
	return OpenOrdersView{
		Slot:        slot,
		Owner:       oo.Owner.String(),
		Initialized: oo.Initialized,
		BaseFree:    oo.BaseFree,
		BaseLocked:  oo.BaseLocked,
		QuoteFree:   oo.QuoteFree,
		QuoteLocked: oo.QuoteLocked,
		Orders:      oo.Orders(),
	}, nil
}

// Stats is the market health view.
type Stats struct {
	Market             string `json:"market"`
	SeqNum             uint64 `json:"seq_num"`
	BidCount           int    `json:"bid_count"`
	AskCount           int    `json:"ask_count"`
	PendingRequests    int    `json:"pending_requests"`
	PendingEvents      int    `json:"pending_events"`
	QuoteFeesAccrued   uint64 `json:"quote_fees_accrued"`
	BaseDepositsTotal  uint64 `json:"base_deposits_total"`
	QuoteDepositsTotal uint64 `json:"quote_deposits_total"`
}

// Stats returns current counters.
func (s *MarketService) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state()
	return Stats{
		Market:             st.Market.String(),
		SeqNum:             st.SeqNum,
		BidCount:           st.Book.Tree(orderbook.Bid).Len(),
		AskCount:           st.Book.Tree(orderbook.Ask).Len(),
		PendingRequests:    st.Requests.Len(),
		PendingEvents:      st.Events.Len(),
		QuoteFeesAccrued:   st.QuoteFeesAccrued,
		BaseDepositsTotal:  st.BaseDepositsTotal,
		QuoteDepositsTotal: st.QuoteDepositsTotal,
	}
}

// credit payload: [slot:4][owner:32][base:8][quote:8]
func encodeCredit(slot uint32, owner market.Address, base, quote uint64) []byte {
	b := make([]byte, 0, 52)
	b = binary.LittleEndian.AppendUint32(b, slot)
	b = append(b, owner[:]...)
	b = binary.LittleEndian.AppendUint64(b, base)
	b = binary.LittleEndian.AppendUint64(b, quote)
	return b
}

func decodeCredit(b []byte) (slot uint32, owner market.Address, base, quote uint64, err error) {
	if len(b) != 52 {
		return 0, market.Address{}, 0, 0, market.Validationf("bad credit record: %d bytes", len(b))
	}
	slot = binary.LittleEndian.Uint32(b)
	copy(owner[:], b[4:36])
	base = binary.LittleEndian.Uint64(b[36:])
	quote = binary.LittleEndian.Uint64(b[44:])
	return slot, owner, base, quote, nil
}
