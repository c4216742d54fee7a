package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvrvsimi/openbook-dex/domain/instruction"
	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
	"github.com/dvrvsimi/openbook-dex/infra/journal"
	"github.com/dvrvsimi/openbook-dex/infra/outbox"
	"github.com/dvrvsimi/openbook-dex/infra/regionstore"
	"github.com/dvrvsimi/openbook-dex/infra/sequence"
	"github.com/dvrvsimi/openbook-dex/pkg/logger"
)

func testParams() market.Params {
	return market.Params{
		Market: market.Address{1}, BaseVault: market.Address{2}, QuoteVault: market.Address{3},
		BaseDecimals: 6, QuoteDecimals: 6,
		Fees: market.FeeTable{},
		Caps: market.Capacities{BookNodes: 64, Requests: 4, Events: 32, Slots: 8},
	}
}

// captureFeed records what the service hands the fills feed.
type captureFeed struct {
	keys     []string
	payloads []string
}

func (f *captureFeed) Send(_ context.Context, key, value []byte) error {
	f.keys = append(f.keys, string(key))
	f.payloads = append(f.payloads, string(value))
	return nil
}

type fixture struct {
	svc        *MarketService
	deps       Deps
	ob         *outbox.Outbox
	feed       *captureFeed
	journalDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	journalDir := t.TempDir()
	j, err := journal.Open(journal.Config{Dir: journalDir})
	require.NoError(t, err)
	store, err := regionstore.Open(t.TempDir())
	require.NoError(t, err)
	ob, err := outbox.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = j.Close()
		_ = store.Close()
		_ = ob.Close()
	})

	feed := &captureFeed{}
	deps := Deps{
		Journal: j,
		Store:   store,
		Outbox:  ob,
		Seq:     sequence.New(0),
		Feed:    feed,
		Log:     logger.NewNop(),
	}
	svc, err := Restore(testParams(), journalDir, deps)
	require.NoError(t, err)
	return &fixture{svc: svc, deps: deps, ob: ob, feed: feed, journalDir: journalDir}
}

func TestPlaceAndCancel(t *testing.T) {
	f := newFixture(t)
	owner := market.Address{10}
	require.NoError(t, f.svc.Credit(0, owner, 0, 1000))

	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 0, Owner: owner, Price: 100, Quantity: 4, ClientID: 5,
	}))

	st := f.svc.Stats()
	require.Equal(t, 1, st.BidCount)

	view, err := f.svc.OpenOrders(0)
	require.NoError(t, err)
	require.Len(t, view.Orders, 1)
	require.Equal(t, uint64(400), view.QuoteLocked)

	require.NoError(t, f.svc.CancelOrder(instruction.CancelOrder{
		Side: orderbook.Bid, OwnerSlot: 0, OrderID: view.Orders[0],
	}))
	require.Equal(t, 0, f.svc.Stats().BidCount)
}

func TestSubmitAndCrank(t *testing.T) {
	f := newFixture(t)
	maker, taker := market.Address{10}, market.Address{11}
	require.NoError(t, f.svc.Credit(0, maker, 10, 0))
	require.NoError(t, f.svc.Credit(1, taker, 0, 1000))

	ask := instruction.Encode(instruction.NewOrder{
		Side: orderbook.Ask, OwnerSlot: 0, Owner: maker, Price: 100, Quantity: 3,
	})
	bid := instruction.Encode(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 1, Owner: taker, Price: 100, Quantity: 3,
	})
	require.NoError(t, f.svc.SubmitRequest(ask))
	require.NoError(t, f.svc.SubmitRequest(bid))
	require.Equal(t, 2, f.svc.Stats().PendingRequests)

	n, err := f.svc.Crank(16)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 0, f.svc.Stats().PendingRequests)
	require.Equal(t, 1, f.svc.Stats().PendingEvents) // the fill

	// A failing request is dropped without blocking the queue.
	broke := instruction.Encode(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 2, Owner: market.Address{12}, Price: 100, Quantity: 100,
	})
	good := instruction.Encode(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 1, Owner: taker, Price: 90, Quantity: 1,
	})
	require.NoError(t, f.svc.SubmitRequest(broke))
	require.NoError(t, f.svc.SubmitRequest(good))
	n, err = f.svc.Crank(16)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, f.svc.Stats().BidCount)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	require.Error(t, f.svc.SubmitRequest([]byte{0xff}))

	init := instruction.Encode(instruction.InitMarket{Params: testParams()})
	require.Error(t, f.svc.SubmitRequest(init))

	// Queue capacity is 4; the fifth submission is rejected.
	owner := market.Address{10}
	require.NoError(t, f.svc.Credit(0, owner, 0, 100000))
	encoded := instruction.Encode(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 0, Owner: owner, Price: 10, Quantity: 1,
	})
	for i := 0; i < 4; i++ {
		require.NoError(t, f.svc.SubmitRequest(encoded))
	}
	err := f.svc.SubmitRequest(encoded)
	require.Equal(t, market.CodeCapacity, market.CodeOf(err))
}

func TestConsumeEventsStagesOutbox(t *testing.T) {
	f := newFixture(t)
	maker, taker := market.Address{10}, market.Address{11}
	require.NoError(t, f.svc.Credit(0, maker, 10, 0))
	require.NoError(t, f.svc.Credit(1, taker, 0, 1000))

	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Ask, OwnerSlot: 0, Owner: maker, Price: 100, Quantity: 3,
	}))
	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, Type: instruction.ImmediateOrCancel,
		OwnerSlot: 1, Owner: taker, Price: 100, Quantity: 3,
	}))

	n, err := f.svc.ConsumeEvents(16)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var staged []outbox.Entry
	require.NoError(t, f.ob.ScanPending(func(e outbox.Entry) error {
		staged = append(staged, e)
		return nil
	}))
	require.Len(t, staged, 1)
	require.Contains(t, string(staged[0].Payload), `"type":"fill"`)
	require.Contains(t, string(staged[0].Payload), `"quantity":3`)

	// Maker was credited at consumption.
	view, err := f.svc.OpenOrders(0)
	require.NoError(t, err)
	require.Equal(t, uint64(300), view.QuoteFree)
}

func TestConsumeEventsPublishesFeed(t *testing.T) {
	f := newFixture(t)
	maker, taker := market.Address{10}, market.Address{11}
	require.NoError(t, f.svc.Credit(0, maker, 10, 0))
	require.NoError(t, f.svc.Credit(1, taker, 0, 1000))
	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Ask, OwnerSlot: 0, Owner: maker, Price: 100, Quantity: 3,
	}))
	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, Type: instruction.ImmediateOrCancel,
		OwnerSlot: 1, Owner: taker, Price: 100, Quantity: 3,
	}))

	n, err := f.svc.ConsumeEvents(16)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Len(t, f.feed.payloads, 1)
	require.Contains(t, f.feed.payloads[0], `"type":"fill"`)
	require.Equal(t, testParams().Market.String(), f.feed.keys[0])
}

// flakyStager forwards to the real outbox until told to fail.
type flakyStager struct {
	inner *outbox.Outbox
	fail  bool
}

func (s *flakyStager) Put(seq uint64, payload []byte) error {
	if s.fail {
		return errors.New("outbox unavailable")
	}
	return s.inner.Put(seq, payload)
}

func TestFailedStagingLeavesEventsPending(t *testing.T) {
	journalDir := t.TempDir()
	j, err := journal.Open(journal.Config{Dir: journalDir})
	require.NoError(t, err)
	defer j.Close()
	store, err := regionstore.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ob, err := outbox.Open(t.TempDir())
	require.NoError(t, err)
	defer ob.Close()

	stager := &flakyStager{inner: ob}
	svc, err := Restore(testParams(), journalDir, Deps{
		Journal: j, Store: store, Outbox: stager,
		Seq: sequence.New(0), Log: logger.NewNop(),
	})
	require.NoError(t, err)

	maker, taker := market.Address{10}, market.Address{11}
	require.NoError(t, svc.Credit(0, maker, 10, 0))
	require.NoError(t, svc.Credit(1, taker, 0, 1000))
	require.NoError(t, svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Ask, OwnerSlot: 0, Owner: maker, Price: 100, Quantity: 3,
	}))
	require.NoError(t, svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, Type: instruction.ImmediateOrCancel,
		OwnerSlot: 1, Owner: taker, Price: 100, Quantity: 3,
	}))
	require.Equal(t, 1, svc.Stats().PendingEvents)

	// Staging gates the drain: with the outbox unavailable the events
	// stay in the region and the maker credit is rolled back.
	stager.fail = true
	_, err = svc.ConsumeEvents(16)
	require.Error(t, err)
	require.Equal(t, 1, svc.Stats().PendingEvents)
	view, err := svc.OpenOrders(0)
	require.NoError(t, err)
	require.Zero(t, view.QuoteFree)

	// Once the outbox is back the same events drain and stage normally.
	stager.fail = false
	n, err := svc.ConsumeEvents(16)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, svc.Stats().PendingEvents)
}

func TestFailedOperationLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	owner := market.Address{10}
	require.NoError(t, f.svc.Credit(0, owner, 0, 100))

	before := f.svc.Stats()
	err := f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 0, Owner: owner, Price: 100, Quantity: 100,
	})
	require.Error(t, err)
	require.Equal(t, before, f.svc.Stats())

	// The service still works afterwards.
	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 0, Owner: owner, Price: 100, Quantity: 1,
	}))
	require.Equal(t, 1, f.svc.Stats().BidCount)
}

func TestSettleFunds(t *testing.T) {
	f := newFixture(t)
	owner := market.Address{10}
	require.NoError(t, f.svc.Credit(0, owner, 7, 900))

	base, quote, err := f.svc.SettleFunds(0)
	require.NoError(t, err)
	require.Equal(t, uint64(7), base)
	require.Equal(t, uint64(900), quote)

	view, _ := f.svc.OpenOrders(0)
	require.Zero(t, view.BaseFree)
	require.Zero(t, view.QuoteFree)
}

func TestRestoreRebuildsFromJournal(t *testing.T) {
	f := newFixture(t)
	maker, taker := market.Address{10}, market.Address{11}
	require.NoError(t, f.svc.Credit(0, maker, 10, 0))
	require.NoError(t, f.svc.Credit(1, taker, 0, 1000))
	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Ask, OwnerSlot: 0, Owner: maker, Price: 100, Quantity: 5,
	}))
	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 1, Owner: taker, Price: 100, Quantity: 2,
	}))
	_, err := f.svc.ConsumeEvents(16)
	require.NoError(t, err)
	want := f.svc.Stats()
	wantDepth := f.svc.Depth(orderbook.Ask, 10)

	// Simulate a restart: rebuild from the same journal and stores.
	require.NoError(t, f.deps.Journal.Close())
	j2, err := journal.Open(journal.Config{Dir: f.journalDir})
	require.NoError(t, err)
	defer j2.Close()
	deps2 := f.deps
	deps2.Journal = j2
	deps2.Seq = sequence.New(0)

	restored, err := Restore(testParams(), f.journalDir, deps2)
	require.NoError(t, err)
	require.Equal(t, want, restored.Stats())
	require.Equal(t, wantDepth, restored.Depth(orderbook.Ask, 10))
}

func TestRestoreAfterSnapshotTruncate(t *testing.T) {
	f := newFixture(t)
	owner := market.Address{10}
	require.NoError(t, f.svc.Credit(0, owner, 0, 1000))
	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 0, Owner: owner, Price: 90, Quantity: 1,
	}))
	require.NoError(t, f.svc.Snapshot())

	// Operations after the snapshot live only in the journal.
	require.NoError(t, f.svc.PlaceOrder(instruction.NewOrder{
		Side: orderbook.Bid, OwnerSlot: 0, Owner: owner, Price: 91, Quantity: 1,
	}))
	want := f.svc.Stats()

	require.NoError(t, f.deps.Journal.Close())
	j2, err := journal.Open(journal.Config{Dir: f.journalDir})
	require.NoError(t, err)
	defer j2.Close()
	deps2 := f.deps
	deps2.Journal = j2
	deps2.Seq = sequence.New(0)

	restored, err := Restore(testParams(), f.journalDir, deps2)
	require.NoError(t, err)
	require.Equal(t, want, restored.Stats())
}
