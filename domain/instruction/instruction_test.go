package instruction

import (
	"testing"

	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
)

func TestEncodeDecodeAll(t *testing.T) {
	var owner market.Address
	owner[0] = 0xaa
	cases := []Instruction{
		NewOrder{
			Side: orderbook.Bid, Type: ImmediateOrCancel, SelfTrade: AbortTransaction,
			OwnerSlot: 3, Owner: owner, Price: 100, Quantity: 5, ClientID: 77, Limit: 10,
		},
		CancelOrder{Side: orderbook.Ask, OwnerSlot: 1, OrderID: orderbook.NewKey(orderbook.Ask, 99, 4)},
		ConsumeEvents{Limit: 16},
		SettleFunds{OwnerSlot: 2},
		InitMarket{Params: market.Params{
			Market: owner, BaseVault: owner, QuoteVault: owner,
			BaseDecimals: 6, QuoteDecimals: 6,
			Fees: market.FeeTable{10, 20},
			Caps: market.Capacities{BookNodes: 64, Requests: 8, Events: 8, Slots: 4},
		}},
	}
	for _, ix := range cases {
		b := Encode(ix)
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("%s: decode: %v", ix.Tag(), err)
		}
		if got != ix {
			t.Fatalf("%s: round trip mismatch:\n got %+v\nwant %+v", ix.Tag(), got, ix)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("empty input accepted")
	}
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatal("unknown tag accepted")
	}
	b := Encode(ConsumeEvents{Limit: 4})
	if _, err := Decode(append(b, 0)); err == nil {
		t.Fatal("trailing bytes accepted")
	}
	b = Encode(NewOrder{Side: orderbook.Bid})
	b[3] = 200 // self-trade policy out of range
	if _, err := Decode(b); err == nil {
		t.Fatal("enum out of range accepted")
	}
}
