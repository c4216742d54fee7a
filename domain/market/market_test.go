package market

import (
	"math"
	"testing"

	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
)

func TestCheckedMath(t *testing.T) {
	if _, err := MulU64(math.MaxUint64, 2); CodeOf(err) != CodeArithmetic {
		t.Fatalf("mul overflow not caught: %v", err)
	}
	if _, err := AddU64(math.MaxUint64, 1); CodeOf(err) != CodeArithmetic {
		t.Fatalf("add overflow not caught: %v", err)
	}
	if _, err := SubU64(1, 2); CodeOf(err) != CodeArithmetic {
		t.Fatalf("sub underflow not caught: %v", err)
	}
	if v, err := MulU64(1<<32, 1<<31); err != nil || v != 1<<63 {
		t.Fatalf("mul: got %d, %v", v, err)
	}
}

func TestFeeOn(t *testing.T) {
	// 25 bps on 4000 is 10, rounded down.
	if fee, err := FeeOn(4000, 25); err != nil || fee != 10 {
		t.Fatalf("fee: got %d, %v", fee, err)
	}
	if fee, err := FeeOn(100, 25); err != nil || fee != 0 {
		t.Fatalf("sub-unit fee must round down: got %d, %v", fee, err)
	}
	// 128-bit intermediate: amount * bps overflows 64 bits but the
	// result fits.
	big := uint64(math.MaxUint64 / 2)
	want := big / 10000 * 30 // within rounding of the exact value
	fee, err := FeeOn(big, 30)
	if err != nil {
		t.Fatalf("fee on large amount: %v", err)
	}
	if fee < want || fee > want+30 {
		t.Fatalf("fee on large amount out of range: got %d, want about %d", fee, want)
	}
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{Validationf("x"), CodeValidation},
		{Capacityf("x"), CodeCapacity},
		{Statef("x"), CodeState},
		{Arithmeticf("x"), CodeArithmetic},
		{Budgetf("x"), CodeBudget},
		{orderbook.ErrSlabFull, CodeCapacity},
	}
	for _, c := range cases {
		if got := CodeOf(c.err); got != c.want {
			t.Fatalf("CodeOf(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestOpenOrdersLifecycle(t *testing.T) {
	var oo OpenOrders
	var owner Address
	owner[0] = 5
	oo.Claim(owner, 2)
	if !oo.Initialized || oo.FeeTier != 2 || oo.OpenCount() != 0 {
		t.Fatalf("claim: %+v", oo)
	}

	k1 := orderbook.NewKey(orderbook.Bid, 100, 1)
	k2 := orderbook.NewKey(orderbook.Bid, 101, 2)
	if err := oo.AddOrder(k1, 11); err != nil {
		t.Fatal(err)
	}
	if err := oo.AddOrder(k2, 22); err != nil {
		t.Fatal(err)
	}
	if oo.OpenCount() != 2 || !oo.HasOrder(k1) || !oo.HasOrder(k2) {
		t.Fatalf("tracking: %+v", oo)
	}
	if id, ok := oo.FindByClientID(22); !ok || id != k2 {
		t.Fatal("client id lookup failed")
	}
	if !oo.RemoveOrder(k1) || oo.HasOrder(k1) || oo.OpenCount() != 1 {
		t.Fatal("remove failed")
	}
	if oo.RemoveOrder(k1) {
		t.Fatal("double remove must fail")
	}
}

func TestOpenOrdersCapacity(t *testing.T) {
	var oo OpenOrders
	oo.Claim(Address{1}, 0)
	for i := 0; i < MaxOpenOrdersPerSlot; i++ {
		if err := oo.AddOrder(orderbook.NewKey(orderbook.Ask, 100, uint64(i+1)), 0); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	err := oo.AddOrder(orderbook.NewKey(orderbook.Ask, 100, 999), 0)
	if CodeOf(err) != CodeCapacity {
		t.Fatalf("want capacity error, got %v", err)
	}
	// Freeing one entry makes room again.
	oo.RemoveOrder(orderbook.NewKey(orderbook.Ask, 100, 1))
	if err := oo.AddOrder(orderbook.NewKey(orderbook.Ask, 100, 999), 0); err != nil {
		t.Fatalf("add after remove: %v", err)
	}
}

func TestOpenOrdersRoundTrip(t *testing.T) {
	var oo OpenOrders
	oo.Claim(Address{9}, 3)
	oo.BaseFree, oo.BaseLocked = 10, 20
	oo.QuoteFree, oo.QuoteLocked = 30, 40
	if err := oo.AddOrder(orderbook.NewKey(orderbook.Bid, 55, 7), 1234); err != nil {
		t.Fatal(err)
	}

	b := oo.AppendBinary(nil)
	if len(b) != OpenOrdersBinarySize {
		t.Fatalf("marshaled size %d, want %d", len(b), OpenOrdersBinarySize)
	}
	got, err := UnmarshalOpenOrders(b)
	if err != nil {
		t.Fatal(err)
	}
	if got != oo {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, oo)
	}

	if _, err := UnmarshalOpenOrders(b[:10]); err == nil {
		t.Fatal("short image accepted")
	}
}

func testParams() Params {
	return Params{
		Market: Address{1}, BaseVault: Address{2}, QuoteVault: Address{3},
		BaseDecimals: 6, QuoteDecimals: 6,
		Fees: FeeTable{0, 10, 20},
		Caps: Capacities{BookNodes: 16, Requests: 4, Events: 8, Slots: 2},
	}
}

func TestNewStateValidation(t *testing.T) {
	p := testParams()
	if _, err := NewState(p); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	bad := p
	bad.Market = Address{}
	if _, err := NewState(bad); CodeOf(err) != CodeValidation {
		t.Fatalf("zero market accepted: %v", err)
	}
	bad = p
	bad.Caps.Events = 0
	if _, err := NewState(bad); CodeOf(err) != CodeValidation {
		t.Fatalf("zero capacity accepted: %v", err)
	}
}

func TestCredit(t *testing.T) {
	st, err := NewState(testParams())
	if err != nil {
		t.Fatal(err)
	}
	owner := Address{7}
	if err := st.Credit(0, owner, 100, 200); err != nil {
		t.Fatal(err)
	}
	oo, _ := st.Slot(0)
	if !oo.Initialized || oo.BaseFree != 100 || oo.QuoteFree != 200 {
		t.Fatalf("credit: %+v", oo)
	}
	if st.BaseDepositsTotal != 100 || st.QuoteDepositsTotal != 200 {
		t.Fatal("deposit totals not tracked")
	}
	// Crediting the claimed slot as someone else must fail.
	if err := st.Credit(0, Address{8}, 1, 1); CodeOf(err) != CodeValidation {
		t.Fatalf("owner mismatch accepted: %v", err)
	}
	if err := st.Credit(99, owner, 1, 1); CodeOf(err) != CodeValidation {
		t.Fatalf("out-of-range slot accepted: %v", err)
	}
}

func TestNextSeqMonotonic(t *testing.T) {
	st, _ := NewState(testParams())
	a, b := st.NextSeq(), st.NextSeq()
	if a == 0 || b != a+1 {
		t.Fatalf("seq not monotonic: %d, %d", a, b)
	}
}

func TestParseAddress(t *testing.T) {
	a := Address{0xde, 0xad}
	got, err := ParseAddress(a.String())
	if err != nil || got != a {
		t.Fatalf("round trip: %v, %v", got, err)
	}
	if _, err := ParseAddress("zz"); err == nil {
		t.Fatal("bad hex accepted")
	}
}
