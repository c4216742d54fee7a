// Package snapshot serializes a whole market state to and from its
// persisted region image. The layout is fixed little-endian with every
// section at an offset computed from the declared capacities, so a
// reader can locate any section without walking the ones before it.
//
// Layout:
//
//	header | bids slab | asks slab | request ring | event ring | slots
package snapshot

import (
	"encoding/binary"
	"fmt"

	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
	"github.com/dvrvsimi/openbook-dex/domain/queue"
)

// HeaderSize is the byte size of the fixed region header.
//
//	0   magic      u32
//	4   version    u16
//	6   pad        u16
//	8   market     [32]byte
//	40  base vault [32]byte
//	72  quote vault[32]byte
//	104 base dec   u8
//	105 quote dec  u8
//	106 pad        u16
//	108 fee table  [8]u16
//	124 capacities 4 x u32
//	140 seq num    u64
//	148 fees accrued u64
//	156 base deposits u64
//	164 quote deposits u64
const HeaderSize = 172

// RegionSize is the exact image size for the given capacities.
func RegionSize(caps market.Capacities) int {
	return HeaderSize +
		orderbook.BookBinarySize(caps.BookNodes) +
		queue.RequestQueueBinarySize(caps.Requests) +
		queue.EventQueueBinarySize(caps.Events) +
		int(caps.Slots)*market.OpenOrdersBinarySize
}

// Marshal writes the full region image.
func Marshal(st *market.State) []byte {
	b := make([]byte, 0, RegionSize(st.Caps))
	b = binary.LittleEndian.AppendUint32(b, market.Magic)
	b = binary.LittleEndian.AppendUint16(b, market.Version)
	b = append(b, 0, 0)
	b = append(b, st.Market[:]...)
	b = append(b, st.BaseVault[:]...)
	b = append(b, st.QuoteVault[:]...)
	b = append(b, st.BaseDecimals, st.QuoteDecimals, 0, 0)
	for _, bps := range st.Fees {
		b = binary.LittleEndian.AppendUint16(b, bps)
	}
	b = binary.LittleEndian.AppendUint32(b, st.Caps.BookNodes)
	b = binary.LittleEndian.AppendUint32(b, st.Caps.Requests)
	b = binary.LittleEndian.AppendUint32(b, st.Caps.Events)
	b = binary.LittleEndian.AppendUint32(b, st.Caps.Slots)
	b = binary.LittleEndian.AppendUint64(b, st.SeqNum)
	b = binary.LittleEndian.AppendUint64(b, st.QuoteFeesAccrued)
	b = binary.LittleEndian.AppendUint64(b, st.BaseDepositsTotal)
	b = binary.LittleEndian.AppendUint64(b, st.QuoteDepositsTotal)

	b = st.Book.AppendBinary(b)
	b = st.Requests.AppendBinary(b)
	b = st.Events.AppendBinary(b)
	for i := range st.Slots {
		b = st.Slots[i].AppendBinary(b)
	}
	return b
}

// Unmarshal reads a region image back into a market state, validating
// the magic, version, and every section's structural invariants. A
// failed read never returns a partial state.
func Unmarshal(b []byte) (*market.State, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("region: short header: %d bytes", len(b))
	}
	if magic := binary.LittleEndian.Uint32(b); magic != market.Magic {
		return nil, fmt.Errorf("region: bad magic %#x", magic)
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != market.Version {
		return nil, fmt.Errorf("region: unsupported version %d", v)
	}

	st := &market.State{}
	copy(st.Market[:], b[8:40])
	copy(st.BaseVault[:], b[40:72])
	copy(st.QuoteVault[:], b[72:104])
	st.BaseDecimals = b[104]
	st.QuoteDecimals = b[105]
	for i := range st.Fees {
		st.Fees[i] = binary.LittleEndian.Uint16(b[108+2*i:])
	}
	st.Caps.BookNodes = binary.LittleEndian.Uint32(b[124:])
	st.Caps.Requests = binary.LittleEndian.Uint32(b[128:])
	st.Caps.Events = binary.LittleEndian.Uint32(b[132:])
	st.Caps.Slots = binary.LittleEndian.Uint32(b[136:])
	st.SeqNum = binary.LittleEndian.Uint64(b[140:])
	st.QuoteFeesAccrued = binary.LittleEndian.Uint64(b[148:])
	st.BaseDepositsTotal = binary.LittleEndian.Uint64(b[156:])
	st.QuoteDepositsTotal = binary.LittleEndian.Uint64(b[164:])

	if st.Caps.BookNodes == 0 || st.Caps.Requests == 0 || st.Caps.Events == 0 || st.Caps.Slots == 0 {
		return nil, fmt.Errorf("region: zero capacity in header")
	}
	if want := RegionSize(st.Caps); len(b) != want {
		return nil, fmt.Errorf("region: %d bytes, want %d for declared capacities", len(b), want)
	}

	off := HeaderSize
	bookSize := orderbook.BookBinarySize(st.Caps.BookNodes)
	book, err := orderbook.UnmarshalBook(b[off:off+bookSize], st.Caps.BookNodes)
	if err != nil {
		return nil, fmt.Errorf("region: book: %w", err)
	}
	st.Book = book
	off += bookSize

	reqSize := queue.RequestQueueBinarySize(st.Caps.Requests)
	reqs, err := queue.UnmarshalRequestQueue(b[off:off+reqSize], st.Caps.Requests)
	if err != nil {
		return nil, fmt.Errorf("region: requests: %w", err)
	}
	st.Requests = reqs
	off += reqSize

	evSize := queue.EventQueueBinarySize(st.Caps.Events)
	evs, err := queue.UnmarshalEventQueue(b[off:off+evSize], st.Caps.Events)
	if err != nil {
		return nil, fmt.Errorf("region: events: %w", err)
	}
	st.Events = evs
	off += evSize

	st.Slots = make([]market.OpenOrders, st.Caps.Slots)
	for i := range st.Slots {
		oo, err := market.UnmarshalOpenOrders(b[off : off+market.OpenOrdersBinarySize])
		if err != nil {
			return nil, fmt.Errorf("region: slot %d: %w", i, err)
		}
		st.Slots[i] = oo
		off += market.OpenOrdersBinarySize
	}
	return st, nil
}
