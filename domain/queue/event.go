// Package queue holds the two bounded ring buffers that decouple order
// flow from settlement: the request queue (rejects when full) and the
// event queue (overwrites its oldest entry when full, since matching
// must never block on a slow settlement consumer).
package queue

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
)

// ErrCorruptQueue is returned when a persisted queue image fails
// validation on load.
var ErrCorruptQueue = errors.New("queue: corrupt image")

// EventTag discriminates event records.
type EventTag uint8

const (
	// EventFill records a crossing of a resting (maker) order.
	EventFill EventTag = iota
	// EventOut records an order leaving the book: canceled, fully
	// filled, or an unposted immediate-or-cancel remainder.
	EventOut
)

func (t EventTag) String() string {
	if t == EventFill {
		return "fill"
	}
	return "out"
}

// Event is one settlement log record. Every event carries a monotonic
// sequence number; a consumer that observes a gap knows the queue
// overwrote entries it never drained.
//
// Fill: OrderID/OwnerSlot name the maker, TakerID the incoming order,
// Side is the maker side, Price and Quantity describe the fill.
// Out: OrderID/OwnerSlot name the leaving order, Side its book side,
// Quantity its unfilled remainder.
type Event struct {
	Tag       EventTag
	Side      orderbook.Side
	OwnerSlot uint32
	Seq       uint64
	OrderID   orderbook.Key
	TakerID   orderbook.Key
	Price     uint64
	Quantity  uint64
}

// EventBinarySize is the fixed on-region footprint of one event.
const EventBinarySize = 1 + 1 + 2 + 4 + 8 + 16 + 16 + 8 + 8

// AppendBinary encodes the event as a fixed-width little-endian record.
func (e Event) AppendBinary(b []byte) []byte {
	b = append(b, byte(e.Tag), byte(e.Side), 0, 0)
	b = binary.LittleEndian.AppendUint32(b, e.OwnerSlot)
	b = binary.LittleEndian.AppendUint64(b, e.Seq)
	b = binary.LittleEndian.AppendUint64(b, e.OrderID.Hi)
	b = binary.LittleEndian.AppendUint64(b, e.OrderID.Lo)
	b = binary.LittleEndian.AppendUint64(b, e.TakerID.Hi)
	b = binary.LittleEndian.AppendUint64(b, e.TakerID.Lo)
	b = binary.LittleEndian.AppendUint64(b, e.Price)
	b = binary.LittleEndian.AppendUint64(b, e.Quantity)
	return b
}

// DecodeEvent reads a record written by AppendBinary.
func DecodeEvent(b []byte) (Event, error) {
	if len(b) < EventBinarySize {
		return Event{}, fmt.Errorf("%w: short event record", ErrCorruptQueue)
	}
	return Event{
		Tag:       EventTag(b[0]),
		Side:      orderbook.Side(b[1]),
		OwnerSlot: binary.LittleEndian.Uint32(b[4:]),
		Seq:       binary.LittleEndian.Uint64(b[8:]),
		OrderID:   orderbook.Key{Hi: binary.LittleEndian.Uint64(b[16:]), Lo: binary.LittleEndian.Uint64(b[24:])},
		TakerID:   orderbook.Key{Hi: binary.LittleEndian.Uint64(b[32:]), Lo: binary.LittleEndian.Uint64(b[40:])},
		Price:     binary.LittleEndian.Uint64(b[48:]),
		Quantity:  binary.LittleEndian.Uint64(b[56:]),
	}, nil
}

// EventQueue is the fixed-capacity ring the matching engine appends
// fill/out events to. Producers are never blocked: appending at full
// capacity overwrites the oldest unconsumed entry. The loss is bounded
// and detectable, never silent, through the per-event sequence numbers.
type EventQueue struct {
	buf     []Event
	head    uint32
	count   uint32
	nextSeq uint64
}

// NewEventQueue creates an empty queue; capacity is fixed for its life.
func NewEventQueue(capacity uint32) *EventQueue {
	return &EventQueue{buf: make([]Event, capacity)}
}

func (q *EventQueue) Len() int { return int(q.count) }
func (q *EventQueue) Cap() int { return len(q.buf) }

// NextSeq is the sequence number the next pushed event will carry.
func (q *EventQueue) NextSeq() uint64 { return q.nextSeq }

// Push assigns the next sequence number to ev and appends it, dropping
// the oldest entry if the ring is full. The stored event is returned.
func (q *EventQueue) Push(ev Event) Event {
	ev.Seq = q.nextSeq
	q.nextSeq++
	if q.count == uint32(len(q.buf)) {
		// Lossy-but-bounded degradation: overwrite the oldest.
		q.buf[q.head] = ev
		q.head = (q.head + 1) % uint32(len(q.buf))
		return ev
	}
	q.buf[(q.head+q.count)%uint32(len(q.buf))] = ev
	q.count++
	return ev
}

// Peek returns the oldest unconsumed event without removing it.
func (q *EventQueue) Peek() (Event, bool) {
	if q.count == 0 {
		return Event{}, false
	}
	return q.buf[q.head], true
}

// Pop removes and returns the oldest unconsumed event.
func (q *EventQueue) Pop() (Event, bool) {
	ev, ok := q.Peek()
	if !ok {
		return Event{}, false
	}
	q.head = (q.head + 1) % uint32(len(q.buf))
	q.count--
	return ev, true
}

// EventQueueBinarySize is the marshaled size for the given capacity.
func EventQueueBinarySize(capacity uint32) int {
	return 20 + int(capacity)*EventBinarySize
}

// AppendBinary marshals the queue header and the full ring region.
func (q *EventQueue) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, q.head)
	b = binary.LittleEndian.AppendUint32(b, q.count)
	b = binary.LittleEndian.AppendUint64(b, q.nextSeq)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(q.buf)))
	for _, ev := range q.buf {
		b = ev.AppendBinary(b)
	}
	return b
}

// UnmarshalEventQueue reads an image written by AppendBinary.
func UnmarshalEventQueue(b []byte, capacity uint32) (*EventQueue, error) {
	if len(b) < EventQueueBinarySize(capacity) {
		return nil, fmt.Errorf("%w: short buffer", ErrCorruptQueue)
	}
	q := NewEventQueue(capacity)
	q.head = binary.LittleEndian.Uint32(b[0:])
	q.count = binary.LittleEndian.Uint32(b[4:])
	q.nextSeq = binary.LittleEndian.Uint64(b[8:])
	if stored := binary.LittleEndian.Uint32(b[16:]); stored != capacity {
		return nil, fmt.Errorf("%w: capacity %d, image says %d", ErrCorruptQueue, capacity, stored)
	}
	if q.head >= capacity && capacity > 0 || q.count > capacity {
		return nil, fmt.Errorf("%w: head %d count %d cap %d", ErrCorruptQueue, q.head, q.count, capacity)
	}
	off := 20
	for i := range q.buf {
		ev, err := DecodeEvent(b[off:])
		if err != nil {
			return nil, err
		}
		q.buf[i] = ev
		off += EventBinarySize
	}
	return q, nil
}
