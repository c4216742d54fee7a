package queue

import (
	"testing"

	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
)

func TestEventQueueFIFOAndSeq(t *testing.T) {
	q := NewEventQueue(4)
	for i := 0; i < 3; i++ {
		ev := q.Push(Event{Tag: EventFill, Quantity: uint64(i)})
		if ev.Seq != uint64(i) {
			t.Fatalf("seq = %d, want %d", ev.Seq, i)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	for i := 0; i < 3; i++ {
		ev, ok := q.Pop()
		if !ok || ev.Quantity != uint64(i) {
			t.Fatalf("pop %d: got %+v ok=%v", i, ev, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("pop from empty queue succeeded")
	}
}

func TestEventQueueOverwritesOldestWhenFull(t *testing.T) {
	q := NewEventQueue(2)
	q.Push(Event{Quantity: 0})
	q.Push(Event{Quantity: 1})
	q.Push(Event{Quantity: 2}) // drops seq 0

	if q.Len() != 2 {
		t.Fatalf("len = %d, want capacity 2", q.Len())
	}
	ev, _ := q.Pop()
	if ev.Seq != 1 {
		t.Fatalf("oldest surviving seq = %d, want 1 (seq 0 overwritten)", ev.Seq)
	}
	// The consumer sees the gap: it last consumed nothing, and the
	// first available seq is 1, so seq 0 was lost.
	ev, _ = q.Pop()
	if ev.Seq != 2 || ev.Quantity != 2 {
		t.Fatalf("got %+v, want seq 2", ev)
	}
}

func TestEventEncodeDecode(t *testing.T) {
	ev := Event{
		Tag:       EventFill,
		Side:      orderbook.Ask,
		OwnerSlot: 7,
		Seq:       99,
		OrderID:   orderbook.NewKey(orderbook.Ask, 105, 3),
		TakerID:   orderbook.NewKey(orderbook.Bid, 105, 4),
		Price:     105,
		Quantity:  12,
	}
	b := ev.AppendBinary(nil)
	if len(b) != EventBinarySize {
		t.Fatalf("encoded size %d, want %d", len(b), EventBinarySize)
	}
	got, err := DecodeEvent(b)
	if err != nil {
		t.Fatal(err)
	}
	if got != ev {
		t.Fatalf("round trip: %+v != %+v", got, ev)
	}
}

func TestEventQueueMarshalRoundTrip(t *testing.T) {
	q := NewEventQueue(4)
	q.Push(Event{Tag: EventFill, Quantity: 1})
	q.Push(Event{Tag: EventOut, Quantity: 2})
	q.Pop()

	img := q.AppendBinary(nil)
	got, err := UnmarshalEventQueue(img, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 1 || got.NextSeq() != 2 {
		t.Fatalf("len=%d nextSeq=%d", got.Len(), got.NextSeq())
	}
	ev, _ := got.Pop()
	if ev.Quantity != 2 || ev.Seq != 1 {
		t.Fatalf("got %+v", ev)
	}
	if _, err := UnmarshalEventQueue(img, 8); err == nil {
		t.Fatal("expected capacity mismatch error")
	}
}

func TestRequestQueueRejectsWhenFull(t *testing.T) {
	q := NewRequestQueue(2)
	r, err := NewRequest([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Push(r); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(r); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(r); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d after rejected push", q.Len())
	}
}

func TestRequestQueueFIFOWrapAround(t *testing.T) {
	q := NewRequestQueue(2)
	push := func(s string) {
		r, _ := NewRequest([]byte(s))
		if err := q.Push(r); err != nil {
			t.Fatalf("push %q: %v", s, err)
		}
	}
	push("a")
	push("b")
	if r, _ := q.Pop(); string(r.Bytes()) != "a" {
		t.Fatal("expected a first")
	}
	push("c") // wraps
	if r, _ := q.Pop(); string(r.Bytes()) != "b" {
		t.Fatal("expected b second")
	}
	if r, _ := q.Pop(); string(r.Bytes()) != "c" {
		t.Fatal("expected c third")
	}
}

func TestRequestTooLarge(t *testing.T) {
	if _, err := NewRequest(make([]byte, RequestDataSize+1)); err == nil {
		t.Fatal("expected ErrRequestTooLarge")
	}
}

func TestRequestQueueMarshalRoundTrip(t *testing.T) {
	q := NewRequestQueue(3)
	r, _ := NewRequest([]byte{1, 2, 3})
	_ = q.Push(r)
	img := q.AppendBinary(nil)
	got, err := UnmarshalRequestQueue(img, 3)
	if err != nil {
		t.Fatal(err)
	}
	out, ok := got.Pop()
	if !ok || string(out.Bytes()) != string([]byte{1, 2, 3}) {
		t.Fatalf("round trip: %v ok=%v", out.Bytes(), ok)
	}
}
