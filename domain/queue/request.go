package queue

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrQueueFull rejects an append to a full request queue. The
	// submitter is the one that backs off; matching state is untouched.
	ErrQueueFull = errors.New("queue: request queue full")

	// ErrRequestTooLarge rejects an encoded instruction that does not
	// fit a fixed-size ring cell.
	ErrRequestTooLarge = errors.New("queue: request exceeds cell size")
)

// RequestDataSize is the fixed cell payload size. Every instruction
// encoding fits; the bound is part of the persisted layout.
const RequestDataSize = 96

// Request is one queued instruction, stored verbatim in its wire
// encoding so the ring region stays fixed-width.
type Request struct {
	Length uint16
	Data   [RequestDataSize]byte
}

// NewRequest wraps an encoded instruction into a ring cell.
func NewRequest(encoded []byte) (Request, error) {
	if len(encoded) > RequestDataSize {
		return Request{}, fmt.Errorf("%w: %d bytes", ErrRequestTooLarge, len(encoded))
	}
	r := Request{Length: uint16(len(encoded))}
	copy(r.Data[:], encoded)
	return r, nil
}

// Bytes returns the encoded instruction.
func (r Request) Bytes() []byte { return r.Data[:r.Length] }

// requestBinarySize is the on-region footprint of one cell.
const requestBinarySize = 2 + RequestDataSize

// RequestQueue is the fixed-capacity FIFO ring between order submission
// and the matching engine. Unlike the event queue it rejects appends
// when full: a submitter can be told to retry, a matcher cannot.
type RequestQueue struct {
	buf   []Request
	head  uint32
	count uint32
}

// NewRequestQueue creates an empty queue; capacity is fixed for its life.
func NewRequestQueue(capacity uint32) *RequestQueue {
	return &RequestQueue{buf: make([]Request, capacity)}
}

func (q *RequestQueue) Len() int { return int(q.count) }
func (q *RequestQueue) Cap() int { return len(q.buf) }

// Push appends a request, or returns ErrQueueFull.
func (q *RequestQueue) Push(r Request) error {
	if q.count == uint32(len(q.buf)) {
		return ErrQueueFull
	}
	q.buf[(q.head+q.count)%uint32(len(q.buf))] = r
	q.count++
	return nil
}

// Pop removes and returns the oldest request.
func (q *RequestQueue) Pop() (Request, bool) {
	if q.count == 0 {
		return Request{}, false
	}
	r := q.buf[q.head]
	q.head = (q.head + 1) % uint32(len(q.buf))
	q.count--
	return r, true
}

// RequestQueueBinarySize is the marshaled size for the given capacity.
func RequestQueueBinarySize(capacity uint32) int {
	return 12 + int(capacity)*requestBinarySize
}

// AppendBinary marshals the queue header and the full ring region.
func (q *RequestQueue) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, q.head)
	b = binary.LittleEndian.AppendUint32(b, q.count)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(q.buf)))
	for i := range q.buf {
		b = binary.LittleEndian.AppendUint16(b, q.buf[i].Length)
		b = append(b, q.buf[i].Data[:]...)
	}
	return b
}

// UnmarshalRequestQueue reads an image written by AppendBinary.
func UnmarshalRequestQueue(b []byte, capacity uint32) (*RequestQueue, error) {
	if len(b) < RequestQueueBinarySize(capacity) {
		return nil, fmt.Errorf("%w: short buffer", ErrCorruptQueue)
	}
	q := NewRequestQueue(capacity)
	q.head = binary.LittleEndian.Uint32(b[0:])
	q.count = binary.LittleEndian.Uint32(b[4:])
	if stored := binary.LittleEndian.Uint32(b[8:]); stored != capacity {
		return nil, fmt.Errorf("%w: capacity %d, image says %d", ErrCorruptQueue, capacity, stored)
	}
	if q.head >= capacity && capacity > 0 || q.count > capacity {
		return nil, fmt.Errorf("%w: head %d count %d cap %d", ErrCorruptQueue, q.head, q.count, capacity)
	}
	off := 12
	for i := range q.buf {
		length := binary.LittleEndian.Uint16(b[off:])
		if int(length) > RequestDataSize {
			return nil, fmt.Errorf("%w: cell length %d", ErrCorruptQueue, length)
		}
		q.buf[i].Length = length
		copy(q.buf[i].Data[:], b[off+2:off+2+RequestDataSize])
		off += requestBinarySize
	}
	return q, nil
}
