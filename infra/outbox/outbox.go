// Package outbox is the durable staging area between event consumption
// and the external broadcast. Consumed events land here as NEW, move to
// SENT when a publish attempt starts, and are deleted once the broker
// acknowledges. A crash between consume and publish therefore never
// loses a fill: the broadcaster rescans NEW and SENT on the next tick.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// State of one staged entry.
type State uint8

const (
	StateNew State = iota
	StateSent
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	default:
		return "UNKNOWN"
	}
}

// Entry is one staged event, keyed by its queue sequence.
type Entry struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// value encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeValue(e Entry) []byte {
	buf := make([]byte, 13+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	copy(buf[13:], e.Payload)
	return buf
}

func decodeValue(seq uint64, b []byte) (Entry, error) {
	if len(b) < 13 {
		return Entry{}, errors.New("outbox: short entry value")
	}
	return Entry{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[13:]...),
	}, nil
}

// Outbox is a pebble-backed entry store.
type Outbox struct {
	db *pebble.DB
}

// Open opens the store at dir with pebble's own WAL enabled.
func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false,
	})
	if err != nil {
		return nil, err
	}
	return &Outbox{db: db}, nil
}

// Close closes the underlying store.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Put stages a consumed event as NEW. Idempotent per sequence.
func (o *Outbox) Put(seq uint64, payload []byte) error {
	return o.db.Set(keyFor(seq), encodeValue(Entry{
		Seq:     seq,
		State:   StateNew,
		Payload: payload,
	}), pebble.Sync)
}

// MarkSent records a publish attempt, bumping the retry count.
func (o *Outbox) MarkSent(seq uint64) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	e.State = StateSent
	e.Retries++
	e.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeValue(e), pebble.Sync)
}

// MarkAcked deletes an acknowledged entry.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

// Get reads one entry.
func (o *Outbox) Get(seq uint64) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Entry{}, err
	}
	defer closer.Close()
	return decodeValue(seq, val)
}

// ScanPending walks every staged entry in sequence order. Both NEW and
// SENT entries are pending: a SENT entry survived a crash before its
// ack and must be republished (the feed is at-least-once).
func (o *Outbox) ScanPending(fn func(Entry) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("event/"),
		UpperBound: []byte("event/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeValue(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(b), "event/%d", &seq)
	return seq, err
}
