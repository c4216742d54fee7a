// Package sequence mints journal record sequence numbers.
package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic sequence numbers for journal
// records. It is replay-safe: after startup replay it resumes from the
// last journaled sequence.
type Sequencer struct {
	next atomic.Uint64
}

// New starts the sequencer at the given value; Next returns start+1
// first. Fresh markets start at 0.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset jumps to a specific value. Only called after journal replay.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
