// Package journal is the instruction write-ahead journal: an
// append-only sequence of CRC-framed records across size-rotated
// segment files. It provides per-instruction durability between
// snapshots of the region image.
package journal

import (
	"encoding/binary"
	"os"
	"path/filepath"
)

// Config controls where segments live and when they rotate.
type Config struct {
	Dir         string
	SegmentSize int64
}

// DefaultSegmentSize rotates segments at 2 MiB.
const DefaultSegmentSize = 2 << 20

// Journal appends framed records to the current segment.
type Journal struct {
	dir      string
	segSize  int64
	current  *segment
	segIndex int
}

// Open creates the journal directory if needed and opens the first
// segment for appending. Existing segments are kept; replay reads them
// before any new appends.
func Open(cfg Config) (*Journal, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	index, err := nextSegmentIndex(cfg.Dir)
	if err != nil {
		return nil, err
	}
	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}
	return &Journal{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: index,
	}, nil
}

// Append frames and writes one record:
//
//	[kind:1][seq:8][time:8][len:4][payload][crc:4]
//
// The CRC covers the header and payload.
func (j *Journal) Append(r *Record) error {
	payloadLen := uint32(len(r.Data))
	buf := make([]byte, 21+payloadLen+4)

	buf[0] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[21:], r.Data)
	binary.BigEndian.PutUint32(buf[21+payloadLen:], checksum(buf[:21+payloadLen]))

	if err := j.current.append(buf); err != nil {
		return err
	}
	if j.current.offset >= j.segSize {
		return j.rotate()
	}
	return nil
}

func (j *Journal) rotate() error {
	_ = j.current.close()
	j.segIndex++
	seg, err := openSegment(j.dir, j.segIndex)
	if err != nil {
		return err
	}
	j.current = seg
	return nil
}

// TruncateBefore removes closed segments whose records are all covered
// by a persisted snapshot at the given sequence.
func (j *Journal) TruncateBefore(seq uint64) error {
	files, err := filepath.Glob(filepath.Join(j.dir, "segment-*.journal"))
	if err != nil {
		return err
	}
	for _, path := range files {
		if path == j.current.path {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

// Close closes the active segment.
func (j *Journal) Close() error {
	return j.current.close()
}
