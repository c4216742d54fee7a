package journal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ReplayHandler receives each journaled record in append order.
type ReplayHandler func(*Record) error

// maxRecordPayload bounds the frame length field before any allocation.
// Payloads are encoded instructions, orders of magnitude below this;
// a larger length is frame corruption, caught here instead of by the
// CRC check after a multi-gigabyte allocation.
const maxRecordPayload = 1 << 20

// Replay reads every segment in order, verifying CRCs and sequence
// monotonicity, and hands records newer than afterSeq to the handler.
// Records at or below afterSeq are already covered by the loaded
// snapshot and are skipped.
func Replay(dir string, afterSeq uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := sortedSegments(dir)
	if err != nil {
		return 0, err
	}
	lastSeq = afterSeq
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return lastSeq, err
		}
		for {
			rec, err := readRecord(f)
			if err != nil {
				if err == io.EOF {
					break
				}
				_ = f.Close()
				return lastSeq, fmt.Errorf("journal: %s: %w", path, err)
			}
			if rec.Seq <= afterSeq {
				continue
			}
			if rec.Seq <= lastSeq {
				_ = f.Close()
				return lastSeq, fmt.Errorf("journal: non-monotonic seq %d after %d", rec.Seq, lastSeq)
			}
			lastSeq = rec.Seq
			if err := fn(rec); err != nil {
				_ = f.Close()
				return lastSeq, err
			}
		}
		_ = f.Close()
	}
	return lastSeq, nil
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, 21)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			// Torn tail write; treat as end of journal.
			return nil, io.EOF
		}
		return nil, err
	}
	kind := Kind(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])
	if l > maxRecordPayload {
		return nil, fmt.Errorf("payload length %d at seq %d exceeds %d", l, seq, maxRecordPayload)
	}

	data := make([]byte, l+4)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])
	if !checksumValid(append(header, payload...), crc) {
		return nil, fmt.Errorf("crc mismatch at seq %d", seq)
	}
	return &Record{Kind: kind, Seq: seq, Time: int64(ts), Data: payload}, nil
}

// maxSeqInSegment scans one segment for its highest sequence. Used by
// snapshot-based truncation only.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	for {
		header := make([]byte, 21)
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return max, nil
			}
			return max, err
		}
		if seq := binary.BigEndian.Uint64(header[1:9]); seq > max {
			max = seq
		}
		payloadLen := binary.BigEndian.Uint32(header[17:21])
		if payloadLen > maxRecordPayload {
			return max, fmt.Errorf("journal: %s: payload length %d exceeds %d", path, payloadLen, maxRecordPayload)
		}
		if _, err := f.Seek(int64(payloadLen+4), io.SeekCurrent); err != nil {
			return max, err
		}
	}
}
