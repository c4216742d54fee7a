package journal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	payloads := [][]byte{{1, 2, 3}, {4}, {5, 6, 7, 8, 9}}
	for i, p := range payloads {
		if err := j.Append(NewRecord(1, uint64(i+1), p)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	var got [][]byte
	last, err := Replay(dir, 0, func(r *Record) error {
		got = append(got, r.Data)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if last != 3 || len(got) != 3 {
		t.Fatalf("last=%d records=%d", last, len(got))
	}
	for i := range payloads {
		if string(got[i]) != string(payloads[i]) {
			t.Fatalf("record %d: got %v want %v", i, got[i], payloads[i])
		}
	}
}

func TestReplaySkipsSnapshotCovered(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(1); seq <= 5; seq++ {
		if err := j.Append(NewRecord(1, seq, []byte{byte(seq)})); err != nil {
			t.Fatal(err)
		}
	}
	j.Close()

	var seqs []uint64
	_, err = Replay(dir, 3, func(r *Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 2 || seqs[0] != 4 || seqs[1] != 5 {
		t.Fatalf("want seqs [4 5], got %v", seqs)
	}
}

func TestRotationAndTruncate(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, 40)
	for seq := uint64(1); seq <= 6; seq++ {
		if err := j.Append(NewRecord(1, seq, payload)); err != nil {
			t.Fatal(err)
		}
	}

	segs, _ := sortedSegments(dir)
	if len(segs) < 3 {
		t.Fatalf("expected rotation, have %d segments", len(segs))
	}

	if err := j.TruncateBefore(4); err != nil {
		t.Fatal(err)
	}
	after, _ := sortedSegments(dir)
	if len(after) >= len(segs) {
		t.Fatal("truncate removed nothing")
	}
	j.Close()

	// Everything after the truncation point must still replay.
	var seqs []uint64
	if _, err := Replay(dir, 4, func(r *Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(seqs) == 0 || seqs[len(seqs)-1] != 6 {
		t.Fatalf("post-truncate replay lost records: %v", seqs)
	}
}

func TestCorruptRecordDetected(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(NewRecord(1, 1, []byte("payload"))); err != nil {
		t.Fatal(err)
	}
	j.Close()

	segs, _ := sortedSegments(dir)
	b, err := os.ReadFile(segs[0])
	if err != nil {
		t.Fatal(err)
	}
	b[22] ^= 0xff // inside the payload
	if err := os.WriteFile(segs[0], b, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Replay(dir, 0, func(*Record) error { return nil })
	if err == nil {
		t.Fatal("corrupt record accepted")
	}
}

func TestOversizedLengthRejected(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(NewRecord(1, 1, []byte("payload"))); err != nil {
		t.Fatal(err)
	}
	j.Close()

	segs, _ := sortedSegments(dir)
	b, err := os.ReadFile(segs[0])
	if err != nil {
		t.Fatal(err)
	}
	// An implausible length field must fail the frame check, not force
	// a giant allocation before the CRC is even read.
	binary.BigEndian.PutUint32(b[17:21], 1<<31)
	if err := os.WriteFile(segs[0], b, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Replay(dir, 0, func(*Record) error { return nil }); err == nil {
		t.Fatal("oversized record length accepted")
	}
	if _, err := maxSeqInSegment(segs[0]); err == nil {
		t.Fatal("oversized record length accepted by segment scan")
	}
}

func TestReopenAppendsNewSegment(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(NewRecord(1, 1, []byte("a"))); err != nil {
		t.Fatal(err)
	}
	j.Close()

	j2, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := j2.Append(NewRecord(1, 2, []byte("b"))); err != nil {
		t.Fatal(err)
	}
	j2.Close()

	files, err := filepath.Glob(filepath.Join(dir, "segment-*.journal"))
	if err != nil || len(files) != 2 {
		t.Fatalf("want 2 segments after reopen, got %d (%v)", len(files), err)
	}

	var seqs []uint64
	if _, err := Replay(dir, 0, func(r *Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("want [1 2], got %v", seqs)
	}
}
