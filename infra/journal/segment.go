package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type segment struct {
	file   *os.File
	path   string
	offset int64
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.journal", index))
}

func openSegment(dir string, index int) (*segment, error) {
	path := segmentPath(dir, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{file: f, path: path, offset: st.Size()}, nil
}

func (s *segment) append(b []byte) error {
	n, err := s.file.Write(b)
	if err != nil {
		return err
	}
	s.offset += int64(n)
	return nil
}

func (s *segment) close() error {
	return s.file.Close()
}

// sortedSegments returns existing segment paths in index order.
func sortedSegments(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.journal"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// nextSegmentIndex picks the index after the highest existing segment,
// so restarts never append into a segment replay already read.
func nextSegmentIndex(dir string) (int, error) {
	files, err := sortedSegments(dir)
	if err != nil || len(files) == 0 {
		return 0, err
	}
	last := filepath.Base(files[len(files)-1])
	var index int
	if _, err := fmt.Sscanf(last, "segment-%06d.journal", &index); err != nil {
		return 0, err
	}
	return index + 1, nil
}
