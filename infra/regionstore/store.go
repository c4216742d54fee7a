// Package regionstore persists market region images in pebble, keyed
// by market address. Each image is stored with the journal sequence it
// covers, so startup knows where journal replay must resume.
package regionstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/dvrvsimi/openbook-dex/domain/market"
)

// ErrNotFound reports a market with no persisted image.
var ErrNotFound = errors.New("regionstore: no image for market")

// Store holds region images.
type Store struct {
	db *pebble.DB
}

// Open opens the store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false,
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save durably writes the image together with the journal sequence it
// reflects. value: [journalSeq:8][image...]
func (s *Store) Save(addr market.Address, journalSeq uint64, image []byte) error {
	buf := make([]byte, 8+len(image))
	binary.BigEndian.PutUint64(buf[:8], journalSeq)
	copy(buf[8:], image)
	return s.db.Set(keyFor(addr), buf, pebble.Sync)
}

// Load returns the latest image and the journal sequence it covers.
func (s *Store) Load(addr market.Address) (journalSeq uint64, image []byte, err error) {
	val, closer, err := s.db.Get(keyFor(addr))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, err
	}
	defer closer.Close()
	if len(val) < 8 {
		return 0, nil, errors.New("regionstore: short value")
	}
	journalSeq = binary.BigEndian.Uint64(val[:8])
	image = append([]byte(nil), val[8:]...)
	return journalSeq, image, nil
}

func keyFor(addr market.Address) []byte {
	return []byte(fmt.Sprintf("region/%s", addr))
}
