package recstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lightningnetwork/peerrank/autopilot"
	"go.etcd.io/bbolt"
)

const (
	// DBFilename is the name of the database file within the data
	// directory.
	DBFilename = "recommendations.db"

	// DefaultMaxHistory is the default number of published sets kept.
	DefaultMaxHistory = 100

	dbFilePermission = 0600

	dbOpenTimeout = 5 * time.Second
)

var (
	// recommendationsBucket holds every stored recommendation set keyed
	// by its big endian cycle number.
	recommendationsBucket = []byte("recommendations")

	// ErrNoRecommendations is returned when no recommendation set has
	// been stored yet.
	ErrNoRecommendations = errors.New("no recommendations stored")

	byteOrder = binary.BigEndian
)

// Store persists published recommendation sets so the last list survives a
// restart.
type Store struct {
	db         *bbolt.DB
	maxHistory int
}

// Open opens or creates the store within dataDir. Only the maxHistory most
// recent sets are retained; zero keeps every set.
func Open(dataDir string, maxHistory int) (*Store, error) {
	if maxHistory < 0 {
		return nil, fmt.Errorf("invalid history size: %d", maxHistory)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	path := filepath.Join(dataDir, DBFilename)
	db, err := bbolt.Open(path, dbFilePermission, &bbolt.Options{
		Timeout: dbOpenTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open %v: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recommendationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debugf("Opened recommendation store at %v", path)

	return &Store{
		db:         db,
		maxHistory: maxHistory,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func cycleKey(cycle uint64) []byte {
	var k [8]byte
	byteOrder.PutUint64(k[:], cycle)

	return k[:]
}

// Put stores the passed set under its cycle number, replacing any set
// stored for the same cycle, and prunes the history.
func (s *Store) Put(set *autopilot.RecommendationSet) error {
	var b bytes.Buffer
	if err := serializeSet(&b, set); err != nil {
		return fmt.Errorf("unable to serialize cycle %d: %w", set.Cycle,
			err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(recommendationsBucket)
		err := bucket.Put(cycleKey(set.Cycle), b.Bytes())
		if err != nil {
			return err
		}

		if s.maxHistory == 0 {
			return nil
		}

		var numSets int
		err = bucket.ForEach(func(_, _ []byte) error {
			numSets++
			return nil
		})
		if err != nil {
			return err
		}

		excess := numSets - s.maxHistory
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}

		return nil
	})
}

// Last returns the set with the highest cycle number.
func (s *Store) Last() (*autopilot.RecommendationSet, error) {
	var set *autopilot.RecommendationSet
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(recommendationsBucket).Cursor().Last()
		if v == nil {
			return ErrNoRecommendations
		}

		var err error
		set, err = deserializeSet(bytes.NewReader(v))

		return err
	})
	if err != nil {
		return nil, err
	}

	return set, nil
}

// Fetch returns the set published by the given cycle.
func (s *Store) Fetch(cycle uint64) (*autopilot.RecommendationSet, error) {
	var set *autopilot.RecommendationSet
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(recommendationsBucket).Get(cycleKey(cycle))
		if v == nil {
			return fmt.Errorf("cycle %d: %w", cycle,
				ErrNoRecommendations)
		}

		var err error
		set, err = deserializeSet(bytes.NewReader(v))

		return err
	})
	if err != nil {
		return nil, err
	}

	return set, nil
}

// Cycles returns the stored cycle numbers in ascending order.
func (s *Store) Cycles() ([]uint64, error) {
	var cycles []uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(recommendationsBucket).ForEach(
			func(k, _ []byte) error {
				cycles = append(cycles, byteOrder.Uint64(k))
				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return cycles, nil
}
