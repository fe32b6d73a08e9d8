package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	queueBucket = []byte("guestlist.retry-queue")
	deadBucket  = []byte("guestlist.dead-letter")
	itemsKey    = []byte("items")
)

// Store persists queue items. Implementations must apply Settle atomically.
type Store interface {
	Append(ctx context.Context, it Item) error
	Load(ctx context.Context) ([]Item, error)
	Settle(ctx context.Context, s Settlement) error
	Dead(ctx context.Context) ([]DeadLetter, error)
}

// BoltStore keeps the whole pending sequence under a single key and dead
// letters in their own bucket keyed by item id.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db at %s: %w", path, err)
	}

	// Reason: buckets must exist before any read/write operations
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{queueBucket, deadBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating queue buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Append(_ context.Context, it Item) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)
		items, err := readItems(b)
		if err != nil {
			return err
		}
		return writeItems(b, append(items, it))
	})
}

func (s *BoltStore) Load(_ context.Context) ([]Item, error) {
	var items []Item
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		items, err = readItems(tx.Bucket(queueBucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *BoltStore) Settle(_ context.Context, st Settlement) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)
		items, err := readItems(b)
		if err != nil {
			return err
		}

		drop := make(map[string]bool, len(st.Delivered)+len(st.Dead))
		for _, id := range st.Delivered {
			drop[id] = true
		}
		dead := tx.Bucket(deadBucket)
		for _, d := range st.Dead {
			drop[d.Item.ID] = true
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshaling dead letter %s: %w", d.Item.ID, err)
			}
			if err := dead.Put([]byte(d.Item.ID), data); err != nil {
				return fmt.Errorf("writing dead letter %s: %w", d.Item.ID, err)
			}
		}

		kept := items[:0]
		for _, it := range items {
			if drop[it.ID] {
				continue
			}
			if n, ok := st.Retried[it.ID]; ok {
				it.Retries = n
			}
			kept = append(kept, it)
		}
		return writeItems(b, kept)
	})
}

// Dead returns dropped items, oldest first.
func (s *BoltStore) Dead(_ context.Context) ([]DeadLetter, error) {
	var out []DeadLetter
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(deadBucket).ForEach(func(k, v []byte) error {
			var d DeadLetter
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("unmarshaling dead letter %s: %w", string(k), err)
			}
			out = append(out, d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DroppedAt.Before(out[j].DroppedAt) })
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func readItems(b *bolt.Bucket) ([]Item, error) {
	data := b.Get(itemsKey)
	if data == nil {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		// Reason: a corrupt queue must not block check-ins; start over
		log.WithError(err).Error("discarding unreadable retry queue")
		return nil, nil
	}
	return items, nil
}

func writeItems(b *bolt.Bucket, items []Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling queue items: %w", err)
	}
	if err := b.Put(itemsKey, data); err != nil {
		return fmt.Errorf("writing queue items: %w", err)
	}
	return nil
}
