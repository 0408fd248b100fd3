// Package store archives session histories in a bbolt database so a
// server can restore its sessions after a restart.
//
// Every session is a bucket under the root "sessions" bucket holding a
// JSON "meta" record and a "log" bucket of marshaled messages keyed by
// big-endian sequence number.
package store

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gogpu/paintnet"
	"github.com/gogpu/paintnet/protocol"
)

// Store errors.
var (
	// ErrNoSession is returned for a session id that is not archived.
	ErrNoSession = errors.New("store: no such session")

	// ErrExists is returned when creating a session that is archived.
	ErrExists = errors.New("store: session already exists")
)

var (
	sessionsBucket = []byte("sessions")
	logBucket      = []byte("log")
	metaKey        = []byte("meta")
)

// Meta describes an archived session.
type Meta struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Created time.Time `json:"created"`

	// InitSize is the byte size of the initialization sequence at the
	// start of the log. Create and Compact set it.
	InitSize int `json:"initSize"`
}

// Store is a bbolt-backed session archive. It is safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the archive at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init %s: %w", path, err)
	}
	paintnet.Logger().Info("store: opened", "path", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

// Create archives a new session with its initialization sequence, which
// takes sequence numbers from 0.
func (s *Store) Create(meta Meta, initial []protocol.Message) error {
	meta.InitSize = protocol.Size(initial)
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: encode meta: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(sessionsBucket)
		if root.Bucket([]byte(meta.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrExists, meta.ID)
		}
		b, err := root.CreateBucket([]byte(meta.ID))
		if err != nil {
			return fmt.Errorf("store: create %s: %w", meta.ID, err)
		}
		if err := b.Put(metaKey, data); err != nil {
			return err
		}
		return putLog(b, initial)
	})
}

// putLog creates the log bucket of b holding msgs from sequence 0.
func putLog(b *bolt.Bucket, msgs []protocol.Message) error {
	entries, err := b.CreateBucket(logBucket)
	if err != nil {
		return err
	}
	for i, m := range msgs {
		if err := entries.Put(seqKey(uint64(i)), protocol.Marshal(m)); err != nil {
			return err
		}
	}
	return nil
}

// Compact replaces the log of a session with snapshot, which becomes its
// initialization sequence and takes sequence numbers from 0.
func (s *Store) Compact(sessionID string, snapshot []protocol.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket).Bucket([]byte(sessionID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
		}
		var meta Meta
		if err := json.Unmarshal(b.Get(metaKey), &meta); err != nil {
			return fmt.Errorf("store: decode meta of %s: %w", sessionID, err)
		}
		meta.InitSize = protocol.Size(snapshot)
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("store: encode meta: %w", err)
		}
		if err := b.Put(metaKey, data); err != nil {
			return err
		}
		if err := b.DeleteBucket(logBucket); err != nil {
			return err
		}
		if err := putLog(b, snapshot); err != nil {
			return err
		}
		paintnet.Logger().Info("store: compacted", "session", sessionID, "messages", len(snapshot), "bytes", meta.InitSize)
		return nil
	})
}

// Record appends one message to the log of a session.
// It implements session.Sink.
func (s *Store) Record(ctx context.Context, sessionID string, seq uint64, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket).Bucket([]byte(sessionID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
		}
		return b.Bucket(logBucket).Put(seqKey(seq), protocol.Marshal(msg))
	})
}

// Load returns the metadata and full message log of a session.
func (s *Store) Load(sessionID string) (Meta, []protocol.Message, error) {
	var (
		meta Meta
		msgs []protocol.Message
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket).Bucket([]byte(sessionID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
		}
		if err := json.Unmarshal(b.Get(metaKey), &meta); err != nil {
			return fmt.Errorf("store: decode meta of %s: %w", sessionID, err)
		}
		return b.Bucket(logBucket).ForEach(func(k, v []byte) error {
			m, err := protocol.Unmarshal(v)
			if err != nil {
				return fmt.Errorf("store: %s seq %d: %w", sessionID, binary.BigEndian.Uint64(k), err)
			}
			msgs = append(msgs, m)
			return nil
		})
	})
	if err != nil {
		return Meta{}, nil, err
	}
	return meta, msgs, nil
}

// Sessions returns the metadata of every archived session, oldest first.
func (s *Store) Sessions() ([]Meta, error) {
	var out []Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(sessionsBucket)
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			var meta Meta
			if err := json.Unmarshal(root.Bucket(k).Get(metaKey), &meta); err != nil {
				return fmt.Errorf("store: decode meta of %s: %w", k, err)
			}
			out = append(out, meta)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Meta) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Delete removes a session from the archive.
func (s *Store) Delete(sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(sessionsBucket)
		if root.Bucket([]byte(sessionID)) == nil {
			return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
		}
		return root.DeleteBucket([]byte(sessionID))
	})
}
