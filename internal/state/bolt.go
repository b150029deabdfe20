package state

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	agentBucket   = []byte("agent")
	serversBucket = []byte("servers")
	agentIDKey    = []byte("agent_id")
)

type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(agentBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(serversBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init state buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) AgentID() (uint32, bool, error) {
	var (
		id    uint32
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(agentBucket).Get(agentIDKey)
		if len(v) != 4 {
			return nil
		}
		id = binary.BigEndian.Uint32(v)
		found = true
		return nil
	})
	return id, found, err
}

func (s *BoltStore) SetAgentID(id uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(agentBucket).Put(agentIDKey, binary.BigEndian.AppendUint32(nil, id))
	})
}

func (s *BoltStore) ServerIndex(name string) (int, error) {
	var index int
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(serversBucket).Get([]byte(name))
		if len(v) == 4 {
			index = int(binary.BigEndian.Uint32(v))
		}
		return nil
	})
	return index, err
}

func (s *BoltStore) SetServerIndex(name string, index int) error {
	if index < 0 {
		return ErrInvalidIndex
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(serversBucket).Put([]byte(name), binary.BigEndian.AppendUint32(nil, uint32(index)))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
