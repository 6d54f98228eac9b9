// Package store keeps a local archive of messages the client has seen,
// so a restarted client can show recent history before the backend
// answers. The chat core never reads it on the hot path.
package store

import (
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"palaver/internal/models"
)

var bucketMessages = []byte("messages")

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open message archive: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMessages)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create archive bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record archives one message under its conversation. Re-recording the
// same message overwrites in place, so fan-out deliveries and
// optimistic copies never duplicate.
func (s *Store) Record(msg models.Message) error {
	if msg.ConversationID == "" {
		return errors.New("message missing conversationId")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMsg := toDBMessage(msg)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return convBucket.Put(dbMsg.Key(), data)
	})
}

// Recent returns the newest limit messages of a conversation in
// ascending timestamp order.
func (s *Store) Recent(conversationID string, limit int) ([]models.Message, error) {
	var newest []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil // nothing archived for this conversation
		}

		c := convBucket.Cursor()
		for k, v := c.Last(); k != nil && len(newest) < limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			newest = append(newest, dbMsg.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Walked newest-first; flip to ascending.
	for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
		newest[i], newest[j] = newest[j], newest[i]
	}
	return newest, nil
}

// Conversations lists the conversation ids with archived history.
func (s *Store) Conversations() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEachBucket(func(k []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
