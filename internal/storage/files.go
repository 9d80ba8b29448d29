package storage

import (
	"fmt"

	"carechat/internal/models"

	"go.etcd.io/bbolt"
)

// UpsertAttachment stores attachment metadata keyed by its id.
func (s *BboltStorage) UpsertAttachment(meta DBAttachment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAttachments)
		data, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal attachment metadata: %w", err)
		}
		return b.Put(meta.Key(), data)
	})
}

// GetAttachment returns metadata for the given id or models.ErrNotFound.
func (s *BboltStorage) GetAttachment(id string) (DBAttachment, error) {
	var meta DBAttachment
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAttachments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("attachment %s: %w", id, models.ErrNotFound)
		}
		return meta.UnmarshalBinary(data)
	})
	return meta, err
}

// ListAttachments returns metadata of every attachment uploaded by clientID.
func (s *BboltStorage) ListAttachments(clientID string) ([]DBAttachment, error) {
	var result []DBAttachment
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAttachments)
		return b.ForEach(func(k, v []byte) error {
			var meta DBAttachment
			if err := meta.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("corrupt attachment %s: %w", string(k), err)
			}
			if meta.ClientID == clientID {
				result = append(result, meta)
			}
			return nil
		})
	})
	return result, err
}
