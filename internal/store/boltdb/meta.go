package boltdb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/iudanet/hearthsync/internal/store"
)

var (
	bucketMeta  = []byte("meta")
	keyDeviceID = []byte("device_id")
)

// DeviceID returns this database's stable device identifier, minting one
// on first use. The id marks every local write's lastModifiedBy and
// anchors echo suppression, so it must survive restarts.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", store.ErrStorageClosed
	}

	var id string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if data := bucket.Get(keyDeviceID); data != nil {
			id = string(data)
			return nil
		}
		id = uuid.New().String()
		return bucket.Put(keyDeviceID, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("failed to load device id: %w", err)
	}
	return id, nil
}
