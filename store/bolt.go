package store

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"go.etcd.io/bbolt"

	"github.com/Syncre-App/Mobile-sub001/e2ee"
)

var (
	deviceBucket = []byte("device")
	seenBucket   = []byte("last_seen")

	keyDeviceID = []byte("id")
	keyBoxPub   = []byte("box_pub")
	keyBoxPriv  = []byte("box_priv")
)

// boltStore implements `IDeviceStore` and `IMarkStore` on a local bbolt file.
type boltStore struct {
	*bbolt.DB
}

func Open(path string) (*boltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{deviceBucket, seenBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &boltStore{db}, nil
}

func (s *boltStore) DeviceID() (string, error) {
	var id string
	err := s.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(deviceBucket)
		if v := b.Get(keyDeviceID); len(v) > 0 {
			id = string(v)
			return nil
		}
		id = uuid.New()
		glog.Infof("DeviceID(): generated device id %s", id)
		return b.Put(keyDeviceID, []byte(id))
	})
	return id, err
}

func (s *boltStore) BoxKeys() (pub, priv *[32]byte, err error) {
	err = s.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(deviceBucket)
		p, k := b.Get(keyBoxPub), b.Get(keyBoxPriv)
		if len(p) == 32 && len(k) == 32 {
			pub, priv = new([32]byte), new([32]byte)
			copy(pub[:], p)
			copy(priv[:], k)
			return nil
		}

		var err error
		if pub, priv, err = e2ee.GenerateKeys(); err != nil {
			return err
		}
		if err := b.Put(keyBoxPub, pub[:]); err != nil {
			return err
		}
		return b.Put(keyBoxPriv, priv[:])
	})
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func (s *boltStore) LastSeen(chatID string) (string, error) {
	var id string
	err := s.View(func(tx *bbolt.Tx) error {
		id = string(tx.Bucket(seenBucket).Get([]byte(chatID)))
		return nil
	})
	return id, err
}

func (s *boltStore) SetLastSeen(chatID, messageID string) error {
	return s.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(seenBucket)
		if messageID == "" {
			return b.Delete([]byte(chatID))
		}
		return b.Put([]byte(chatID), []byte(messageID))
	})
}
