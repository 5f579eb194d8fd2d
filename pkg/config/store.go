package config

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket      = "lx200"
	idBucket    = "device_ids"
	mountConfig = "mount_config"
)

// Store persists the mount configuration and the unique IDs of the
// published devices.
type Store struct {
	db *bolt.DB
}

// NewStore opens the store on db and writes seed as the mount
// configuration if none is stored yet.
func NewStore(db *bolt.DB, seed MountConfig) (*Store, error) {
	st := Store{db: db}

	if err := st.setDefaults(seed); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) setDefaults(seed MountConfig) error {
	if _, err := s.GetMountConfig(); err != nil {
		log.Infof("Setting default mount config")
		return s.SetMountConfig(seed)
	}
	return nil
}

// SetMountConfig validates cfg and saves it as a json string.
func (s *Store) SetMountConfig(cfg MountConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(mountConfig), value)
	})
}

// GetMountConfig retrieves the mount configuration.
func (s *Store) GetMountConfig() (MountConfig, error) {
	var cfg MountConfig

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(mountConfig))
		if value == nil {
			return fmt.Errorf("key %s not found", mountConfig)
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}

// DeviceID returns the UniqueID of the named device, generating and saving
// a new one on first use.
func (s *Store) DeviceID(name string) (string, error) {
	var id string

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(idBucket))
		if err != nil {
			return err
		}

		if value := b.Get([]byte(name)); value != nil {
			id = string(value)
			return nil
		}
		id = uuid.NewString()
		return b.Put([]byte(name), []byte(id))
	})

	return id, err
}
