package mount_simulator

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket = "mount_simulator"

	defaultProduct   = "AM5"
	defaultFirmware  = "1.3.2"
	defaultSlewSpeed = 6.0 // degrees per second
	defaultGuideRate = 0.5 // fraction of sidereal

	simulatorConfigKey = "simulator_config"
)

type SimulatorConfig struct {
	Product   string  `json:"product"`
	Firmware  string  `json:"firmware"`
	Latitude  float64 `json:"latitude"`   // degrees, north positive
	Longitude float64 `json:"longitude"`  // degrees, east positive
	SlewSpeed float64 `json:"slew_speed"` // degrees per second
	GuideRate float64 `json:"guide_rate"` // fraction of sidereal
}

// DefaultConfig is an AM5 at the Greenwich meridian.
func DefaultConfig() SimulatorConfig {
	return SimulatorConfig{
		Product:   defaultProduct,
		Firmware:  defaultFirmware,
		Latitude:  51.4769,
		SlewSpeed: defaultSlewSpeed,
		GuideRate: defaultGuideRate,
	}
}

type Store struct {
	db *bolt.DB
}

func NewStore(db *bolt.DB) (*Store, error) {
	st := Store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) setDefaults() error {
	if _, err := s.GetSimulatorConfig(); err != nil {
		log.Infof("Setting default simulator config")
		return s.SetSimulatorConfig(DefaultConfig())
	}
	return nil
}

// SetSimulatorConfig saves the simulator configuration as a json string in the database.
func (s *Store) SetSimulatorConfig(cfg SimulatorConfig) error {
	if cfg.SlewSpeed <= 0 {
		return fmt.Errorf("slew speed must be positive")
	}
	if cfg.GuideRate <= 0 || cfg.GuideRate >= 1 {
		return fmt.Errorf("guide rate must lie between 0 and 1")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, _ := json.Marshal(cfg)
		return b.Put([]byte(simulatorConfigKey), value)
	})
}

// GetSimulatorConfig retrieves the simulator configuration from the database.
func (s *Store) GetSimulatorConfig() (SimulatorConfig, error) {
	var cfg SimulatorConfig

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(simulatorConfigKey))
		if value == nil {
			return fmt.Errorf("key %s not found", simulatorConfigKey)
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
