// Package config loads the server configuration from YAML and environment
// variables and keeps the editable mount settings in a bbolt store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"lx200/pkg/dialect"
	"lx200/pkg/mount"
	"lx200/pkg/transport"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Mount    MountConfig  `yaml:"mount"`
	MQTT     MQTTConfig   `yaml:"mqtt"`
	Database string       `yaml:"database"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	Name      string `yaml:"name"`
	Location  string `yaml:"location"`
	Discovery bool   `yaml:"discovery"`
	MDNS      bool   `yaml:"mdns"`
}

// MountConfig is the part of the configuration that can be changed from
// the setup page. It is stored as JSON.
type MountConfig struct {
	Dialect  string        `yaml:"dialect" json:"dialect"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Baud     int           `yaml:"baud" json:"baud"` // zero tries the dialect's rates in turn
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	Settle   time.Duration `yaml:"settle" json:"settle"`

	GuideRate int     `yaml:"guide_rate" json:"guide_rate"` // percent of sidereal, zero keeps the mount's
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"` // east positive
	Elevation float64 `yaml:"elevation" json:"elevation"`
	Timezone  string  `yaml:"timezone" json:"timezone"`     // IANA name, wins over UTCOffset
	UTCOffset float64 `yaml:"utc_offset" json:"utc_offset"` // hours east of UTC

	SyncOnConnect bool           `yaml:"sync_on_connect" json:"sync_on_connect"`
	Meridian      MeridianConfig `yaml:"meridian" json:"meridian"`

	BusyPoll time.Duration `yaml:"busy_poll" json:"busy_poll"`
	IdlePoll time.Duration `yaml:"idle_poll" json:"idle_poll"`
	Trace    string        `yaml:"trace" json:"trace"`
}

// MeridianConfig overrides the controller's meridian flip settings when
// Override is set.
type MeridianConfig struct {
	Override    bool `yaml:"override" json:"override"`
	AutoFlip    bool `yaml:"auto_flip" json:"auto_flip"`
	TrackPassed bool `yaml:"track_passed" json:"track_passed"`
	Limit       int  `yaml:"limit" json:"limit"`
}

type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TopicRoot string `yaml:"topic_root"`
}

const (
	defaultPort    = 8090
	defaultTimeout = 3 * time.Second
)

// DefaultMount is the mount configuration used when nothing is stored.
func DefaultMount() MountConfig {
	return MountConfig{
		Dialect:  dialect.AutoDetect.String(),
		Endpoint: "/dev/ttyUSB0",
		Timeout:  defaultTimeout,
		BusyPoll: mount.BusyPollInterval,
		IdlePoll: mount.IdlePollInterval,
	}
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      defaultPort,
			Name:      "LX200 Alpaca Server",
			Discovery: true,
			MDNS:      true,
		},
		Mount: DefaultMount(),
		MQTT: MQTTConfig{
			Broker:    "tcp://localhost:1883",
			ClientID:  "lx200-alpaca",
			TopicRoot: "lx200",
		},
		Database: "lx200.db",
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Infof("No config at %s, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %v", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %v", path, err)
			}
			log.Infof("Loaded config from %s", path)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Mount.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads LX200_* variables over the file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LX200_DIALECT"); v != "" {
		c.Mount.Dialect = v
	}
	if v := os.Getenv("LX200_ENDPOINT"); v != "" {
		c.Mount.Endpoint = v
	}
	if v := os.Getenv("LX200_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Mount.Baud = n
		}
	}
	if v := os.Getenv("LX200_LATITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Mount.Latitude = f
		}
	}
	if v := os.Getenv("LX200_LONGITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Mount.Longitude = f
		}
	}
	if v := os.Getenv("LX200_TIMEZONE"); v != "" {
		c.Mount.Timezone = v
	}
	if v := os.Getenv("LX200_TRACE"); v != "" {
		c.Mount.Trace = v
	}
	if v := os.Getenv("LX200_DB"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

// Validate checks the values a setup form can get wrong.
func (m MountConfig) Validate() error {
	if _, err := dialect.Parse(m.Dialect); err != nil {
		return err
	}
	if _, err := m.ParseEndpoint(); err != nil {
		return fmt.Errorf("invalid endpoint: %v", err)
	}
	if m.Baud < 0 {
		return fmt.Errorf("invalid baud rate: %d", m.Baud)
	}
	if m.GuideRate != 0 && (m.GuideRate < 10 || m.GuideRate > 90) {
		return fmt.Errorf("guide rate must be between 10 and 90 percent")
	}
	if m.Latitude < -90 || m.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %v", m.Latitude)
	}
	if m.Longitude < -180 || m.Longitude > 360 {
		return fmt.Errorf("invalid longitude: %v", m.Longitude)
	}
	if m.UTCOffset < -14 || m.UTCOffset > 14 {
		return fmt.Errorf("invalid UTC offset: %v", m.UTCOffset)
	}
	if m.Meridian.Limit < -15 || m.Meridian.Limit > 15 {
		return fmt.Errorf("meridian limit must be between -15 and 15 degrees")
	}
	if _, err := m.Location(); err != nil {
		return err
	}
	return nil
}

// DialectValue returns the configured dialect.
func (m MountConfig) DialectValue() dialect.Dialect {
	d, _ := dialect.Parse(m.Dialect)
	return d
}

// ParseEndpoint parses the endpoint, defaulting TCP ports by dialect.
func (m MountConfig) ParseEndpoint() (transport.Endpoint, error) {
	port := transport.DefaultTCPPort
	if m.DialectValue() == dialect.ZwoAM {
		port = transport.ZwoTCPPort
	}
	return transport.ParseEndpoint(m.Endpoint, port)
}

// Bauds returns the serial rates to try in order.
func (m MountConfig) Bauds() []int {
	if m.Baud > 0 {
		return []int{m.Baud}
	}
	return m.DialectValue().Descriptor().BaudRates()
}

// Location returns the zone used to set the mount clock. Nil means the
// host zone.
func (m MountConfig) Location() (*time.Location, error) {
	switch {
	case strings.TrimSpace(m.Timezone) != "":
		loc, err := time.LoadLocation(strings.TrimSpace(m.Timezone))
		if err != nil {
			return nil, fmt.Errorf("invalid timezone: %v", err)
		}
		return loc, nil
	case m.UTCOffset != 0:
		return time.FixedZone("", int(m.UTCOffset*3600)), nil
	}
	return nil, nil
}

// SessionOptions converts the configuration for mount.NewSession.
func (m MountConfig) SessionOptions() (mount.Options, error) {
	loc, err := m.Location()
	if err != nil {
		return mount.Options{}, err
	}
	opts := mount.Options{
		Location:      loc,
		SyncOnConnect: m.SyncOnConnect,
		GuideRate:     m.GuideRate,
	}
	if m.Latitude != 0 || m.Longitude != 0 {
		opts.Site = &mount.Site{Latitude: m.Latitude, Longitude: m.Longitude, Elevation: m.Elevation}
	}
	if m.Meridian.Override {
		opts.Meridian = &dialect.MeridianSettings{
			AutoFlip:    m.Meridian.AutoFlip,
			TrackPassed: m.Meridian.TrackPassed,
			Limit:       m.Meridian.Limit,
		}
	}
	return opts, nil
}
