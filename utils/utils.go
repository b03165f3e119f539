package utils

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

type ReplicationConfig struct {
	Radius         float32 `toml:"radius" env:"AOI_RADIUS"`
	BufferCapacity int     `toml:"buffer_capacity" env:"AOI_BUFFER_CAPACITY"`
	IDWidth        int     `toml:"id_width" env:"AOI_ID_WIDTH"`
	Workers        int     `toml:"workers" env:"AOI_WORKERS"`
	CellSize       float32 `toml:"cell_size" env:"AOI_CELL_SIZE"`
	History        int     `toml:"history" env:"AOI_HISTORY"`
}

type ServerConfig struct {
	Address string   `toml:"address" env:"AOI_ADDRESS"`
	TickMS  int      `toml:"tick_ms" env:"AOI_TICK_MS"`
	Origins []string `toml:"origins" env:"AOI_ORIGINS" envSeparator:","`
}

type WorldConfig struct {
	Entities        int     `toml:"entities" env:"AOI_ENTITIES"`
	Observers       int     `toml:"observers" env:"AOI_OBSERVERS"`
	Spacing         float32 `toml:"spacing" env:"AOI_SPACING"`
	ObserverSpacing float32 `toml:"observer_spacing" env:"AOI_OBSERVER_SPACING"`
	OrbitRadius     float32 `toml:"orbit_radius" env:"AOI_ORBIT_RADIUS"`
	OrbitPeriod     int64   `toml:"orbit_period" env:"AOI_ORBIT_PERIOD"`
	DrainEvery      int64   `toml:"drain_every" env:"AOI_DRAIN_EVERY"`
}

type Config struct {
	Replication ReplicationConfig `toml:"replication"`
	Server      ServerConfig      `toml:"server"`
	World       WorldConfig       `toml:"world"`
}

// DefaultConfig is the reference layout: ten entities ten units apart,
// observers twenty apart, a radius of 25 and a 256 byte packet.
func DefaultConfig() Config {
	return Config{
		Replication: ReplicationConfig{
			Radius:         25,
			BufferCapacity: 256,
			IDWidth:        1,
			Workers:        1,
			History:        32,
		},
		Server: ServerConfig{
			Address: "localhost:4242",
			TickMS:  50,
			Origins: []string{"localhost:8080"},
		},
		World: WorldConfig{
			Entities:        10,
			Observers:       4,
			Spacing:         10,
			ObserverSpacing: 20,
			OrbitRadius:     5,
			OrbitPeriod:     120,
			DrainEvery:      20,
		},
	}
}

func ReadTOML(fileName string) (*Config, error) {
	file, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(file, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadConfig layers defaults, the optional TOML file and AOI_* environment
// variables, in that order.
func LoadConfig(fileName string) (*Config, error) {
	config := DefaultConfig()
	if fileName != "" {
		fromFile, err := ReadTOML(fileName)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fileName, err)
		}
		config = *fromFile
	}
	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	r := c.Replication
	var errs []error
	if r.Radius <= 0 {
		errs = append(errs, fmt.Errorf("replication.radius must be positive, got %v", r.Radius))
	}
	if r.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("replication.buffer_capacity must be positive, got %d", r.BufferCapacity))
	}
	if r.IDWidth != 1 && r.IDWidth != 2 && r.IDWidth != 4 {
		errs = append(errs, fmt.Errorf("replication.id_width must be 1, 2 or 4, got %d", r.IDWidth))
	}
	if r.Workers < 1 {
		errs = append(errs, fmt.Errorf("replication.workers must be at least 1, got %d", r.Workers))
	}
	if c.Server.TickMS <= 0 {
		errs = append(errs, fmt.Errorf("server.tick_ms must be positive, got %d", c.Server.TickMS))
	}
	if c.World.Entities < 0 {
		errs = append(errs, fmt.Errorf("world.entities must not be negative, got %d", c.World.Entities))
	}
	if c.World.Observers < 0 {
		errs = append(errs, fmt.Errorf("world.observers must not be negative, got %d", c.World.Observers))
	}
	return errors.Join(errs...)
}
