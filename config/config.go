// Package config loads the process configuration and the server limits
// shared by the simulation core.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Limits are the server-wide values consumed by physics and anti-cheat.
// They are read-only once the server is running.
type Limits struct {
	TickRate            int     `toml:"tick-rate" json:"tickRate"`
	MaxPlayers          int     `toml:"max-players" json:"maxPlayers"`
	MaxVelocity         float32 `toml:"max-velocity" json:"maxVelocity"`
	MaxTeleportDistance float32 `toml:"max-teleport-distance" json:"maxTeleportDistance"`
	InputRateLimit      int     `toml:"input-rate-limit" json:"inputRateLimit"`
	EnableAntiCheat     bool    `toml:"enable-anticheat" json:"enableAntiCheat"`
	MaxPendingInputs    int     `toml:"max-pending-inputs" json:"maxPendingInputs"`
}

// Config is the full process configuration.
type Config struct {
	BindAddress string `toml:"bind-address"`
	LogFile     string `toml:"log-file"`
	Debug       bool   `toml:"debug"`

	Limits Limits `toml:"limits"`
}

// DefaultLimits returns the stock limits: 60 Hz, 100 players, 100 m/s.
func DefaultLimits() Limits {
	return Limits{
		TickRate:            60,
		MaxPlayers:          100,
		MaxVelocity:         100,
		MaxTeleportDistance: 50,
		InputRateLimit:      120,
		EnableAntiCheat:     true,
		MaxPendingInputs:    256,
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		BindAddress: "0.0.0.0:7777",
		LogFile:     "drift.log",
		Limits:      DefaultLimits(),
	}
}

// Load builds a Config from defaults, an optional TOML file at path, a .env
// file in the working directory and finally the process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("BIND_ADDRESS"); ok {
		cfg.BindAddress = v
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.LogFile = v
	}

	l := &cfg.Limits
	for _, f := range []struct {
		key string
		set func(string) error
	}{
		{"TICK_RATE", intSetter(&l.TickRate)},
		{"MAX_PLAYERS", intSetter(&l.MaxPlayers)},
		{"MAX_VELOCITY", floatSetter(&l.MaxVelocity)},
		{"MAX_TELEPORT_DISTANCE", floatSetter(&l.MaxTeleportDistance)},
		{"INPUT_RATE_LIMIT", intSetter(&l.InputRateLimit)},
		{"ENABLE_ANTICHEAT", boolSetter(&l.EnableAntiCheat)},
		{"MAX_PENDING_INPUTS", intSetter(&l.MaxPendingInputs)},
		{"DEBUG", boolSetter(&cfg.Debug)},
	} {
		v, ok := os.LookupEnv(f.key)
		if !ok || v == "" {
			continue
		}
		if err := f.set(v); err != nil {
			return fmt.Errorf("config: %s=%q: %w", f.key, v, err)
		}
	}
	return nil
}

func intSetter(dst *int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func floatSetter(dst *float32) func(string) error {
	return func(s string) error {
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return err
		}
		*dst = float32(f)
		return nil
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(s string) error {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// Validate reports the first limit that cannot drive the simulation.
func (c Config) Validate() error {
	if c.BindAddress == "" {
		return fmt.Errorf("%w: bind address is empty", ErrInvalid)
	}
	return c.Limits.Validate()
}

// Validate checks that every limit is positive.
func (l Limits) Validate() error {
	switch {
	case l.TickRate <= 0:
		return fmt.Errorf("%w: tick rate must be positive, got %d", ErrInvalid, l.TickRate)
	case l.MaxPlayers <= 0:
		return fmt.Errorf("%w: max players must be positive, got %d", ErrInvalid, l.MaxPlayers)
	case l.MaxVelocity <= 0:
		return fmt.Errorf("%w: max velocity must be positive, got %g", ErrInvalid, l.MaxVelocity)
	case l.MaxTeleportDistance <= 0:
		return fmt.Errorf("%w: max teleport distance must be positive, got %g", ErrInvalid, l.MaxTeleportDistance)
	case l.InputRateLimit <= 0:
		return fmt.Errorf("%w: input rate limit must be positive, got %d", ErrInvalid, l.InputRateLimit)
	case l.MaxPendingInputs <= 0:
		return fmt.Errorf("%w: max pending inputs must be positive, got %d", ErrInvalid, l.MaxPendingInputs)
	}
	return nil
}

// TickSeconds is the fixed simulation timestep.
func (l Limits) TickSeconds() float32 {
	return 1 / float32(l.TickRate)
}
