// Package config loads sequencer settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Engine modes.
const (
	ModeDefault     = "default"
	ModePerformance = "performance"
)

// ErrInvalidSettings is returned when loaded settings can't be used.
var ErrInvalidSettings = errors.New("invalid settings")

type (
	// Settings contains all sequencer settings.
	Settings struct {
		Debug     bool
		Engine    Engine
		Soundcard Soundcard
		Recall    Recall
	}

	// Engine settings.
	Engine struct {
		// Mode is either default or performance. In performance mode
		// retired children are collected on interval instead of on demand.
		Mode            string
		CollectInterval time.Duration `mapstructure:"collect-interval"`
	}

	// Soundcard contains defaults for new audio signals.
	Soundcard struct {
		SampleRate int `mapstructure:"samplerate"`
		BufferSize int `mapstructure:"buffer-size"`
	}

	// Recall contains recall policies.
	Recall struct {
		MapChildSource bool `mapstructure:"map-child-source"`
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("engine.mode", ModeDefault)
	v.SetDefault("engine.collect-interval", 50*time.Millisecond)
	v.SetDefault("soundcard.samplerate", 44100)
	v.SetDefault("soundcard.buffer-size", 512)
	v.SetDefault("recall.map-child-source", true)
}

// Default returns settings with default values.
func Default() *Settings {
	s, err := load(newViper())
	if err != nil {
		// defaults are always valid.
		panic(err)
	}
	return s
}

// Load reads settings from the yaml file at path. Empty path loads
// defaults. Environment variables with SEQUENCER_ prefix take precedence,
// for example SEQUENCER_ENGINE_MODE=performance.
func Load(path string) (*Settings, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("sequencer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks settings values.
func (s *Settings) Validate() error {
	switch s.Engine.Mode {
	case ModeDefault, ModePerformance:
	default:
		return fmt.Errorf("%w: unknown engine mode %q", ErrInvalidSettings, s.Engine.Mode)
	}
	if s.Engine.CollectInterval <= 0 {
		return fmt.Errorf("%w: collect interval must be positive", ErrInvalidSettings)
	}
	if s.Soundcard.SampleRate <= 0 {
		return fmt.Errorf("%w: samplerate must be positive", ErrInvalidSettings)
	}
	if s.Soundcard.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive", ErrInvalidSettings)
	}
	return nil
}

// Performance returns true if engine runs in performance mode.
func (s *Settings) Performance() bool {
	return s.Engine.Mode == ModePerformance
}
