// Package config loads rngtrainer.yaml.
//
// Every field has a default, so a missing file is not an error. Values read
// from the file replace the defaults field by field.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"rngtrainer/diag"
	"rngtrainer/process"
	"rngtrainer/scratch"
	"rngtrainer/trainer"

	"gopkg.in/yaml.v3"
)

const DefaultFile = "rngtrainer.yaml"

type Config struct {
	Process string `yaml:"process"`
	Module  string `yaml:"module"`

	ScratchSize    uint64        `yaml:"scratch_size"`
	NotifyCooldown time.Duration `yaml:"notify_cooldown"`

	DefaultSeed     uint64            `yaml:"default_seed"`
	DefaultBehavior string            `yaml:"default_behavior"`
	Seeds           map[string]uint64 `yaml:"seeds,omitempty"`
	Behaviors       map[string]string `yaml:"behaviors,omitempty"`

	Draft trainer.DraftConfig `yaml:"draft"`

	// RevertOnDetach restores the original code when the session closes
	RevertOnDetach bool `yaml:"revert_on_detach"`
	Debug          bool `yaml:"debug"`
}

func Default() Config {
	return Config{
		Process:         "BLUE PRINCE.exe",
		Module:          "GameAssembly.dll",
		ScratchSize:     scratch.DefaultSize,
		NotifyCooldown:  diag.DefaultCooldown,
		DefaultSeed:     42,
		DefaultBehavior: trainer.Constant.String(),
		Draft:           trainer.DraftConfig{Layout: trainer.DefaultLayout()},
		RevertOnDetach:  true,
	}
}

// Load reads path over the defaults; a missing file yields the defaults
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Process == "" {
		return fmt.Errorf("config: process name is empty")
	}
	if c.Module == "" {
		return fmt.Errorf("config: module name is empty")
	}
	if c.ScratchSize <= scratch.DataOffset {
		return fmt.Errorf("config: scratch_size %d leaves no room for data", c.ScratchSize)
	}
	if c.NotifyCooldown < 0 {
		return fmt.Errorf("config: negative notify_cooldown %s", c.NotifyCooldown)
	}
	_, err := c.Options(nil)
	return err
}

// Options converts the engine settings into trainer options
func (c Config) Options(reporter *diag.Reporter) (trainer.Options, error) {
	opts := trainer.Options{
		Draft:       c.Draft,
		ScratchSize: process.ProcessMemorySize(c.ScratchSize),
		Reporter:    reporter,
		DefaultSeed: c.DefaultSeed,
	}

	b, err := trainer.ParseBehavior(c.DefaultBehavior)
	if err != nil {
		return trainer.Options{}, fmt.Errorf("config: default_behavior: %w", err)
	}
	opts.DefaultBehavior = b

	if len(c.Seeds) > 0 {
		opts.Seeds = make(map[trainer.Category]uint64, len(c.Seeds))
		for name, seed := range c.Seeds {
			cat, err := trainer.ParseCategory(name)
			if err != nil {
				return trainer.Options{}, fmt.Errorf("config: seeds: %w", err)
			}
			opts.Seeds[cat] = seed
		}
	}

	if len(c.Behaviors) > 0 {
		opts.Behaviors = make(map[trainer.Category]trainer.Behavior, len(c.Behaviors))
		for name, value := range c.Behaviors {
			cat, err := trainer.ParseCategory(name)
			if err != nil {
				return trainer.Options{}, fmt.Errorf("config: behaviors: %w", err)
			}
			b, err := trainer.ParseBehavior(value)
			if err != nil {
				return trainer.Options{}, fmt.Errorf("config: behaviors.%s: %w", name, err)
			}
			opts.Behaviors[cat] = b
		}
	}

	return opts, nil
}
