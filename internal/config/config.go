package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"metricwatch-backend/internal/security"
)

type Config struct {
	EvalIntervalSeconds    int `yaml:"evalIntervalSeconds"`
	Workers                int `yaml:"workers"`
	DispatchTimeoutSeconds int `yaml:"dispatchTimeoutSeconds"`
	Window                 struct {
		MaxSamples    int `yaml:"maxSamples"`
		MaxAgeSeconds int `yaml:"maxAgeSeconds"`
	} `yaml:"window"`
	Dispatch struct {
		QueueSize int `yaml:"queueSize"`
	} `yaml:"dispatch"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyLimits overlays configured bounds onto the defaults.
func (c Config) ApplyLimits(limits security.Limits) security.Limits {
	if c.Window.MaxSamples > 0 {
		limits.MaxWindowSamples = c.Window.MaxSamples
	}
	if c.Window.MaxAgeSeconds > 0 {
		limits.MaxWindowAge = time.Duration(c.Window.MaxAgeSeconds) * time.Second
	}
	if c.Dispatch.QueueSize > 0 {
		limits.DispatchQueueSize = c.Dispatch.QueueSize
	}
	if c.DispatchTimeoutSeconds > 0 {
		limits.DispatchTimeout = time.Duration(c.DispatchTimeoutSeconds) * time.Second
	}
	return limits
}
