// Package config loads the serving configuration from YAML and can watch
// the file for changes to the serve-time tunables.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config is the full streamnetd configuration.
type Config struct {
	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Models struct {
		MaxInstances  int     `yaml:"max_instances"`
		Seed          int64   `yaml:"seed"`
		HiddenUnits   int     `yaml:"hidden_units"`
		LearningRate  float64 `yaml:"learning_rate"`
		FeaturePolicy string  `yaml:"feature_policy"` // strict or ignore_unseen
	} `yaml:"models"`
	Serving Tunables `yaml:"serving"`
}

// Tunables are the settings that may change while the server runs.
type Tunables struct {
	AnomalyThreshold    float64  `yaml:"anomaly_threshold"`
	MetricsPushInterval Duration `yaml:"metrics_push_interval"`
}

// Duration parses "5s"-style YAML values, which yaml.v2 does not do for
// time.Duration itself.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "snapshots.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Models.MaxInstances == 0 {
		c.Models.MaxInstances = 256
	}
	if c.Models.HiddenUnits == 0 {
		c.Models.HiddenUnits = 16
	}
	if c.Models.LearningRate == 0 {
		c.Models.LearningRate = 0.01
	}
	if c.Models.FeaturePolicy == "" {
		c.Models.FeaturePolicy = "strict"
	}
	if c.Serving.AnomalyThreshold == 0 {
		c.Serving.AnomalyThreshold = 1.0
	}
	if c.Serving.MetricsPushInterval == 0 {
		c.Serving.MetricsPushInterval = Duration(5 * time.Second)
	}
}

func (c *Config) validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	if c.Models.MaxInstances < 1 {
		return fmt.Errorf("max_instances must be positive")
	}
	if c.Models.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive")
	}
	switch c.Models.FeaturePolicy {
	case "strict", "ignore_unseen":
	default:
		return fmt.Errorf("unknown feature_policy %q", c.Models.FeaturePolicy)
	}
	return nil
}

// Watcher re-reads the config file when it changes and republishes the
// serve-time tunables. Structural settings (port, database, model shape)
// require a restart and are ignored on reload.
type Watcher struct {
	path    string
	log     *zap.Logger
	fs      *fsnotify.Watcher
	current atomic.Pointer[Tunables]
	done    chan struct{}
}

// Watch starts watching path. The initial tunables come from cfg.
func Watch(path string, cfg *Config, log *zap.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := fs.Add(path); err != nil {
		fs.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	w := &Watcher{path: path, log: log, fs: fs, done: make(chan struct{})}
	tunables := cfg.Serving
	w.current.Store(&tunables)
	go w.loop()
	return w, nil
}

// Tunables returns the most recently loaded serve-time settings.
func (w *Watcher) Tunables() Tunables {
	return *w.current.Load()
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous tunables",
					zap.String("path", w.path), zap.Error(err))
				continue
			}
			tunables := cfg.Serving
			w.current.Store(&tunables)
			w.log.Info("config reloaded",
				zap.Float64("anomaly_threshold", tunables.AnomalyThreshold),
				zap.Duration("metrics_push_interval", time.Duration(tunables.MetricsPushInterval)))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}
