// Package config loads the goboot command configuration with viper.
//
// Values come from, in increasing precedence: built-in defaults, a
// goboot.{yaml,toml,json} file, and GOBOOT_* environment variables where
// nested keys use underscores (GOBOOT_WORKER_FORKS for worker.forks).
package config

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vnykmshr/goboot/pkg/boot"
	"github.com/vnykmshr/goboot/pkg/runtime/discovery"
	"github.com/vnykmshr/goboot/pkg/scaling/scaler"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "GOBOOT"

// FileName is the config file name searched for without an explicit path.
const FileName = "goboot"

// Config is the complete command configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// AppConfig describes the application booted by "goboot run".
type AppConfig struct {
	// Name registers the application and labels its logs and metrics.
	Name string `mapstructure:"name"`
	// Dir is the base for relative mount directories.
	Dir string `mapstructure:"dir"`
	// Mask selects the file names picked up by directory mounts.
	Mask string `mapstructure:"mask"`
	// MaxDepth bounds directory recursion.
	MaxDepth int `mapstructure:"max_depth"`
	// Debug enables debug logging for the application.
	Debug bool `mapstructure:"debug"`
	// Mounts maps mount points to directories.
	Mounts map[string]string `mapstructure:"mounts"`
	// Run lists the mount points started after mounting.
	Run []string `mapstructure:"run"`
	// Preload decodes every mounted file before anything runs.
	Preload bool `mapstructure:"preload"`
	// PreloadWorkers bounds concurrent decoding; 0 is one per CPU.
	PreloadWorkers int `mapstructure:"preload_workers"`
}

// WorkerConfig controls the worker processes of the control process.
type WorkerConfig struct {
	// Forks is a worker count or "full" for one per CPU.
	Forks string `mapstructure:"forks"`
	// Respawn replaces workers that exit on their own.
	Respawn bool `mapstructure:"respawn"`
	// RespawnRate limits respawns per second; 0 is unlimited.
	RespawnRate float64 `mapstructure:"respawn_rate"`
	// RespawnBurst is the number of respawns allowed back to back.
	RespawnBurst int `mapstructure:"respawn_burst"`
	// Reconcile is a cron spec for periodic convergence; empty disables it.
	Reconcile string `mapstructure:"reconcile"`
	// Command overrides the worker executable. Empty re-executes goboot.
	Command string `mapstructure:"command"`
	// Args are passed to Command.
	Args []string `mapstructure:"args"`
	// GracePeriod bounds graceful worker termination.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// RedisConfig locates the shared target store. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "app",
			Dir:      ".",
			Mask:     discovery.DefaultMaskPattern,
			MaxDepth: discovery.DefaultMaxDepth,
			Mounts:   map[string]string{},
			Run:      []string{},
		},
		Worker: WorkerConfig{
			Forks:        "0",
			RespawnBurst: 1,
			Args:         []string{},
			GracePeriod:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Addr:      ":9090",
			Path:      "/metrics",
			Namespace: "goboot",
		},
		Redis: RedisConfig{
			Prefix:  "goboot",
			Timeout: 500 * time.Millisecond,
		},
	}
}

// SetDefaults registers every default with v, which also makes each key
// visible to environment lookups.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.dir", d.App.Dir)
	v.SetDefault("app.mask", d.App.Mask)
	v.SetDefault("app.max_depth", d.App.MaxDepth)
	v.SetDefault("app.debug", d.App.Debug)
	v.SetDefault("app.mounts", d.App.Mounts)
	v.SetDefault("app.run", d.App.Run)
	v.SetDefault("app.preload", d.App.Preload)
	v.SetDefault("app.preload_workers", d.App.PreloadWorkers)

	v.SetDefault("worker.forks", d.Worker.Forks)
	v.SetDefault("worker.respawn", d.Worker.Respawn)
	v.SetDefault("worker.respawn_rate", d.Worker.RespawnRate)
	v.SetDefault("worker.respawn_burst", d.Worker.RespawnBurst)
	v.SetDefault("worker.reconcile", d.Worker.Reconcile)
	v.SetDefault("worker.command", d.Worker.Command)
	v.SetDefault("worker.args", d.Worker.Args)
	v.SetDefault("worker.grace_period", d.Worker.GracePeriod)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.no_color", d.Logging.NoColor)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.timeout", d.Redis.Timeout)
}

// New returns a viper instance with defaults and environment overrides
// configured. path selects a config file; empty searches the working
// directory and ConfigDir for goboot.*.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration at path (or the first goboot.* found) and
// validates it. A missing file is an error only when path is explicit.
func Load(path string) (*Config, error) {
	v := New(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigDir returns the per-user config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "goboot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goboot"
	}
	return filepath.Join(home, ".config", "goboot")
}

// Target returns the parsed worker count.
func (c *Config) Target() (int, error) {
	return scaler.ParseTarget(c.Worker.Forks)
}

// Options converts the configuration into App options. The configuration
// must be valid.
func (c *Config) Options() map[string]any {
	n, _ := c.Target()
	return map[string]any{
		boot.OptAppDir:         c.App.Dir,
		boot.OptMask:           c.App.Mask,
		boot.OptMaxDepth:       c.App.MaxDepth,
		boot.OptDebug:          c.App.Debug,
		boot.OptForkRespawn:    c.Worker.Respawn,
		boot.OptNumForks:       n,
		boot.OptRespawnRate:    c.Worker.RespawnRate,
		boot.OptRespawnBurst:   c.Worker.RespawnBurst,
		boot.OptPreloadWorkers: c.App.PreloadWorkers,
	}
}

// MountPoints returns the configured mount points in sorted order.
func (c *Config) MountPoints() []string {
	points := make([]string, 0, len(c.App.Mounts))
	for p := range c.App.Mounts {
		points = append(points, p)
	}
	sort.Strings(points)
	return points
}
