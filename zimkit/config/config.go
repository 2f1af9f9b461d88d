package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/zimkit/zimkit"
	"github.com/ZanzyTHEbar/zimkit/zimkit/accessor"
	"github.com/ZanzyTHEbar/zimkit/zimkit/zimfile"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Cursor   CursorConfig   `mapstructure:"cursor"`
	Random   RandomConfig   `mapstructure:"random"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Log      LogConfig      `mapstructure:"log"`
}

// ArchiveConfig stores which archive to open and how to read it.
type ArchiveConfig struct {
	Path             string `mapstructure:"path"`
	Namespace        string `mapstructure:"namespace"`
	UseMmap          bool   `mapstructure:"useMmap"`
	ClusterCacheSize int    `mapstructure:"clusterCacheSize"`
	VerifyChecksum   bool   `mapstructure:"verifyChecksum"`
}

type ResolverConfig struct {
	MaxRedirectHops int `mapstructure:"maxRedirectHops"`
	MaxTokenLength  int `mapstructure:"maxTokenLength"`
}

type CursorConfig struct {
	IndexRedirects bool `mapstructure:"indexRedirects"`
}

// RandomConfig seeds random page selection. Zero seeds from the process.
type RandomConfig struct {
	Seed uint64 `mapstructure:"seed"`
}

type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var ErrInvalidNamespace = errors.New("namespace must be a single byte")

// LoadConfig reads configuration from file or environment variables. An
// explicit configPath must exist; when searching, a missing file means
// defaults only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(internal.DefaultSystemDir)
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // archive.useMmap becomes ARCHIVE_USEMMAP

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		cfg.Archive.Path = resolveRelative(used, cfg.Archive.Path)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.path", "")
	v.SetDefault("archive.namespace", internal.DefaultNamespace)
	v.SetDefault("archive.useMmap", internal.DefaultUseMmap)
	v.SetDefault("archive.clusterCacheSize", internal.DefaultClusterCacheSize)
	v.SetDefault("archive.verifyChecksum", false)
	v.SetDefault("resolver.maxRedirectHops", internal.DefaultMaxRedirectHops)
	v.SetDefault("resolver.maxTokenLength", internal.DefaultMaxTokenLength)
	v.SetDefault("cursor.indexRedirects", false)
	v.SetDefault("random.seed", 0)
	v.SetDefault("batch.workers", internal.DefaultBatchWorkers)
	v.SetDefault("log.level", internal.DefaultLogLevel)
}

// resolveRelative makes an archive path in a config file relative to that file.
func resolveRelative(configFile, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(configFile), path)
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if len(c.Archive.Namespace) != 1 {
		return fmt.Errorf("archive.namespace %q: %w", c.Archive.Namespace, ErrInvalidNamespace)
	}
	if c.Resolver.MaxRedirectHops < 0 {
		return fmt.Errorf("resolver.maxRedirectHops must not be negative, got %d", c.Resolver.MaxRedirectHops)
	}
	if c.Resolver.MaxTokenLength < 0 {
		return fmt.Errorf("resolver.maxTokenLength must not be negative, got %d", c.Resolver.MaxTokenLength)
	}
	if c.Archive.ClusterCacheSize < 1 {
		return fmt.Errorf("archive.clusterCacheSize must be at least 1, got %d", c.Archive.ClusterCacheSize)
	}
	return nil
}

// Logger builds the application logger at the configured level.
func (c *Config) Logger() zerolog.Logger {
	return internal.NewLogger(c.Log.Level)
}

// FileOptions converts the archive section into ZIM reader options.
func (c *Config) FileOptions(logger zerolog.Logger) []zimfile.Option {
	return []zimfile.Option{
		zimfile.WithMmap(c.Archive.UseMmap),
		zimfile.WithClusterCacheSize(c.Archive.ClusterCacheSize),
		zimfile.WithChecksumVerification(c.Archive.VerifyChecksum),
		zimfile.WithLogger(logger),
	}
}

// AccessorOptions converts the loaded configuration into Accessor options.
func (c *Config) AccessorOptions(logger zerolog.Logger) []accessor.Option {
	return []accessor.Option{
		accessor.WithOpener(zimfile.OpenEngine(c.FileOptions(logger)...)),
		accessor.WithNamespace(c.Archive.Namespace[0]),
		accessor.WithMaxRedirectHops(c.Resolver.MaxRedirectHops),
		accessor.WithMaxTokenLength(c.Resolver.MaxTokenLength),
		accessor.WithRedirectIndex(c.Cursor.IndexRedirects),
		accessor.WithSeed(c.Random.Seed),
		accessor.WithLogger(logger),
	}
}
