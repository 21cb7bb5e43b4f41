// Package config loads and validates image pipeline configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Mode     string         `mapstructure:"mode"`
	Server   ServerConfig   `mapstructure:"server"`
	Project  ProjectConfig  `mapstructure:"project"`
	Build    BuildConfig    `mapstructure:"build"`
	Codec    CodecConfig    `mapstructure:"codec"`
	Markdown MarkdownConfig `mapstructure:"markdown"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the dev HTTP server.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// ProjectConfig locates the project being built.
type ProjectConfig struct {
	Root string `mapstructure:"root"`
	// Base is the public base path prefixed to asset references in build mode.
	Base string `mapstructure:"base"`
}

// BuildConfig governs output layout and flush behavior.
type BuildConfig struct {
	OutDir         string `mapstructure:"out_dir"`
	AssetsDir      string `mapstructure:"assets_dir"`
	AssetFileNames string `mapstructure:"asset_file_names"`
	Sourcemap      bool   `mapstructure:"sourcemap"`
	Manifest       string `mapstructure:"manifest"`
	Concurrency    int    `mapstructure:"concurrency"`
}

// CodecConfig bounds image processing.
type CodecConfig struct {
	JPEGQuality        int `mapstructure:"jpeg_quality"`
	MaxWidth           int `mapstructure:"max_width"`
	EncodeCacheEntries int `mapstructure:"encode_cache_entries"`
}

// MarkdownConfig sets the modules generated imports point at.
type MarkdownConfig struct {
	ComponentModule string `mapstructure:"component_module"`
	RuntimeModule   string `mapstructure:"runtime_module"`
}

// StorageConfig selects where flushed assets go.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres asset manifest.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for build notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	Compress    bool   `mapstructure:"compress"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMAGEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(pipeline.ModeDev))
	v.SetDefault("server.port", 4321)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("project.root", ".")
	v.SetDefault("project.base", "/")
	v.SetDefault("build.out_dir", "dist")
	v.SetDefault("build.assets_dir", "_astro")
	v.SetDefault("build.asset_file_names", "")
	v.SetDefault("build.sourcemap", false)
	v.SetDefault("build.manifest", "")
	v.SetDefault("build.concurrency", 16)
	v.SetDefault("codec.jpeg_quality", 80)
	v.SetDefault("codec.max_width", 8192)
	v.SetDefault("codec.encode_cache_entries", 256)
	v.SetDefault("markdown.component_module", "astro-imagetools/components")
	v.SetDefault("markdown.runtime_module", "")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "image_assets")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.compress", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Mode != string(pipeline.ModeDev) && c.Mode != string(pipeline.ModeBuild) {
		return fmt.Errorf("mode must be %q or %q, got %q", pipeline.ModeDev, pipeline.ModeBuild, c.Mode)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Project.Root) == "" {
		return fmt.Errorf("project.root is required")
	}
	if strings.TrimSpace(c.Build.AssetsDir) == "" {
		return fmt.Errorf("build.assets_dir is required")
	}
	if !pipeline.TemplateHasFingerprint(c.AssetTemplate()) {
		return fmt.Errorf("build.asset_file_names must contain [hash] so distinct transforms get distinct files")
	}
	if c.Build.Concurrency <= 0 {
		return fmt.Errorf("build.concurrency must be > 0")
	}
	if c.Codec.JPEGQuality < 1 || c.Codec.JPEGQuality > 100 {
		return fmt.Errorf("codec.jpeg_quality must be between 1 and 100")
	}
	if c.Codec.MaxWidth <= 0 {
		return fmt.Errorf("codec.max_width must be > 0")
	}
	if c.Codec.EncodeCacheEntries <= 0 {
		return fmt.Errorf("codec.encode_cache_entries must be > 0")
	}
	if !slices.Contains([]string{"local", "memory", "gcs"}, c.Storage.Provider) {
		return fmt.Errorf("storage.provider must be one of local, memory, gcs")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.Storage.Provider == "local" && strings.TrimSpace(c.Build.OutDir) == "" {
		return fmt.Errorf("build.out_dir is required for local storage")
	}
	return nil
}

// ModeValue returns the configured pipeline mode.
func (c Config) ModeValue() pipeline.Mode {
	return pipeline.Mode(c.Mode)
}

// AssetTemplate returns the normalized asset file name template.
func (c Config) AssetTemplate() string {
	if strings.TrimSpace(c.Build.AssetFileNames) == "" {
		return pipeline.DefaultAssetTemplate(c.Build.AssetsDir)
	}
	return pipeline.NormalizeTemplate(c.Build.AssetFileNames)
}

// RequestTimeout converts the server timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
