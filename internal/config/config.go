package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Download DownloadConfig `yaml:"download" mapstructure:"download"`
	Extract  ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates the manifest, raw download and export trees.
type PathsConfig struct {
	Lists  string `yaml:"lists" mapstructure:"lists"`
	Raw    string `yaml:"raw" mapstructure:"raw"`
	Export string `yaml:"export" mapstructure:"export"`
}

// AuthConfig points at the machine-local credential store.
type AuthConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	NetrcPath string `yaml:"netrc_path" mapstructure:"netrc_path"`
	Host      string `yaml:"host" mapstructure:"host"`
	Required  bool   `yaml:"required" mapstructure:"required"`
}

// DownloadConfig configures the fetcher and the download worker pool.
type DownloadConfig struct {
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BufferBytes      int     `yaml:"buffer_bytes" mapstructure:"buffer_bytes"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Extension        string  `yaml:"extension" mapstructure:"extension"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ExtractConfig configures the grid extraction phase.
type ExtractConfig struct {
	Workers    int               `yaml:"workers" mapstructure:"workers"` // 0 = one per CPU
	Extension  string            `yaml:"extension" mapstructure:"extension"`
	Period     string            `yaml:"period" mapstructure:"period"`
	Composites []CompositeConfig `yaml:"composites" mapstructure:"composites"`
}

// CompositeConfig names two vector components and the derived magnitude.
type CompositeConfig struct {
	U    string `yaml:"u" mapstructure:"u"`
	V    string `yaml:"v" mapstructure:"v"`
	Name string `yaml:"name" mapstructure:"name"`
}

// ExportConfig selects the export sinks.
type ExportConfig struct {
	Formats     []string `yaml:"formats" mapstructure:"formats"`
	Grid        []string `yaml:"grid" mapstructure:"grid"`
	Summary     bool     `yaml:"summary" mapstructure:"summary"`
	DatabaseURL string   `yaml:"database_url" mapstructure:"database_url"`
	Schema      string   `yaml:"schema" mapstructure:"schema"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MERRA2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.lists", "MERRA2/Lists")
	v.SetDefault("paths.raw", "MERRA2/Raw")
	v.SetDefault("paths.export", "MERRA2/Export")
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.netrc_path", "~/.netrc")
	v.SetDefault("auth.host", "urs.earthdata.nasa.gov")
	v.SetDefault("auth.required", true)
	v.SetDefault("download.workers", 4)
	v.SetDefault("download.max_attempts", 5)
	v.SetDefault("download.initial_backoff_ms", 2000)
	v.SetDefault("download.max_backoff_ms", 60000)
	v.SetDefault("download.multiplier", 1.5)
	v.SetDefault("download.timeout_secs", 120)
	v.SetDefault("download.buffer_bytes", 32*1024)
	v.SetDefault("download.rate_per_sec", 10)
	v.SetDefault("download.extension", ".nc4")
	v.SetDefault("download.user_agent", "merra2-cli/1.0")
	v.SetDefault("extract.workers", 0)
	v.SetDefault("extract.extension", ".nc4")
	v.SetDefault("extract.period", "none")
	v.SetDefault("extract.composites", []map[string]any{
		{"u": "U50M", "v": "V50M", "name": "WS50M"},
	})
	v.SetDefault("export.formats", []string{"csv"})
	v.SetDefault("export.grid", []string{})
	v.SetDefault("export.summary", true)
	v.SetDefault("export.database_url", "")
	v.SetDefault("export.schema", "merra2")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var (
	knownFormats = map[string]bool{"csv": true, "wide_csv": true, "xlsx": true, "sqlite": true, "postgres": true}
	knownGrids   = map[string]bool{"geojson": true, "shapefile": true}
)

// Validate checks the settings the given command mode depends on.
// Modes: "download", "process", "run".
func (c *Config) Validate(mode string) error {
	var errs []string

	needDownload := mode == "download" || mode == "run"
	needProcess := mode == "process" || mode == "run"
	if !needDownload && !needProcess {
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if needDownload {
		if c.Paths.Lists == "" {
			errs = append(errs, "paths.lists is required")
		}
		if c.Download.Workers < 1 || c.Download.Workers > 64 {
			errs = append(errs, "download.workers must be between 1 and 64")
		}
		if c.Download.MaxAttempts < 1 {
			errs = append(errs, "download.max_attempts must be at least 1")
		}
		if c.Download.Multiplier < 1 {
			errs = append(errs, "download.multiplier must be at least 1")
		}
		if c.Download.TimeoutSecs <= 0 {
			errs = append(errs, "download.timeout_secs must be positive")
		}
		if !strings.HasPrefix(c.Download.Extension, ".") {
			errs = append(errs, "download.extension must start with a dot")
		}
	}

	if c.Paths.Raw == "" {
		errs = append(errs, "paths.raw is required")
	}

	if needProcess {
		if c.Paths.Export == "" {
			errs = append(errs, "paths.export is required")
		}
		if c.Extract.Workers < 0 {
			errs = append(errs, "extract.workers must not be negative")
		}
		for _, comp := range c.Extract.Composites {
			if comp.U == "" || comp.V == "" || comp.Name == "" {
				errs = append(errs, "extract.composites entries need u, v and name")
				break
			}
		}
		for _, f := range c.Export.Formats {
			if !knownFormats[f] {
				errs = append(errs, "export.formats: unknown format "+f)
			}
			if f == "postgres" && c.Export.DatabaseURL == "" {
				errs = append(errs, "export.database_url is required for the postgres format")
			}
		}
		for _, g := range c.Export.Grid {
			if !knownGrids[g] {
				errs = append(errs, "export.grid: unknown format "+g)
			}
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
