// Package config loads and validates webcat configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webcat-crawler/internal/daterange"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// EnvPrefix prefixes every environment override, e.g. WEBCAT_DB_PATH.
const EnvPrefix = "WEBCAT"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Archive   ArchiveConfig        `mapstructure:"archive"`
	Visit     VisitConfig          `mapstructure:"visit"`
	Viewports []visit.ViewportSpec `mapstructure:"viewports"`
	Browser   BrowserConfig        `mapstructure:"browser"`
	Catalog   CatalogConfig        `mapstructure:"catalog"`
	Storage   StorageConfig        `mapstructure:"storage"`
	DB        DBConfig             `mapstructure:"db"`
	Client    ClientConfig         `mapstructure:"client"`
	PubSub    PubSubConfig         `mapstructure:"pubsub"`
	Server    ServerConfig         `mapstructure:"server"`
	Logging   LoggingConfig        `mapstructure:"logging"`
	Telemetry TelemetryConfig      `mapstructure:"telemetry"`
}

// ArchiveConfig points at the time-travel archive.
type ArchiveConfig struct {
	AvailabilityURL string        `mapstructure:"availability_url"`
	WebBaseURL      string        `mapstructure:"web_base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxBodyBytes    int           `mapstructure:"max_body_bytes"`
}

// VisitConfig governs date iteration and the overwrite policy. StartDate
// and EndDate override every page's bounds when set.
type VisitConfig struct {
	StartDate     string        `mapstructure:"start_date"`
	EndDate       string        `mapstructure:"end_date"`
	Increment     string        `mapstructure:"increment"`
	Overwrite     bool          `mapstructure:"overwrite"`
	Current       bool          `mapstructure:"current"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
	Concurrency   int           `mapstructure:"concurrency"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// BrowserConfig selects and launches the headless browser.
type BrowserConfig struct {
	Driver   string `mapstructure:"driver"`
	Headless bool   `mapstructure:"headless"`
	Stealth  bool   `mapstructure:"stealth"`
	ExecPath string `mapstructure:"exec_path"`
}

// CatalogConfig locates the page catalog.
type CatalogConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects where screenshots and raw bodies are written.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
	Prefix      string `mapstructure:"prefix"`
}

// DBConfig selects the visit record store.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// ClientConfig controls caller identity lookup.
type ClientConfig struct {
	IPEndpoint string `mapstructure:"ip_endpoint"`
	GeoIPDB    string `mapstructure:"geoip_db"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("archive.availability_url", "https://archive.org/wayback/available")
	v.SetDefault("archive.web_base_url", "http://web.archive.org/web")
	v.SetDefault("archive.request_timeout", "15s")
	v.SetDefault("archive.rate_per_second", 1.0)
	v.SetDefault("archive.burst", 1)
	v.SetDefault("archive.max_retries", 3)
	v.SetDefault("archive.max_body_bytes", 10<<20)
	v.SetDefault("visit.start_date", "")
	v.SetDefault("visit.end_date", "")
	v.SetDefault("visit.increment", "100 years")
	v.SetDefault("visit.overwrite", false)
	v.SetDefault("visit.current", false)
	v.SetDefault("visit.render_timeout", "60s")
	v.SetDefault("visit.concurrency", 1)
	v.SetDefault("visit.user_agent", "webcat-crawler/1.0")
	v.SetDefault("viewports", []map[string]any{
		{"name": "mobile", "width": 600, "height": 1, "landscape": false},
		{"name": "desktop", "width": 1200, "height": 1, "landscape": true},
	})
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stealth", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.format", "")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "screenshots")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_path_style", false)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.provider", "sqlite")
	v.SetDefault("db.path", "data/visits.db")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "visits")
	v.SetDefault("client.ip_endpoint", "https://api.ipify.org?format=json")
	v.SetDefault("client.geoip_db", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "webcat-crawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate returns the first invalid setting.
func (c Config) Validate() error {
	if c.Archive.AvailabilityURL == "" || c.Archive.WebBaseURL == "" {
		return errors.New("archive.availability_url and archive.web_base_url must be set")
	}
	if c.Archive.RequestTimeout <= 0 {
		return errors.New("archive.request_timeout must be > 0")
	}
	if c.Archive.MaxRetries < 0 {
		return errors.New("archive.max_retries must be >= 0")
	}
	if c.Archive.MaxBodyBytes <= 0 {
		return errors.New("archive.max_body_bytes must be > 0")
	}
	if _, err := c.Increment(); err != nil {
		return fmt.Errorf("visit.increment: %w", err)
	}
	for _, key := range []struct{ name, value string }{
		{"visit.start_date", c.Visit.StartDate},
		{"visit.end_date", c.Visit.EndDate},
	} {
		if key.value == "" {
			continue
		}
		if _, err := daterange.ParseDate(key.value); err != nil {
			return fmt.Errorf("%s: %w", key.name, err)
		}
	}
	if c.Visit.RenderTimeout <= 0 {
		return errors.New("visit.render_timeout must be > 0")
	}
	if c.Visit.Concurrency <= 0 {
		return errors.New("visit.concurrency must be > 0")
	}
	if len(c.Viewports) == 0 {
		return errors.New("at least one viewport must be configured")
	}
	seen := make(map[string]bool, len(c.Viewports))
	for _, vp := range c.Viewports {
		if vp.Name == "" || vp.Width <= 0 {
			return fmt.Errorf("viewport %q needs a name and a positive width", vp.Name)
		}
		if seen[vp.Name] {
			return fmt.Errorf("viewport %q is configured twice", vp.Name)
		}
		seen[vp.Name] = true
	}
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.driver must be chromedp or rod, got %q", c.Browser.Driver)
	}
	switch c.Catalog.Format {
	case "", "yaml", "csv":
	default:
		return fmt.Errorf("catalog.format must be yaml or csv, got %q", c.Catalog.Format)
	}
	switch c.Storage.Provider {
	case "local":
		if c.Storage.BaseDir == "" {
			return errors.New("storage.base_dir must be set for the local provider")
		}
	case "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket must be set for the gcs provider")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be set for the s3 provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.DB.Provider {
	case "sqlite":
		if c.DB.Path == "" {
			return errors.New("db.path must be set for the sqlite provider")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Increment parses visit.increment.
func (c Config) Increment() (daterange.Increment, error) {
	inc, err := daterange.ParseIncrement(c.Visit.Increment)
	if err != nil {
		return daterange.Increment{}, fmt.Errorf("parse increment: %w", err)
	}
	return inc, nil
}
