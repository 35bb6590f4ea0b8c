package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath         = "config.toml"
	DefaultHTTPAddr           = ":8080"
	DefaultDataRoot           = "data"
	DefaultPGHost             = "127.0.0.1"
	DefaultPGPort             = 5432
	DefaultPGUser             = "postgres"
	DefaultPGDatabase         = "wagateway"
	DefaultSaaSPGDatabase     = "wagateway_saas"
	DefaultPGSSLMode          = "disable"
	DefaultGraphBaseURL       = "https://graph.facebook.com/v20.0"
	DefaultWebhookBodyLimit   = 1 << 20 // 1 MiB
	DefaultTimeoutSeconds     = 30
	DefaultMediaTimeoutSecs   = 300
	DefaultRatePerSecond      = 20
	DefaultRateBurst          = 40
	DefaultScheduleSpec       = "@every 1m"
	DefaultFlowStartNodeID    = "start"
	DefaultStorageProvider    = StorageProviderLocal
	StorageProviderLocal      = "local"
	StorageProviderS3         = "s3"
	DefaultS3Region           = "sa-east-1"
	DefaultWebsocketWriteSecs = 10
)

type Config struct {
	Log          LogConfig      `toml:"log"`
	Server       ServerConfig   `toml:"server"`
	Postgres     PostgresConfig `toml:"postgres"`
	SaaSPostgres PostgresConfig `toml:"saas_postgres"`
	WhatsApp     WhatsAppConfig `toml:"whatsapp"`
	Storage      StorageConfig  `toml:"storage"`
	Media        MediaConfig    `toml:"media"`
	Schedule     ScheduleConfig `toml:"schedule"`
	Flow         FlowConfig     `toml:"flow"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicBaseURL is the externally reachable origin, used for locally stored media URLs.
	PublicBaseURL      string `toml:"public_base_url"`
	WebhookBodyLimit   int64  `toml:"webhook_body_limit"`
	WebsocketWriteSecs int    `toml:"websocket_write_seconds"`
	AutoMigrate        bool   `toml:"auto_migrate"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
	MaxConns int32  `toml:"max_conns"`
}

type WhatsAppConfig struct {
	BaseURL             string  `toml:"base_url"`
	VerifyToken         string  `toml:"verify_token"`
	AppSecret           string  `toml:"app_secret"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	MediaTimeoutSeconds int     `toml:"media_timeout_seconds"`
	RatePerSecond       float64 `toml:"rate_per_second"`
	RateBurst           int     `toml:"rate_burst"`
}

func (c WhatsAppConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, DefaultTimeoutSeconds)
}

func (c WhatsAppConfig) MediaTimeout() time.Duration {
	return secondsOr(c.MediaTimeoutSeconds, DefaultMediaTimeoutSecs)
}

type StorageConfig struct {
	Provider string   `toml:"provider"`
	DataRoot string   `toml:"data_root"`
	S3       S3Config `toml:"s3"`
}

type S3Config struct {
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	PublicBaseURL string `toml:"public_base_url"`
	UsePathStyle  bool   `toml:"use_path_style"`
}

type MediaConfig struct {
	// FFmpegPath enables audio transcoding of unsupported formats when set.
	FFmpegPath string `toml:"ffmpeg_path"`
	MaxBytes   int64  `toml:"max_bytes"`
}

type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Spec    string `toml:"spec"`
}

type FlowConfig struct {
	StartNodeID string `toml:"start_node_id"`
}

// DSN renders the pool connection string.
func (c PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
	if c.MaxConns > 0 {
		dsn += fmt.Sprintf("&pool_max_conns=%d", c.MaxConns)
	}
	return dsn
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:               DefaultHTTPAddr,
			WebhookBodyLimit:   DefaultWebhookBodyLimit,
			WebsocketWriteSecs: DefaultWebsocketWriteSecs,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		SaaSPostgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultSaaSPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:             DefaultGraphBaseURL,
			TimeoutSeconds:      DefaultTimeoutSeconds,
			MediaTimeoutSeconds: DefaultMediaTimeoutSecs,
			RatePerSecond:       DefaultRatePerSecond,
			RateBurst:           DefaultRateBurst,
		},
		Storage: StorageConfig{
			Provider: DefaultStorageProvider,
			DataRoot: DefaultDataRoot,
			S3: S3Config{
				Region: DefaultS3Region,
			},
		},
		Schedule: ScheduleConfig{
			Enabled: true,
			Spec:    DefaultScheduleSpec,
		},
		Flow: FlowConfig{
			StartNodeID: DefaultFlowStartNodeID,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
