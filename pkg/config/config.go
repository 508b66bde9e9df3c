// Package config loads and hot-reloads canvaslink's configuration using
// viper (YAML file + flags + environment) with an fsnotify-driven watch,
// the way the original fawa server bootstrapped its config.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

// Config holds all runtime configuration for the canvaslink server.
//
// A reload replaces the snapshot Get returns. cmd/server reads that
// snapshot once at startup and copies the values into the components it
// builds, so a reload does not change the running server's log level,
// token lifetimes, or any other setting.
type Config struct {
	Addr               string        `mapstructure:"addr"`
	DataDir            string        `mapstructure:"dataDir"`
	CertFile           string        `mapstructure:"certFile"`
	KeyFile            string        `mapstructure:"keyFile"`
	LogLevel           string        `mapstructure:"logLevel"`
	JWTSecret          string        `mapstructure:"jwtSecret"`
	TokenHardLifetime  time.Duration `mapstructure:"tokenHardLifetime"`
	SoftReissueInterval time.Duration `mapstructure:"softReissueInterval"`
	RRSweepInterval    time.Duration `mapstructure:"rrSweepInterval"`
	ArchiveInterval    time.Duration `mapstructure:"archiveInterval"`
	PermissionCacheTTL time.Duration `mapstructure:"permissionCacheTTL"`

	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
}

// DatabaseConfig holds the Credential Store's Postgres connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslMode"`
}

// RedisConfig holds the optional permission-cache connection settings.
// Addr left empty disables the cache; the Credential Store falls back to
// direct Postgres reads.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// MinIOConfig holds the optional event-log archiver's object storage
// settings. Endpoint left empty disables the archiver.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accessKeyID"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	BucketName      string `mapstructure:"bucketName"`
	UseSSL          bool   `mapstructure:"useSSL"`
}

var (
	once sync.Once

	mu sync.RWMutex

	config Config
)

// InitConfig loads configuration exactly once for the process lifetime.
func InitConfig() error {
	var initErr error
	once.Do(func() {
		initErr = LoadAndWatch()
	})
	return initErr
}

// Get returns a snapshot of the current configuration.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	return config
}

// LoadAndWatch reads configuration from an optional .env file, a YAML
// config file, command-line flags, and the environment, then watches the
// YAML file for changes and live-reloads. The environment overrides the
// file and flag defaults; a flag passed explicitly overrides the
// environment.
func LoadAndWatch() error {
	// Best-effort: a missing .env file is normal in production.
	_ = godotenv.Load()

	if pflag.CommandLine.Lookup("addr") == nil {
		pflag.String("addr", ":8443", "HTTP(S)/WebTransport listen address")
		pflag.String("dataDir", "/data", "directory holding the per-canvas event logs")
		pflag.String("certFile", "", "path to the TLS certificate file")
		pflag.String("keyFile", "", "path to the TLS private key file")
		pflag.String("logLevel", "info", "log level: debug, info, warn, error, fatal")
		pflag.String("jwtSecret", "", "HMAC signing key for bearer tokens (required)")
		pflag.Duration("tokenHardLifetime", 5*time.Minute, "maximum token validity before mandatory re-issuance")
		pflag.Duration("softReissueInterval", 30*time.Second, "interval after which the gate attempts an inline refresh")
		pflag.Duration("rrSweepInterval", time.Minute, "refresh registry eviction sweep interval")
		pflag.Duration("archiveInterval", 10*time.Minute, "event log archiver upload interval")
		pflag.Duration("permissionCacheTTL", 10*time.Second, "permission cache entry TTL")
	}
	pflag.Parse()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return fmt.Errorf("failed to bind pflags: %w", err)
	}

	viper.SetEnvPrefix("CANVASLINK")
	viper.AutomaticEnv()
	// JWT_SECRET and DB_*/REDIS_ADDR/MINIO_* are read without the prefix,
	// matching the bare environment variable names documented in §6.
	_ = viper.BindEnv("jwtSecret", "JWT_SECRET")
	_ = viper.BindEnv("database.host", "DB_HOST")
	_ = viper.BindEnv("database.port", "DB_PORT")
	_ = viper.BindEnv("database.user", "DB_USER")
	_ = viper.BindEnv("database.password", "DB_PASSWORD")
	_ = viper.BindEnv("database.name", "DB_NAME")
	_ = viper.BindEnv("database.sslMode", "DB_SSLMODE")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	_ = viper.BindEnv("minio.accessKeyID", "MINIO_ACCESS_KEY")
	_ = viper.BindEnv("minio.secretAccessKey", "MINIO_SECRET_KEY")
	_ = viper.BindEnv("minio.bucketName", "MINIO_BUCKET")

	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslMode", "disable")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/canvaslink/")

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fwlog.Infof("Config file not found, relying on flags/environment.")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}

	mu.Lock()
	if err := viper.Unmarshal(&config); err != nil {
		mu.Unlock()
		return fmt.Errorf("the initial configuration cannot be decoded into the struct: %w", err)
	}
	mu.Unlock()

	viper.OnConfigChange(func(e fsnotify.Event) {
		fwlog.Infof("config file changed: %s, reloading...", e.Name)

		mu.Lock()
		defer mu.Unlock()

		if err := viper.Unmarshal(&config); err != nil {
			fwlog.Errorf("error reloading configuration: %v", err)
		} else {
			fwlog.Infof("configuration reloaded successfully")
		}
	})
	viper.WatchConfig()

	return nil
}
