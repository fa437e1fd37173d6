package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	KurrentDB KurrentDBConfig `mapstructure:"kurrentdb"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Advisor   AdvisorConfig   `mapstructure:"advisor"`
	Audit     AuditConfig     `mapstructure:"audit"`
	HIS       HISConfig       `mapstructure:"his"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	Env            string  `mapstructure:"env"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Insecure bool   `mapstructure:"insecure"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// AdvisorConfig configures the external classification/summarization service.
type AdvisorConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// AuditConfig selects the external sinks audit events are mirrored to.
type AuditConfig struct {
	BufferSize       int  `mapstructure:"buffer_size"`
	PostgresEnabled  bool `mapstructure:"postgres_enabled"`
	KurrentDBEnabled bool `mapstructure:"kurrentdb_enabled"`
	RetryAttempts    int  `mapstructure:"retry_attempts"`
}

// HISConfig configures the legacy hospital information system feed.
type HISConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Encrypt         bool          `mapstructure:"encrypt"`
	AdmissionTable  string        `mapstructure:"admission_table"`
	PatientTable    string        `mapstructure:"patient_table"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	InstitutionName string        `mapstructure:"institution_name"`
}

// MonitorConfig configures the bedside monitor MQTT feed.
type MonitorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

// Load reads configuration from defaults, an optional .env file and the
// environment. Nested keys map to env vars with "_" (server.port → SERVER_PORT).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}

	// A missing .env file is not an error
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)

	v.SetDefault("log.level", "info")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "medflow")
	v.SetDefault("database.password", "medflow")
	v.SetDefault("database.name", "medflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("kurrentdb.enabled", false)
	v.SetDefault("kurrentdb.host", "localhost")
	v.SetDefault("kurrentdb.port", 2113)
	v.SetDefault("kurrentdb.insecure", true)
	v.SetDefault("kurrentdb.username", "")
	v.SetDefault("kurrentdb.password", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "dev-secret-change-in-prod")
	v.SetDefault("auth.issuer", "medflow")

	v.SetDefault("advisor.enabled", true)
	v.SetDefault("advisor.url", "http://localhost:5000")
	v.SetDefault("advisor.api_key", "")
	v.SetDefault("advisor.timeout", 8*time.Second)
	v.SetDefault("advisor.rate_per_second", 5)
	v.SetDefault("advisor.burst", 10)
	v.SetDefault("advisor.cache_ttl", 24*time.Hour)
	v.SetDefault("advisor.breaker_threshold", 5)
	v.SetDefault("advisor.breaker_cooldown", 30*time.Second)

	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.postgres_enabled", true)
	v.SetDefault("audit.kurrentdb_enabled", false)
	v.SetDefault("audit.retry_attempts", 3)

	v.SetDefault("his.enabled", false)
	v.SetDefault("his.host", "localhost")
	v.SetDefault("his.port", 1433)
	v.SetDefault("his.database", "his")
	v.SetDefault("his.user", "")
	v.SetDefault("his.password", "")
	v.SetDefault("his.encrypt", false)
	v.SetDefault("his.admission_table", "dbo.EmergencyAdmissions")
	v.SetDefault("his.patient_table", "dbo.Patients")
	v.SetDefault("his.poll_interval", 30*time.Second)
	v.SetDefault("his.institution_name", "General Hospital")

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.broker", "tcp://localhost:1883")
	v.SetDefault("monitor.client_id", "medflow-vitals")
	v.SetDefault("monitor.username", "")
	v.SetDefault("monitor.password", "")
	v.SetDefault("monitor.topic", "ward/+/vitals")
	v.SetDefault("monitor.qos", 1)
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Advisor.Enabled && c.Advisor.URL == "" {
		return fmt.Errorf("advisor.url is required when the advisor is enabled")
	}
	if c.Advisor.Timeout <= 0 {
		return fmt.Errorf("advisor.timeout must be positive")
	}
	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit.buffer_size must be positive")
	}
	if c.Audit.KurrentDBEnabled && !c.KurrentDB.Enabled {
		return fmt.Errorf("audit.kurrentdb_enabled requires kurrentdb.enabled")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool {
	return c.Server.Env == "development"
}
