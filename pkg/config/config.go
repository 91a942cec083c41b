package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ovaphlow/pitchfork/service-user-management/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/utilities"
)

// Config is the full application configuration. It is loaded once at startup
// and handed to the components that need it.
type Config struct {
	Server struct {
		Address     string   `mapstructure:"address"`
		BasePath    string   `mapstructure:"base_path"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"server"`

	Database struct {
		Driver   string `mapstructure:"driver"` // postgres | pgx | sqlite
		URL      string `mapstructure:"url"`
		MaxConns int    `mapstructure:"max_conns"`
		TimeZone string `mapstructure:"timezone"`
	} `mapstructure:"database"`

	Auth struct {
		JWTSecret    string `mapstructure:"jwt_secret"`
		JWTAlgorithm string `mapstructure:"jwt_algorithm"`
		LoginTime    int    `mapstructure:"login_time"` // seconds
		BcryptCost   int    `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	Log struct {
		Level         string `mapstructure:"level"`
		Dev           bool   `mapstructure:"dev"`
		File          string `mapstructure:"file"`
		RotationHours int    `mapstructure:"rotation_hours"`
		MaxAgeDays    int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`

	Snowflake struct {
		Node int64 `mapstructure:"node"`
	} `mapstructure:"snowflake"`
}

// New returns a viper instance with defaults and env bindings applied.
// Callers may bind cobra flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.address", "0.0.0.0:8431")
	v.SetDefault("server.base_path", "/api/user_management")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.timezone", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_algorithm", "HS256")
	v.SetDefault("auth.login_time", 600)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dev", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.rotation_hours", 24)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("snowflake.node", 1)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// names used by existing deployments
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.timezone", "DATABASE_TIMEZONE")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.jwt_algorithm", "JWT_ALGORITHM")
	_ = v.BindEnv("auth.login_time", "LOGIN_TIME")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.dev", "LOG_DEV")
	_ = v.BindEnv("snowflake.node", "SNOWFLAKE_NODE")

	return v
}

// Load reads .env (best effort), the optional config file and the environment
// into a validated Config. An empty file means: look for config.yaml in the
// working directory, or the path in CONFIG_FILE.
func Load(v *viper.Viper, file string) (*Config, error) {
	// .env is optional; real environment wins over it
	_ = godotenv.Load()

	if file == "" {
		file = os.Getenv("CONFIG_FILE")
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if cfg.Database.URL == "" && cfg.Database.Driver != "sqlite" {
		cfg.Database.URL = urlFromParts()
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// urlFromParts assembles a postgres URL from the DB_* variables.
func urlFromParts() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(envOr("DB_USER", "backendgang"), envOr("DB_PASSWORD", "backendgang")),
		Host:     envOr("DB_HOSTNAME", "db") + ":" + envOr("DB_PORT", "8010"),
		Path:     "/" + envOr("DB_NAME", "backend"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret must be set")
	}
	switch c.Auth.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("auth.jwt_algorithm %q is not supported", c.Auth.JWTAlgorithm)
	}
	if c.Auth.LoginTime <= 0 {
		return errors.New("auth.login_time must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("database.url must not be empty")
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	return nil
}

// TokenTTL is the lifetime of issued session tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.LoginTime) * time.Second
}

// DatabaseConfig converts to the connection settings used by pkg/database.
func (c *Config) DatabaseConfig() database.Config {
	maxConns := c.Database.MaxConns
	if maxConns <= 0 {
		maxConns = 5
	}
	return database.Config{
		Driver:   c.Database.Driver,
		DSN:      c.Database.URL,
		MaxConns: maxConns,
		Timeout:  5 * time.Second,
		TimeZone: c.Database.TimeZone,
	}
}

// LoggerConfig converts to the zap logger settings used by pkg/utilities.
func (c *Config) LoggerConfig() utilities.Config {
	lvl := c.Log.Level
	if lvl == "" && c.Log.Dev {
		lvl = "debug"
	}
	return utilities.Config{
		Level:        lvl,
		Dev:          c.Log.Dev,
		File:         c.Log.File,
		RotationTime: time.Duration(c.Log.RotationHours) * time.Hour,
		MaxAge:       time.Duration(c.Log.MaxAgeDays) * 24 * time.Hour,
	}
}
