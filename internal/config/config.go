package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "ARKHAMCARDS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "arkhamcards.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultCookieName     = "arkham_session"
	defaultIssuer         = "arkhamcards"
	defaultGuidesPath     = "guides"
	defaultRedisChannel   = "arkhamcards:realtime"

	// DriverSQLite selects the embedded SQLite database.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL server reached through database.dsn.
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	LogLevel           string
	LogFormat          string
	AuthSigningSecret  string
	AuthIssuer         string
	AuthCookieName     string
	CatalogPath        string
	TabooPath          string
	GuidesPath         string
	RedisAddress       string
	RedisChannel       string
	TracingEnabled     bool
	CORSAllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("guides.path", defaultGuidesPath)
	configViper.SetDefault("redis.channel", defaultRedisChannel)
	configViper.SetDefault("tracing.enabled", false)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          configViper.GetString("log.format"),
		AuthSigningSecret:  configViper.GetString("auth.signing_secret"),
		AuthIssuer:         configViper.GetString("auth.issuer"),
		AuthCookieName:     configViper.GetString("auth.cookie_name"),
		CatalogPath:        configViper.GetString("catalog.path"),
		TabooPath:          configViper.GetString("catalog.taboo_path"),
		GuidesPath:         configViper.GetString("guides.path"),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisChannel:       configViper.GetString("redis.channel"),
		TracingEnabled:     configViper.GetBool("tracing.enabled"),
		CORSAllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console", "":
	default:
		return fmt.Errorf("log.format %q is not supported", c.LogFormat)
	}
	if strings.TrimSpace(c.RedisAddress) != "" && strings.TrimSpace(c.RedisChannel) == "" {
		return fmt.Errorf("redis.channel is required when redis.address is set")
	}
	return nil
}
