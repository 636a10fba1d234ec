// Package config loads process configuration from flags, FLEET_* environment
// variables and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"fleettrack/internal/logger"
)

const envPrefix = "FLEET"

const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPAddr string
	TCPAddr  string

	// StorageBackend holds vehicles, states and commands: memory or mongo.
	StorageBackend string
	// HistoryBackend is memory, mongo or postgres.
	HistoryBackend string

	Mongo       MongoConfig
	PostgresDSN string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	AutoRegister bool
	DefaultOwner string

	OnlineWindow     time.Duration
	CommandTimeout   time.Duration
	HistoryRetention time.Duration
	LenientAck       bool

	Log *logger.Options
}

// AddFlags registers every configuration flag with its default.
func AddFlags(flags *pflag.FlagSet) {
	flags.String("http.addr", ":8000", "HTTP listen address.")
	flags.String("tcp.addr", ":5023", "Device TCP listen address. Empty disables the listener.")
	flags.String("storage.backend", BackendMemory, "Vehicle, state and command storage (memory, mongo).")
	flags.String("history.backend", "", "Location history storage (memory, mongo, postgres). Defaults to storage.backend.")
	flags.String("mongo.uri", "", "MongoDB connection URI.")
	flags.String("mongo.database", "tracking", "MongoDB database name.")
	flags.String("postgres.dsn", "", "Postgres DSN for the history store.")
	flags.String("redis.url", "", "Redis URL for the lookup cache and live state. Empty disables it.")
	flags.String("nats.url", "", "NATS URL for command delivery. Empty logs commands instead.")
	flags.String("auth.jwt_secret", "", "HS256 secret for operator bearer tokens. Empty disables auth.")
	flags.Bool("registry.auto_register", false, "Create vehicles for unknown IMEIs on first report.")
	flags.String("registry.default_owner", "", "Owner of auto-registered vehicles.")
	flags.Duration("state.online_window", 60*time.Second, "Report age after which a vehicle is offline.")
	flags.Duration("command.timeout", 2*time.Minute, "Time a command may wait for confirmation.")
	flags.Duration("history.retention", 90*24*time.Hour, "Age after which history is purged by maintenance.")
	flags.Bool("ingest.lenient_ack", false, "Answer 200 to devices even when a report is rejected.")
	flags.String("log.level", "info", "The minimum log level to output (debug, info, warn, error).")
	flags.String("log.format", "json", "The log output format ('json' or 'console').")
}

// Load reads the configuration. flags may be nil, in which case only the
// environment and defaults are used.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags == nil {
		flags = pflag.NewFlagSet("config", pflag.ContinueOnError)
		AddFlags(flags)
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	// Variable names used by earlier deployments.
	legacy := map[string]string{
		"mongo.uri":       "MONGODB_URI",
		"mongo.database":  "MONGODB_DATABASE",
		"redis.url":       "REDIS_URL",
		"auth.jwt_secret": "JWT_ACCESS_SECRET",
		"log.level":       "LOG_LEVEL",
	}
	for key, env := range legacy {
		if err := v.BindEnv(key, envKey(key), env); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		HTTPAddr:       v.GetString("http.addr"),
		TCPAddr:        v.GetString("tcp.addr"),
		StorageBackend: strings.ToLower(v.GetString("storage.backend")),
		HistoryBackend: strings.ToLower(v.GetString("history.backend")),
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		PostgresDSN:      v.GetString("postgres.dsn"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		JWTSecret:        v.GetString("auth.jwt_secret"),
		AutoRegister:     v.GetBool("registry.auto_register"),
		DefaultOwner:     v.GetString("registry.default_owner"),
		OnlineWindow:     v.GetDuration("state.online_window"),
		CommandTimeout:   v.GetDuration("command.timeout"),
		HistoryRetention: v.GetDuration("history.retention"),
		LenientAck:       v.GetBool("ingest.lenient_ack"),
		Log: &logger.Options{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if cfg.HistoryBackend == "" {
		cfg.HistoryBackend = cfg.StorageBackend
	}
	return cfg, cfg.Validate()
}

func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendMemory:
	case BackendMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required for the mongo storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.StorageBackend))
	}

	switch c.HistoryBackend {
	case BackendMemory:
	case BackendMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required for the mongo history backend"))
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres history backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history.backend %q", c.HistoryBackend))
	}

	if c.AutoRegister && c.DefaultOwner == "" {
		errs = append(errs, errors.New("registry.default_owner is required when auto-registration is on"))
	}
	if c.OnlineWindow <= 0 {
		errs = append(errs, errors.New("state.online_window must be positive"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command.timeout must be positive"))
	}
	if c.HistoryRetention <= 0 {
		errs = append(errs, errors.New("history.retention must be positive"))
	}
	return errors.Join(errs...)
}
