package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Duration читается из JSON строкой ("10s", "1m30s").
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

type Config struct {
	Port        string `json:"port"`
	DBURL       string `json:"dbUrl"` // пусто - in-memory
	AutoMigrate bool   `json:"autoMigrate"`

	// пул соединений Postgres
	DBMaxOpenConns    int      `json:"dbMaxOpenConns"`
	DBMaxIdleConns    int      `json:"dbMaxIdleConns"`
	DBConnMaxLifetime Duration `json:"dbConnMaxLifetime"`

	// Движок генерации: пусто - встроенный, пишет в Workspace
	EngineURL     string   `json:"engineUrl"`
	EngineTimeout Duration `json:"engineTimeout"`
	CallbackURL   string   `json:"callbackUrl"`
	Workspace     string   `json:"workspace"`

	// Redis для блокировок между репликами; пусто - локальные
	RedisAddr     string   `json:"redisAddr"`
	RedisPassword string   `json:"redisPassword"`
	RedisDB       int      `json:"redisDb"`
	LockTTL       Duration `json:"lockTtl"`

	StrictSchemas  bool   `json:"strictSchemas"`
	DefinitionsDir string `json:"definitionsDir"`
	GinMode        string `json:"ginMode"`

	LogLevel      string `json:"logLevel"`
	LogDir        string `json:"logDir"` // пусто - только stdout
	LogMaxSize    int    `json:"logMaxSize"`
	LogMaxBackups int    `json:"logMaxBackups"`
	LogMaxAge     int    `json:"logMaxAge"`
	LogCompress   bool   `json:"logCompress"`
}

func def() Config {
	return Config{
		Port:        "8080",
		DBURL:       "",
		AutoMigrate: false,

		DBMaxOpenConns:    10,
		DBMaxIdleConns:    5,
		DBConnMaxLifetime: Duration{30 * time.Minute},

		EngineURL:     "",
		EngineTimeout: Duration{10 * time.Second},
		CallbackURL:   "",
		Workspace:     "workspace",

		RedisAddr: "",
		RedisDB:   0,
		LockTTL:   Duration{2 * time.Minute},

		StrictSchemas:  false,
		DefinitionsDir: "",
		GinMode:        "release",

		LogLevel:      "info",
		LogDir:        "",
		LogMaxSize:    100,
		LogMaxBackups: 5,
		LogMaxAge:     30,
		LogCompress:   true,
	}
}

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

func getenvInt(k string, fallback int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getenvDuration(k string, fallback Duration) (Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", k, err)
	}
	return Duration{d}, nil
}

func applyEnv(cfg *Config) error {
	cfg.Port = getenv("LAMBRA_PORT", cfg.Port)
	cfg.DBURL = getenv("LAMBRA_DB_URL", cfg.DBURL)
	cfg.AutoMigrate = getenvBool("LAMBRA_AUTO_MIGRATE", cfg.AutoMigrate)

	cfg.EngineURL = getenv("LAMBRA_ENGINE_URL", cfg.EngineURL)
	cfg.CallbackURL = getenv("LAMBRA_CALLBACK_URL", cfg.CallbackURL)
	cfg.Workspace = getenv("LAMBRA_WORKSPACE", cfg.Workspace)

	cfg.RedisAddr = getenv("LAMBRA_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenv("LAMBRA_REDIS_PASSWORD", cfg.RedisPassword)

	cfg.StrictSchemas = getenvBool("LAMBRA_STRICT_SCHEMAS", cfg.StrictSchemas)
	cfg.DefinitionsDir = getenv("LAMBRA_DEFINITIONS_DIR", cfg.DefinitionsDir)
	cfg.GinMode = getenv("LAMBRA_GIN_MODE", cfg.GinMode)

	cfg.LogLevel = getenv("LAMBRA_LOG_LEVEL", cfg.LogLevel)
	cfg.LogDir = getenv("LAMBRA_LOG_DIR", cfg.LogDir)
	cfg.LogCompress = getenvBool("LAMBRA_LOG_COMPRESS", cfg.LogCompress)

	var errs *multierror.Error
	var err error
	if cfg.EngineTimeout, err = getenvDuration("LAMBRA_ENGINE_TIMEOUT", cfg.EngineTimeout); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.DBMaxOpenConns, err = getenvInt("LAMBRA_DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.DBMaxIdleConns, err = getenvInt("LAMBRA_DB_MAX_IDLE_CONNS", cfg.DBMaxIdleConns); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.DBConnMaxLifetime, err = getenvDuration("LAMBRA_DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetime); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.LockTTL, err = getenvDuration("LAMBRA_LOCK_TTL", cfg.LockTTL); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.RedisDB, err = getenvInt("LAMBRA_REDIS_DB", cfg.RedisDB); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.LogMaxSize, err = getenvInt("LAMBRA_LOG_MAX_SIZE", cfg.LogMaxSize); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.LogMaxBackups, err = getenvInt("LAMBRA_LOG_MAX_BACKUPS", cfg.LogMaxBackups); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.LogMaxAge, err = getenvInt("LAMBRA_LOG_MAX_AGE", cfg.LogMaxAge); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Load: значения по умолчанию -> JSON-файл -> .env -> LAMBRA_* -> флаги.
// Флаги перекрывают остальное, только если заданы явно.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("lambra", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var fl Config
	configPath := fs.String("config", "config.json", "Path to config JSON")
	envPath := fs.String("env", ".env", "Path to .env file")
	fs.StringVar(&fl.Port, "port", "", "HTTP port")
	fs.StringVar(&fl.DBURL, "db", "", "Postgres URL (empty = in-memory)")
	fs.BoolVar(&fl.AutoMigrate, "auto-migrate", false, "Apply schema migrations on start")
	fs.IntVar(&fl.DBMaxOpenConns, "db-max-open", 0, "Postgres pool: max open connections")
	fs.IntVar(&fl.DBMaxIdleConns, "db-max-idle", 0, "Postgres pool: max idle connections")
	fs.StringVar(&fl.EngineURL, "engine-url", "", "Generation engine URL (empty = built-in)")
	fs.DurationVar(&fl.EngineTimeout.Duration, "engine-timeout", 0, "Engine submission timeout")
	fs.StringVar(&fl.CallbackURL, "callback-url", "", "Public base URL for engine status callbacks")
	fs.StringVar(&fl.Workspace, "workspace", "", "Built-in engine output directory")
	fs.StringVar(&fl.RedisAddr, "redis-addr", "", "Redis address for generation locks (empty = in-process)")
	fs.IntVar(&fl.RedisDB, "redis-db", 0, "Redis database")
	fs.DurationVar(&fl.LockTTL.Duration, "lock-ttl", 0, "Generation lock TTL")
	fs.BoolVar(&fl.StrictSchemas, "strict-schemas", false, "Reject endpoints whose schemas fail JSON Schema lint")
	fs.StringVar(&fl.DefinitionsDir, "definitions", "", "Directory with YAML definitions to import on start")
	fs.StringVar(&fl.GinMode, "gin-mode", "", "gin mode (debug/release/test)")
	fs.StringVar(&fl.LogLevel, "log-level", "", "Log level")
	fs.StringVar(&fl.LogDir, "log-dir", "", "Directory for rotated log files")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(*configPath); err == nil && !st.IsDir() {
		if err := loadJSON(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	// .env не перекрывает уже заданные переменные окружения
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("env file %s: %w", *envPath, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	// Flags overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = strings.TrimSpace(fl.Port)
		case "db":
			cfg.DBURL = strings.TrimSpace(fl.DBURL)
		case "auto-migrate":
			cfg.AutoMigrate = fl.AutoMigrate
		case "db-max-open":
			cfg.DBMaxOpenConns = fl.DBMaxOpenConns
		case "db-max-idle":
			cfg.DBMaxIdleConns = fl.DBMaxIdleConns
		case "engine-url":
			cfg.EngineURL = strings.TrimSpace(fl.EngineURL)
		case "engine-timeout":
			cfg.EngineTimeout = fl.EngineTimeout
		case "callback-url":
			cfg.CallbackURL = strings.TrimSpace(fl.CallbackURL)
		case "workspace":
			cfg.Workspace = strings.TrimSpace(fl.Workspace)
		case "redis-addr":
			cfg.RedisAddr = strings.TrimSpace(fl.RedisAddr)
		case "redis-db":
			cfg.RedisDB = fl.RedisDB
		case "lock-ttl":
			cfg.LockTTL = fl.LockTTL
		case "strict-schemas":
			cfg.StrictSchemas = fl.StrictSchemas
		case "definitions":
			cfg.DefinitionsDir = strings.TrimSpace(fl.DefinitionsDir)
		case "gin-mode":
			cfg.GinMode = strings.TrimSpace(fl.GinMode)
		case "log-level":
			cfg.LogLevel = strings.TrimSpace(fl.LogLevel)
		case "log-dir":
			cfg.LogDir = strings.TrimSpace(fl.LogDir)
		}
	})

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs *multierror.Error
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("port: %q is not a valid port", c.Port))
	}
	if c.EngineTimeout.Duration <= 0 {
		errs = multierror.Append(errs, errors.New("engineTimeout must be positive"))
	}
	if c.DBMaxOpenConns <= 0 {
		errs = multierror.Append(errs, errors.New("dbMaxOpenConns must be positive"))
	}
	if c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		errs = multierror.Append(errs, fmt.Errorf("dbMaxIdleConns: %d is outside 0..dbMaxOpenConns", c.DBMaxIdleConns))
	}
	if c.DBConnMaxLifetime.Duration < 0 {
		errs = multierror.Append(errs, errors.New("dbConnMaxLifetime must not be negative"))
	}
	if c.LockTTL.Duration <= 0 {
		errs = multierror.Append(errs, errors.New("lockTtl must be positive"))
	}
	if c.EngineURL == "" && c.Workspace == "" {
		errs = multierror.Append(errs, errors.New("workspace is required for the built-in engine"))
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		errs = multierror.Append(errs, fmt.Errorf("ginMode: unknown mode %q", c.GinMode))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("logLevel: %w", err))
	}
	return errs.ErrorOrNil()
}
