package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values. Sensitive data
// never has defaults inside code and must come from the environment or an
// env file.
type AppConfig struct {
	AppPort   string
	JWTSecret string

	// Catalog connection
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Cache connection
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	// Remote platform
	TelegramBotToken string
	TelegramAdminID  int64
	StorageChatID    int64
	MaxFileSizeBytes int64

	// Outbound quota on the remote platform API
	RateLimitRequests int
	RateLimitWindowS  int
	RateLimitMaxWaitS int

	// Ingress protection (per client IP)
	IngressLimitPerMinute int

	// Accounts
	EnableRegistration bool
	AdminEmail         string
	AdminPassword      string
	FrontendURL        string

	SessionTTLMinutes   int
	MagicLinkTTLMinutes int

	// Listing cache TTLs in seconds
	CacheFilesTTLS      int
	CacheCategoriesTTLS int

	// Logging
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	GinMode string
}

var cfg AppConfig
var loaded bool

// Load reads configuration once during boot. Precedence: config/config.json
// -> defaults -> environment variables (an optional .env file is merged into
// the environment first).
func Load() AppConfig {
	if loaded {
		return cfg
	}

	_ = godotenv.Load()

	// Registration stays open unless JSON or env disable it.
	cfg.EnableRegistration = true

	_ = loadJSONConfig(filepath.Join("config", "config.json"), &cfg)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}
	if cfg.RateLimitRequests <= 0 || cfg.RateLimitWindowS <= 0 {
		log.Fatal("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// loadJSONConfig reads an optional JSON file into cfg. Returns an error only
// for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // missing file is fine
	}
	defer f.Close()

	var raw map[string]map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if s, ok := m[key].(string); ok {
			return s
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		switch t := m[key].(type) {
		case float64:
			return int(t)
		case int:
			return t
		}
		return 0
	}
	getBool := func(m map[string]any, key string) (bool, bool) {
		b, ok := m[key].(bool)
		return b, ok
	}

	if app, ok := raw["app"]; ok {
		if v := getString(app, "AppPort"); v != "" {
			out.AppPort = v
		}
		if v := getString(app, "JWTSecret"); v != "" {
			out.JWTSecret = v
		}
		if v := getString(app, "FrontendURL"); v != "" {
			out.FrontendURL = v
		}
		if b, ok := getBool(app, "EnableRegistration"); ok {
			out.EnableRegistration = b
		}
	}
	if db, ok := raw["database"]; ok {
		out.DBHost = getString(db, "DBHost")
		out.DBPort = getString(db, "DBPort")
		out.DBUser = getString(db, "DBUser")
		out.DBPassword = getString(db, "DBPassword")
		out.DBName = getString(db, "DBName")
	}
	if rds, ok := raw["redis"]; ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
	}
	if tg, ok := raw["telegram"]; ok {
		out.TelegramBotToken = getString(tg, "BotToken")
		out.TelegramAdminID = int64(getInt(tg, "AdminID"))
		out.StorageChatID = int64(getInt(tg, "StorageChatID"))
	}
	if rl, ok := raw["ratelimit"]; ok {
		if v := getInt(rl, "Requests"); v != 0 {
			out.RateLimitRequests = v
		}
		if v := getInt(rl, "WindowSeconds"); v != 0 {
			out.RateLimitWindowS = v
		}
		if v := getInt(rl, "MaxWaitSeconds"); v != 0 {
			out.RateLimitMaxWaitS = v
		}
	}
	if lg, ok := raw["log"]; ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		if b, ok := getBool(lg, "Compress"); ok {
			out.LogCompress = b
		}
	}
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "abrinostore"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.MaxFileSizeBytes == 0 {
		c.MaxFileSizeBytes = 50 << 20 // platform ceiling for bot uploads
	}
	if c.RateLimitRequests == 0 {
		c.RateLimitRequests = 100
	}
	if c.RateLimitWindowS == 0 {
		c.RateLimitWindowS = 60
	}
	if c.RateLimitMaxWaitS == 0 {
		c.RateLimitMaxWaitS = 10
	}
	if c.IngressLimitPerMinute == 0 {
		c.IngressLimitPerMinute = 120
	}
	if c.SessionTTLMinutes == 0 {
		c.SessionTTLMinutes = 60 * 24 * 7
	}
	if c.MagicLinkTTLMinutes == 0 {
		c.MagicLinkTTLMinutes = 15
	}
	if c.CacheFilesTTLS == 0 {
		c.CacheFilesTTLS = 300
	}
	if c.CacheCategoriesTTLS == 0 {
		c.CacheCategoriesTTLS = 900
	}
	if c.FrontendURL == "" {
		c.FrontendURL = "http://localhost:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values.
func applyEnvOverrides(c *AppConfig) {
	setString(&c.AppPort, "APP_PORT")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.GinMode, "GIN_MODE")

	setString(&c.DBHost, "DB_HOST")
	setString(&c.DBPort, "DB_PORT")
	setString(&c.DBUser, "DB_USER")
	setString(&c.DBPassword, "DB_PASSWORD")
	setString(&c.DBName, "DB_NAME")

	setString(&c.RedisHost, "REDIS_HOST")
	setInt(&c.RedisPort, "REDIS_PORT")
	setInt(&c.RedisDB, "REDIS_DB")
	setString(&c.RedisPassword, "REDIS_PASSWORD")

	setString(&c.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setInt64(&c.TelegramAdminID, "TELEGRAM_ADMIN_USER_ID")
	setInt64(&c.StorageChatID, "TELEGRAM_STORAGE_CHAT_ID")
	setInt64(&c.MaxFileSizeBytes, "MAX_FILE_SIZE")

	setInt(&c.RateLimitRequests, "RATE_LIMIT_REQUESTS")
	setInt(&c.RateLimitWindowS, "RATE_LIMIT_WINDOW")
	setInt(&c.RateLimitMaxWaitS, "RATE_LIMIT_MAX_WAIT")
	setInt(&c.IngressLimitPerMinute, "INGRESS_LIMIT_PER_MINUTE")

	if v := os.Getenv("ENABLE_REGISTRATION"); v != "" {
		c.EnableRegistration = v == "true" || v == "1"
	}
	setString(&c.AdminEmail, "ADMIN_EMAIL")
	setString(&c.AdminPassword, "ADMIN_PASSWORD")
	setString(&c.FrontendURL, "FRONTEND_URL")

	setInt(&c.SessionTTLMinutes, "ACCESS_TOKEN_EXPIRE_MINUTES")
	setInt(&c.MagicLinkTTLMinutes, "MAGIC_LINK_EXPIRE_MINUTES")
	setInt(&c.CacheFilesTTLS, "CACHE_FILES_TTL")
	setInt(&c.CacheCategoriesTTLS, "CACHE_CATEGORIES_TTL")

	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogPath, "LOG_PATH")
	setInt(&c.LogMaxSizeMB, "LOG_MAX_SIZE_MB")
	setInt(&c.LogMaxBackups, "LOG_MAX_BACKUPS")
	setInt(&c.LogMaxAgeDays, "LOG_MAX_AGE_DAYS")
	if v := os.Getenv("LOG_COMPRESS"); v != "" {
		c.LogCompress = v == "true"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = mustParseInt(v)
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid integer value %s=%s: %v", key, v, err)
		}
		*dst = n
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}
