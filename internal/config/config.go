// Package config loads shifty's settings from a TOML file, the legacy
// scheduler's .env file and environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Database  Database  `toml:"database"`
	Console   Console   `toml:"console"`
	Events    Events    `toml:"events"`
	Lock      Lock      `toml:"lock"`
	Backup    Backup    `toml:"backup"`
	Provision Provision `toml:"provision"`
}

type Database struct {
	// URL accepts the same forms the Flask deployments used:
	// postgres://, mysql+pymysql://, sqlite:/// or a bare .db path.
	URL string `toml:"url"`
}

type Console struct {
	Addr               string `toml:"addr"`
	JWTSecret          string `toml:"jwt_secret"`
	JWTIssuer          string `toml:"jwt_issuer"`
	AdminUser          string `toml:"admin_user"`
	AdminPasswordHash  string `toml:"admin_password_hash"`
	LoginBurst         int    `toml:"login_burst"`
	LoginWindowSeconds int    `toml:"login_window_seconds"`
}

type Events struct {
	NATSURL      string `toml:"nats_url"`
	NATSCred     string `toml:"nats_cred"`
	NATSUser     string `toml:"nats_user"`
	NATSPassword string `toml:"nats_password"`
}

type Lock struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLSeconds    int    `toml:"ttl_seconds"`
}

type Backup struct {
	Dir       string `toml:"dir"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	KeepLocal bool   `toml:"keep_local"`
}

type Provision struct {
	EmailDomain string `toml:"email_domain"`
	DefaultRole string `toml:"default_role"`
}

// Load reads the config file at path (SHIFTY_CONFIG or configs/shifty.toml
// when path is empty). The file is optional; every field has a default and
// the environment wins over both.
func Load(path string) (*Config, error) {
	// The legacy Flask app kept its credentials in .env. We read the same
	// file so shifty can run next to it without extra setup.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path == "" {
		path = getEnv("SHIFTY_CONFIG", "configs/shifty.toml")
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("internal/config: decode %s: %w", path, err)
		}
	}

	overrideByEnv(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Console: Console{
			Addr:               "0.0.0.0:8080",
			JWTIssuer:          "shifty",
			AdminUser:          "admin",
			LoginBurst:         5,
			LoginWindowSeconds: 60,
		},
		Lock: Lock{
			TTLSeconds: 120,
		},
		Backup: Backup{
			Dir:    ".",
			Region: "eu-west-3",
		},
		Provision: Provision{
			EmailDomain: "chv.cat",
			DefaultRole: "user",
		},
	}
}

func overrideByEnv(cfg *Config) {
	// DATABASE_URL is what Render injects; SQLALCHEMY_DATABASE_URI is the
	// name the Hostinger-era .env carried. Either works.
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	if cfg.Database.URL == "" {
		cfg.Database.URL = getEnv("SQLALCHEMY_DATABASE_URI", "")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Console.Addr = "0.0.0.0:" + port
	}
	cfg.Console.Addr = getEnv("CONSOLE_ADDR", cfg.Console.Addr)
	cfg.Console.JWTSecret = getEnv("JWT_SECRET", cfg.Console.JWTSecret)
	cfg.Console.JWTIssuer = getEnv("JWT_ISS", cfg.Console.JWTIssuer)
	cfg.Console.AdminUser = getEnv("CONSOLE_ADMIN_USER", cfg.Console.AdminUser)
	cfg.Console.AdminPasswordHash = getEnv("CONSOLE_ADMIN_PASSWORD_HASH", cfg.Console.AdminPasswordHash)

	cfg.Events.NATSURL = getEnv("NATS_URL", cfg.Events.NATSURL)
	cfg.Events.NATSCred = getEnv("NATS_CRED", cfg.Events.NATSCred)
	cfg.Events.NATSUser = getEnv("NATS_USER", cfg.Events.NATSUser)
	cfg.Events.NATSPassword = getEnv("NATS_PASSWORD", cfg.Events.NATSPassword)

	cfg.Lock.RedisAddr = getEnv("REDIS_ADDR", cfg.Lock.RedisAddr)
	cfg.Lock.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Lock.RedisPassword)
	cfg.Lock.RedisDB = getEnvAsInt("REDIS_DB", cfg.Lock.RedisDB)

	cfg.Backup.Dir = getEnv("BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.Bucket = getEnv("AWS_S3_BUCKET_NAME", cfg.Backup.Bucket)
	cfg.Backup.Region = getEnv("AWS_S3_REGION", cfg.Backup.Region)

	cfg.Provision.EmailDomain = getEnv("PROVISION_EMAIL_DOMAIN", cfg.Provision.EmailDomain)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
