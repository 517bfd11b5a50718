package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL          string
	MaxConns     int
	QueryTimeout time.Duration
}

type AuthConfig struct {
	CookieName        string
	CookieDomain      string
	CookieMaxAge      time.Duration
	CookieHTTPOnly    bool
	CookieSecure      bool
	SessionTTL        time.Duration
	BcryptCost        int
	BootstrapEmail    string
	BootstrapPassword string
}

type LogConfig struct {
	Level string
	Dev   bool
}

func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			MaxConns:     getEnvInt("DATABASE_MAX_CONNS", 10),
			QueryTimeout: time.Duration(getEnvInt("DATABASE_QUERY_TIMEOUT_SEC", 5)) * time.Second,
		},
		Auth: AuthConfig{
			CookieName:        getEnv("AUTH_COOKIE_NAME", "comms_auth"),
			CookieDomain:      getEnv("AUTH_COOKIE_DOMAIN", "localhost"),
			CookieMaxAge:      time.Duration(getEnvInt("AUTH_COOKIE_MAX_AGE_SEC", 3600)) * time.Second,
			CookieHTTPOnly:    getEnvBool("AUTH_COOKIE_HTTP_ONLY", false),
			CookieSecure:      getEnvBool("AUTH_COOKIE_SECURE", false),
			SessionTTL:        time.Duration(getEnvInt("AUTH_SESSION_TTL_SEC", 7*24*3600)) * time.Second,
			BcryptCost:        getEnvInt("AUTH_BCRYPT_COST", 12),
			BootstrapEmail:    getEnv("AUTH_BOOTSTRAP_EMAIL", ""),
			BootstrapPassword: getEnv("AUTH_BOOTSTRAP_PASSWORD", ""),
		},
		Log: LogConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Dev:   getEnvBool("LOG_DEV", false),
		},
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.Database.MaxConns <= 0 {
		return Config{}, fmt.Errorf("DATABASE_MAX_CONNS must be > 0")
	}
	if cfg.Database.QueryTimeout <= 0 {
		return Config{}, fmt.Errorf("DATABASE_QUERY_TIMEOUT_SEC must be > 0")
	}
	if cfg.Auth.CookieName == "" {
		return Config{}, fmt.Errorf("AUTH_COOKIE_NAME must not be empty")
	}
	if cfg.Auth.CookieMaxAge <= 0 {
		return Config{}, fmt.Errorf("AUTH_COOKIE_MAX_AGE_SEC must be > 0")
	}
	if cfg.Auth.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_SESSION_TTL_SEC must be > 0")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return Config{}, fmt.Errorf("AUTH_BCRYPT_COST must be between 4 and 31")
	}
	if (cfg.Auth.BootstrapEmail == "") != (cfg.Auth.BootstrapPassword == "") {
		return Config{}, fmt.Errorf("AUTH_BOOTSTRAP_EMAIL and AUTH_BOOTSTRAP_PASSWORD must be set together")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}
