package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config carries all environment-driven settings, resolved once at startup.
type Config struct {
	Port         int
	APIKey       string
	CORSOrigins  []string
	Device       string
	ModelDir     string
	LogDirectory string
	StaticDir    string

	// Database settings. Postgres storage is enabled when DBHost, DBName,
	// DBUser and DBPassword are all set; SQLitePath selects the embedded
	// fallback store instead.
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	SQLitePath string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Port:         getEnvAsInt("PORT", 8000),
		APIKey:       getEnv("API_KEY", ""),
		CORSOrigins:  splitList(getEnv("API_CORS_ORIGINS", "http://localhost:8501,http://127.0.0.1:8501")),
		Device:       getEnv("API_DEVICE", "cpu"),
		ModelDir:     getEnv("MODEL_DIR", filepath.Join(".", "models")),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		StaticDir:    getEnv("STATIC_DIR", filepath.Join(".", "static")),
		DBHost:       getEnv("DB_HOST", ""),
		DBPort:       getEnvAsInt("DB_PORT", 5432),
		DBName:       getEnv("DB_NAME", ""),
		DBUser:       getEnv("DB_USER", ""),
		DBPassword:   getEnv("DB_PASSWORD", ""),
		DBSSLMode:    getEnv("DB_SSLMODE", ""),
		SQLitePath:   getEnv("SQLITE_PATH", ""),
	}
}

// Validate checks the loaded configuration. Called once at startup so later
// code can rely on the values instead of re-checking the environment.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPort <= 0 || c.DBPort > 65535 {
		return fmt.Errorf("invalid database port %d", c.DBPort)
	}
	if c.ModelDir == "" {
		return fmt.Errorf("model directory must not be empty")
	}
	return nil
}

// DBConfigured reports whether a storage backend is fully configured.
func (c *Config) DBConfigured() bool {
	if c.SQLitePath != "" {
		return true
	}
	return c.DBHost != "" && c.DBName != "" && c.DBUser != "" && c.DBPassword != ""
}

// StoreDSN returns the driver name and data source string for the configured
// storage backend. Postgres takes precedence over the SQLite fallback.
func (c *Config) StoreDSN() (driver, dsn string) {
	if c.DBHost != "" && c.DBName != "" && c.DBUser != "" && c.DBPassword != "" {
		parts := []string{
			fmt.Sprintf("host=%s", c.DBHost),
			fmt.Sprintf("port=%d", c.DBPort),
			fmt.Sprintf("dbname=%s", c.DBName),
			fmt.Sprintf("user=%s", c.DBUser),
			fmt.Sprintf("password=%s", c.DBPassword),
		}
		if c.DBSSLMode != "" {
			parts = append(parts, fmt.Sprintf("sslmode=%s", c.DBSSLMode))
		}
		return "postgres", strings.Join(parts, " ")
	}
	return "sqlite3", c.SQLitePath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
