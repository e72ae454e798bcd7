package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dhima/mysqlscope/pkg/mysqlclient"
	"github.com/joho/godotenv"
)

// App holds runtime configuration derived from env vars or files.
type App struct {
	MySQLHost     string
	MySQLPort     uint
	MySQLDatabase string
	MySQLUser     string
	MySQLPassword string
	AutoCommit    bool
	DialTimeout   time.Duration

	APIPort       string
	ProbeSchedule string
	Environment   string
	LogLevel      string
	LogEncoding   string
	CORSOrigins   []string
}

// Load reads .env style files into the process environment and then returns
// FromEnv. Variables already set in the environment win. Missing files are
// skipped.
func Load(files ...string) (App, error) {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return App{}, fmt.Errorf("failed to load env files: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv loads the application configuration from environment variables.
func FromEnv() (App, error) {
	port, err := strconv.ParseUint(getEnv("MYSQL_PORT", "3306"), 10, 16)
	if err != nil {
		return App{}, fmt.Errorf("invalid MYSQL_PORT: %w", err)
	}
	autoCommit, err := strconv.ParseBool(getEnv("MYSQL_AUTOCOMMIT", "true"))
	if err != nil {
		return App{}, fmt.Errorf("invalid MYSQL_AUTOCOMMIT: %w", err)
	}
	dialTimeout, err := time.ParseDuration(getEnv("MYSQL_DIAL_TIMEOUT", "5s"))
	if err != nil {
		return App{}, fmt.Errorf("invalid MYSQL_DIAL_TIMEOUT: %w", err)
	}

	return App{
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     uint(port),
		MySQLDatabase: os.Getenv("MYSQL_DATABASE"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: os.Getenv("MYSQL_PASSWORD"),
		AutoCommit:    autoCommit,
		DialTimeout:   dialTimeout,
		APIPort:       getEnv("API_PORT", "8080"),
		ProbeSchedule: getEnv("PROBE_SCHEDULE", "@every 30s"),
		Environment:   getEnv("ENVIRONMENT", "production"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogEncoding:   getEnv("LOG_ENCODING", "json"),
		CORSOrigins:   getCORSOrigins(),
	}, nil
}

// Connect returns the connection parameters for the configured server.
func (a App) Connect() mysqlclient.ConnectParams {
	return mysqlclient.ConnectParams{
		Host:     a.MySQLHost,
		Port:     a.MySQLPort,
		Database: a.MySQLDatabase,
		User:     a.MySQLUser,
		Password: a.MySQLPassword,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getCORSOrigins() []string {
	raw := os.Getenv("CORS_ORIGINS")
	if raw == "" {
		return []string{"*"}
	}
	origins := []string{}
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
