package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	RootDir             string
	CLIPath             string
	TempDir             string
	WorkspaceDir        string
	PartsDir            string
	DatabaseURL         string
	AuthSecret          string
	AllowOrigins        string
	LogLevel            string
	BodyLimit           int
	ToolchainTimeout    time.Duration
	MonitorStartupCheck time.Duration
	MonitorStopGrace    time.Duration
	MonitorWriteTimeout time.Duration
}

// Load reads an optional .env file from the working directory, then the environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	root := getEnv("CIRCUITDESK_ROOT", wd)
	tempDir := getEnv("TEMP", os.TempDir())

	return &Config{
		Port:                getEnv("PORT", "8001"),
		RootDir:             root,
		CLIPath:             getEnv("ARDUINO_CLI_PATH", ""),
		TempDir:             tempDir,
		WorkspaceDir:        getEnv("WORKSPACE_DIR", filepath.Join(tempDir, "arduino_workspace")),
		PartsDir:            getEnv("PARTS_DIR", filepath.Join(root, "fritzing-parts")),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		AuthSecret:          getEnv("AUTH_SECRET", ""),
		AllowOrigins:        getEnv("ALLOW_ORIGINS", "*"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		BodyLimit:           getEnvInt("BODY_LIMIT", 8*1024*1024),
		ToolchainTimeout:    getEnvDuration("TOOLCHAIN_TIMEOUT", 10*time.Minute),
		MonitorStartupCheck: getEnvDuration("MONITOR_STARTUP_CHECK", 100*time.Millisecond),
		MonitorStopGrace:    getEnvDuration("MONITOR_STOP_GRACE", 2*time.Second),
		MonitorWriteTimeout: getEnvDuration("MONITOR_WRITE_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
