// Package config loads backend configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Desktop   DesktopConfig
	Database  DatabaseConfig
	Sync      SyncConfig
	WebSocket WebSocketConfig
	JWT       JWTConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host string
	Port string
	Env  string
}

// DesktopConfig configures the local surface the desktop UI talks to.
type DesktopConfig struct {
	Port      string
	ServerURL string // base URL of the remote entity service
	UserID    string
	UserName  string
	DeviceID  string
}

type DatabaseConfig struct {
	DataDir string
}

type SyncConfig struct {
	Interval       time.Duration // periodic sync while online
	QueueInterval  time.Duration // retry queue drain while offline
	PushTimeout    time.Duration // per network call
	Workers        int           // concurrent pushes for distinct entities
	MaxRetries     int
	QueueSize      int
}

type WebSocketConfig struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	SendBuffer int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type LoggingConfig struct {
	Level string
}

// Load reads configuration from the environment, with .env support for
// development.
func Load() (*Config, error) {
	godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: getEnv("PLEXA_HOST", "0.0.0.0"),
			Port: getEnv("PLEXA_PORT", "8080"),
			Env:  getEnv("PLEXA_ENV", "development"),
		},
		Desktop: DesktopConfig{
			Port:      getEnv("PLEXA_DESKTOP_PORT", "8090"),
			ServerURL: getEnv("PLEXA_SERVER_URL", "http://localhost:8080"),
			UserID:    getEnv("PLEXA_USER_ID", ""),
			UserName:  getEnv("PLEXA_USER_NAME", ""),
			DeviceID:  getEnv("PLEXA_DEVICE_ID", ""),
		},
		Database: DatabaseConfig{
			DataDir: getEnv("PLEXA_DATA_DIR", defaultDataDir()),
		},
		Sync: SyncConfig{
			Interval:      getEnvAsDuration("PLEXA_SYNC_INTERVAL", 15*time.Minute),
			QueueInterval: getEnvAsDuration("PLEXA_QUEUE_INTERVAL", time.Minute),
			PushTimeout:   getEnvAsDuration("PLEXA_PUSH_TIMEOUT", 15*time.Second),
			Workers:       getEnvAsInt("PLEXA_SYNC_WORKERS", 4),
			MaxRetries:    getEnvAsInt("PLEXA_SYNC_MAX_RETRIES", 3),
			QueueSize:     getEnvAsInt("PLEXA_SYNC_QUEUE_SIZE", 1000),
		},
		WebSocket: WebSocketConfig{
			WriteWait:  getEnvAsDuration("PLEXA_WS_WRITE_WAIT", 10*time.Second),
			PongWait:   getEnvAsDuration("PLEXA_WS_PONG_WAIT", 60*time.Second),
			PingPeriod: getEnvAsDuration("PLEXA_WS_PING_PERIOD", 54*time.Second),
			SendBuffer: getEnvAsInt("PLEXA_WS_SEND_BUFFER", 256),
		},
		JWT: JWTConfig{
			Secret:     getEnv("PLEXA_JWT_SECRET", "dev-secret-change-in-production"),
			Expiration: getEnvAsDuration("PLEXA_JWT_EXPIRATION", 168*time.Hour),
		},
		Logging: LoggingConfig{
			Level: getEnv("PLEXA_LOG_LEVEL", "info"),
		},
	}, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plexa"
	}
	return home + "/.plexa"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
