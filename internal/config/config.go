package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds everything the sitewatch process needs at startup.
type Config struct {
	// Cameras are the endpoint URLs, in camera index order.
	Cameras []string

	SavePath        string
	CaptureInterval time.Duration
	CaptureTick     time.Duration
	CameraTimeout   time.Duration
	FFmpegPath      string
	FrameBufferCap  int

	QueueCapacity  int
	DequeueTimeout time.Duration

	DetectorURL     string
	DetectorTimeout time.Duration

	DBPath   string
	HTTPAddr string
	GRPCAddr string

	TelegramToken  string
	TelegramChatID string
	AlertCooldown  time.Duration
	AlertBacklog   int

	AuthEnabled  bool
	AuthUsername string
	AuthPassword string
	JWTSecret    string
	JWTExpiry    time.Duration

	LogLevel  string
	LogFormat string
}

var (
	ErrNoCameras       = errors.New("no cameras configured")
	ErrInvalidInterval = errors.New("capture interval must be at least one second")
)

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	cfg := &Config{
		SavePath:        getEnv("SAVE_PATH", "data"),
		CaptureInterval: getEnvAsSeconds("CAPTURE_INTERVAL", 300*time.Second),
		CaptureTick:     getEnvAsDuration("CAPTURE_TICK", 500*time.Millisecond),
		CameraTimeout:   getEnvAsDuration("CAMERA_TIMEOUT", 10*time.Second),
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		FrameBufferCap:  getEnvAsInt("FRAME_BUFFER_CAP", 16),

		QueueCapacity:  getEnvAsInt("QUEUE_CAPACITY", 10),
		DequeueTimeout: getEnvAsDuration("DEQUEUE_TIMEOUT", time.Second),

		DetectorURL:     getEnv("DETECTOR_URL", "http://127.0.0.1:5000/detect"),
		DetectorTimeout: getEnvAsDuration("DETECTOR_TIMEOUT", 15*time.Second),

		DBPath:   getEnv("DB_PATH", "sitewatch.db"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":9090"),

		TelegramToken:  getEnv("TELEGRAM", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		AlertCooldown:  getEnvAsSeconds("ALERT_COOLDOWN", 0),
		AlertBacklog:   getEnvAsInt("ALERT_BACKLOG", 32),

		AuthEnabled:  getEnvAsBool("AUTH_ENABLED", false),
		AuthUsername: getEnv("AUTH_USERNAME", "admin"),
		AuthPassword: getEnv("AUTH_PASSWORD", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiry:    getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	cameras, err := loadCameras()
	if err != nil {
		return nil, err
	}
	cfg.Cameras = cameras

	return cfg, cfg.Validate()
}

// loadCameras prefers an explicit CAMERA_URLS list and falls back to the
// credentials file.
func loadCameras() ([]string, error) {
	if raw := os.Getenv("CAMERA_URLS"); raw != "" {
		return splitList(raw), nil
	}

	path := getEnv("CAMERA_CREDENTIALS", "")
	if path == "" {
		return nil, nil
	}

	creds, err := LoadCredentials(path)
	if err != nil {
		return nil, err
	}
	return creds.URLs(splitList(os.Getenv("CAMERAS")))
}

// Validate checks the values Load cannot default sensibly.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return ErrNoCameras
	}
	if c.CaptureInterval < time.Second {
		return ErrInvalidInterval
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.AuthEnabled && (c.AuthPassword == "" || c.JWTSecret == "") {
		return fmt.Errorf("AUTH_PASSWORD and JWT_SECRET are required when auth is enabled")
	}
	return nil
}

// TelegramEnabled reports whether both bot token and chat are set.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer value")
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("750ms", "2s").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration")
	}
	return defaultValue
}

// getEnvAsSeconds accepts a bare number of seconds or a duration string.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return getEnvAsDuration(key, defaultValue)
}
