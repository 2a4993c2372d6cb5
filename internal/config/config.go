package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Device identity and credential store
	DeviceID            string
	CredentialStorePath string

	// Indicator and camera
	LEDPin            string // periph pin name, e.g. GPIO23; empty disables the output line
	CameraDevice      int    // /dev/video index for the V4L2 backend
	CameraBackend     string // auto, libcamera or v4l2
	ResolutionWidth   int
	ResolutionHeight  int
	Rotation          int
	WarmupDelay       time.Duration
	FocusDelay        time.Duration
	PostCaptureDelay  time.Duration
	CaptureAttempts   int
	CaptureRetryPause time.Duration
	JPEGQuality       int

	// Marker layout (DICT_4X4_50 ids per corner)
	MarkerTopLeft     int
	MarkerTopRight    int
	MarkerBottomRight int
	MarkerBottomLeft  int
	ROIPaddingPercent float64

	// Local storage
	ImageDirectory string
	KeepImages     int
	MinFreeBytes   uint64
	DatabasePath   string // images catalogue and backlog; empty keeps the backlog in memory

	// Delivery
	DeliveryBackend    string // rclone or s3
	RcloneBinary       string
	RcloneRemote       string
	UploadTimeout      time.Duration
	ConnectTimeout     time.Duration
	UploadRetryDelays  []time.Duration
	VerifyUploads      bool
	BacklogCapacity    int
	BacklogMaxRequeues int

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
	S3KeyPrefix       string

	// Telemetry
	TelemetryURL         string
	TelemetryMinInterval time.Duration
	TelemetryAttempts    int
	TelemetryRetryPause  time.Duration
	TelemetryTimeout     time.Duration

	// Photo relay (token and chat id come from the device profile)
	TelegramAPIURL      string
	TelegramTimeout     time.Duration
	TelegramRetryDelays []time.Duration

	// Service
	CaptureInterval time.Duration
	HealthFile      string
	LogDirectory    string
	LogLevel        string
	MetricsTextfile string
	StatusAddr      string
}

// Load reads an optional .env file and the process environment.
// envFile may be empty, in which case ./.env is tried.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	delays, err := getEnvAsDurationList("UPLOAD_RETRY_DELAYS", []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_RETRY_DELAYS: %w", err)
	}
	relayDelays, err := getEnvAsDurationList("TELEGRAM_RETRY_DELAYS", []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_RETRY_DELAYS: %w", err)
	}

	cfg := &Config{
		DeviceID:            getEnv("DEVICE_ID", ""),
		CredentialStorePath: getEnv("CREDENTIAL_STORE_PATH", "credentials_store.csv"),

		LEDPin:            getEnv("LED_PIN", "GPIO23"),
		CameraDevice:      getEnvAsInt("CAMERA_DEVICE", 0),
		CameraBackend:     getEnv("CAMERA_BACKEND", "auto"),
		ResolutionWidth:   getEnvAsInt("CAMERA_WIDTH", 1280),
		ResolutionHeight:  getEnvAsInt("CAMERA_HEIGHT", 960),
		Rotation:          getEnvAsInt("CAMERA_ROTATION", 180),
		WarmupDelay:       getEnvAsDuration("WARMUP_DELAY", 500*time.Millisecond),
		FocusDelay:        getEnvAsDuration("FOCUS_DELAY", 3*time.Second),
		PostCaptureDelay:  getEnvAsDuration("POST_CAPTURE_DELAY", 3*time.Second),
		CaptureAttempts:   getEnvAsInt("CAPTURE_ATTEMPTS", 3),
		CaptureRetryPause: getEnvAsDuration("CAPTURE_RETRY_PAUSE", time.Second),
		JPEGQuality:       getEnvAsInt("JPEG_QUALITY", 85),

		MarkerTopLeft:     getEnvAsInt("MARKER_TOP_LEFT", 1),
		MarkerTopRight:    getEnvAsInt("MARKER_TOP_RIGHT", 3),
		MarkerBottomRight: getEnvAsInt("MARKER_BOTTOM_RIGHT", 0),
		MarkerBottomLeft:  getEnvAsInt("MARKER_BOTTOM_LEFT", 2),
		ROIPaddingPercent: getEnvAsFloat("ROI_PADDING_PERCENT", 10),

		ImageDirectory: getEnv("IMAGE_DIR", filepath.Join(".", "captures")),
		KeepImages:     getEnvAsInt("KEEP_IMAGES", 200),
		MinFreeBytes:   uint64(getEnvAsInt64("MIN_FREE_MB", 100)) * 1024 * 1024,
		DatabasePath:   getEnv("DB_PATH", filepath.Join(".", "data", "meterrelay.db")),

		DeliveryBackend:    getEnv("DELIVERY_BACKEND", "rclone"),
		RcloneBinary:       getEnv("RCLONE_BINARY", "rclone"),
		RcloneRemote:       getEnv("RCLONE_REMOTE", "gdrive"),
		UploadTimeout:      getEnvAsDuration("UPLOAD_TIMEOUT", 120*time.Second),
		ConnectTimeout:     getEnvAsDuration("UPLOAD_CONNECT_TIMEOUT", 10*time.Second),
		UploadRetryDelays:  delays,
		VerifyUploads:      getEnvAsBool("DELIVERY_VERIFY", false),
		BacklogCapacity:    getEnvAsInt("BACKLOG_CAPACITY", 50),
		BacklogMaxRequeues: getEnvAsInt("BACKLOG_MAX_REQUEUES", 2),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:    getEnvAsBool("S3_USE_PATH_STYLE", false),
		S3KeyPrefix:       getEnv("S3_KEY_PREFIX", "meters"),

		TelemetryURL:         getEnv("THINGSPEAK_UPDATE_URL", "https://api.thingspeak.com/update"),
		TelemetryMinInterval: getEnvAsDuration("THINGSPEAK_MIN_INTERVAL", 16*time.Second),
		TelemetryAttempts:    getEnvAsInt("THINGSPEAK_ATTEMPTS", 2),
		TelemetryRetryPause:  getEnvAsDuration("THINGSPEAK_RETRY_PAUSE", 3*time.Second),
		TelemetryTimeout:     getEnvAsDuration("THINGSPEAK_TIMEOUT", 15*time.Second),

		TelegramAPIURL:      getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramTimeout:     getEnvAsDuration("TELEGRAM_TIMEOUT", 30*time.Second),
		TelegramRetryDelays: relayDelays,

		CaptureInterval: getEnvAsDuration("CAPTURE_INTERVAL", 5*time.Minute),
		HealthFile:      getEnv("HEALTH_FILE", filepath.Join(".", "health.json")),
		LogDirectory:    getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:        strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
		StatusAddr:      getEnv("STATUS_ADDR", ""),
	}

	return cfg, nil
}

// MarkerIDs returns the corner marker ids in TL, TR, BR, BL order.
func (c *Config) MarkerIDs() [4]int {
	return [4]int{c.MarkerTopLeft, c.MarkerTopRight, c.MarkerBottomRight, c.MarkerBottomLeft}
}

// Validate checks every parameter and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, errors.New("DEVICE_ID is required"))
	}
	if c.ResolutionWidth <= 0 || c.ResolutionHeight <= 0 {
		errs = append(errs, errors.New("camera resolution values must be positive"))
	}
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		errs = append(errs, errors.New("CAMERA_ROTATION must be 0, 90, 180, or 270 degrees"))
	}
	switch c.CameraBackend {
	case "auto", "libcamera", "v4l2":
	default:
		errs = append(errs, fmt.Errorf("unknown CAMERA_BACKEND %q", c.CameraBackend))
	}
	if c.WarmupDelay < 0 || c.FocusDelay < 0 || c.PostCaptureDelay < 0 || c.CaptureRetryPause < 0 {
		errs = append(errs, errors.New("camera timing delays must be non-negative"))
	}
	if c.CaptureAttempts < 1 {
		errs = append(errs, errors.New("CAPTURE_ATTEMPTS must be at least 1"))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, errors.New("JPEG_QUALITY must be between 1 and 100"))
	}

	ids := c.MarkerIDs()
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if id < 0 || id >= 50 {
			errs = append(errs, fmt.Errorf("marker id %d outside DICT_4X4_50", id))
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("marker id %d assigned to more than one corner", id))
		}
		seen[id] = true
	}
	if c.ROIPaddingPercent < 0 || c.ROIPaddingPercent > 50 {
		errs = append(errs, errors.New("ROI_PADDING_PERCENT must be between 0 and 50"))
	}

	if c.KeepImages < 1 {
		errs = append(errs, errors.New("KEEP_IMAGES must be at least 1"))
	}

	switch c.DeliveryBackend {
	case "rclone":
		if c.RcloneRemote == "" {
			errs = append(errs, errors.New("RCLONE_REMOTE is required for the rclone backend"))
		}
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DELIVERY_BACKEND %q", c.DeliveryBackend))
	}
	if c.UploadTimeout < 10*time.Second {
		errs = append(errs, errors.New("UPLOAD_TIMEOUT must be at least 10 seconds"))
	}
	if len(c.UploadRetryDelays) != 3 {
		errs = append(errs, errors.New("UPLOAD_RETRY_DELAYS must have 3 elements (one per attempt)"))
	}
	for i, d := range c.UploadRetryDelays {
		if d < 0 {
			errs = append(errs, errors.New("UPLOAD_RETRY_DELAYS values must be non-negative"))
			break
		}
		if i > 0 && d < c.UploadRetryDelays[i-1] {
			errs = append(errs, errors.New("UPLOAD_RETRY_DELAYS must be increasing"))
			break
		}
	}
	if c.BacklogCapacity < 1 {
		errs = append(errs, errors.New("BACKLOG_CAPACITY must be at least 1"))
	}
	if c.BacklogMaxRequeues < 0 {
		errs = append(errs, errors.New("BACKLOG_MAX_REQUEUES must be non-negative"))
	}

	if c.TelemetryMinInterval < 0 || c.TelemetryRetryPause < 0 {
		errs = append(errs, errors.New("telemetry intervals must be non-negative"))
	}
	if c.TelemetryAttempts < 1 {
		errs = append(errs, errors.New("THINGSPEAK_ATTEMPTS must be at least 1"))
	}
	if c.TelegramTimeout <= 0 {
		errs = append(errs, errors.New("TELEGRAM_TIMEOUT must be positive"))
	}
	for _, d := range c.TelegramRetryDelays {
		if d < 0 {
			errs = append(errs, errors.New("TELEGRAM_RETRY_DELAYS must be non-negative"))
			break
		}
	}

	if c.CaptureInterval < time.Minute {
		errs = append(errs, errors.New("CAPTURE_INTERVAL must be at least 1 minute"))
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: DEBUG, INFO, WARNING, ERROR"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
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

// getEnvAsDuration accepts Go durations ("500ms", "3s") or plain seconds ("0.5").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := parseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvAsDurationList(key string, defaultValue []time.Duration) ([]time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parts := strings.Split(value, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := parseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func parseDuration(value string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(value)
}
