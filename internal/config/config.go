package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and the video worker.
type Config struct {
	HTTPListenAddr     string
	CORSAllowedOrigins []string
	LogLevel           string
	LogFormat          string
	MySQLDSN           string
	JWTSecret          string
	FirstAdminEmail    string

	KIEAPIKey            string
	KIEBaseURL           string
	KIERequestsPerSecond float64
	RequestTimeout       time.Duration
	VideoModel           string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	QueueDriver       string
	QueueName         string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	AMQPURL           string
	QueueLockTTL      time.Duration
	WorkerConcurrency int
	VideoPollInterval time.Duration
	VideoTimeout      time.Duration
	StaleJobAfter     time.Duration

	TelegramBotToken  string
	TelegramOpsChatID int64
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		HTTPListenAddr:       getEnv("HTTP_LISTEN_ADDR", ":8080"),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "json")),
		FirstAdminEmail:      strings.ToLower(strings.TrimSpace(os.Getenv("FIRST_ADMIN_EMAIL"))),
		KIEBaseURL:           normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIERequestsPerSecond: getFloat("KIE_REQUESTS_PER_SECOND", 2),
		RequestTimeout:       time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		VideoModel:           getEnv("KIE_VIDEO_MODEL", "veo3_fast"),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3Region:             os.Getenv("S3_REGION"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:      os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:       getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:             getEnv("S3_PREFIX", "lookstudio"),
		QueueDriver:          strings.ToLower(getEnv("QUEUE_DRIVER", "redis")),
		QueueName:            getEnv("QUEUE_NAME", "video_jobs"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		AMQPURL:              os.Getenv("AMQP_URL"),
		QueueLockTTL:         getDuration("QUEUE_LOCK_TTL", 2*time.Minute),
		WorkerConcurrency:    getInt("WORKER_CONCURRENCY", 2),
		VideoPollInterval:    getDuration("VIDEO_POLL_INTERVAL", 10*time.Second),
		VideoTimeout:         getDuration("VIDEO_TIMEOUT", 15*time.Minute),
		StaleJobAfter:        getDuration("STALE_JOB_AFTER", 30*time.Minute),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramOpsChatID:    getInt64("TELEGRAM_OPS_CHAT_ID", 0),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	var missing []string
	for _, req := range []struct{ key, value string }{
		{"MYSQL_DSN", cfg.MySQLDSN},
		{"KIE_API_KEY", cfg.KIEAPIKey},
		{"S3_REGION", cfg.S3Region},
		{"S3_ACCESS_KEY", cfg.S3AccessKey},
		{"S3_SECRET_KEY", cfg.S3SecretKey},
		{"S3_BUCKET", cfg.S3Bucket},
		{"S3_PUBLIC_BASE_URL", cfg.S3PublicBaseURL},
	} {
		if req.value == "" {
			missing = append(missing, req.key)
		}
	}
	switch cfg.QueueDriver {
	case "redis":
	case "amqp":
		if cfg.AMQPURL == "" {
			missing = append(missing, "AMQP_URL")
		}
	default:
		return Config{}, fmt.Errorf("unsupported QUEUE_DRIVER %q", cfg.QueueDriver)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

// ValidateAPI checks settings only the HTTP server needs.
func (c Config) ValidateAPI() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("missing required environment variables: [JWT_SECRET]")
	}
	return nil
}

// normalizeKIEBaseURL ensures we always hit the API host; the root kie.ai domain
// serves HTML.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getDuration accepts Go duration syntax ("90s", "15m") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// loadEnvFile loads the first env file found. A missing file is fine: containers
// pass configuration through the environment directly.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
