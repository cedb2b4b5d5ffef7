package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	JWTSecret       string
	OperatorKey     string
	SessionTTL      time.Duration
	AllowOrigins    []string
	LogstashTCPAddr string
	PublicBaseURL   string

	StorageBackend string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	MinIOPublicURL string
	Bucket         string
	LocalStoreDir  string

	UnlabelledPrefix  string
	LabelledPrefix    string
	PresignTTL        time.Duration
	UploadMaxAttempts int
	UploadRetryDelay  time.Duration
	PollInitialDelay  time.Duration
	PollInterval      time.Duration
	PollMaxAttempts   int

	ImageMaxBytes     int64
	AllowedImageTypes []string
	FFmpegPath        string
	ImageMaxDimension int

	BackgroundWorkers   int
	BackgroundQueueSize int

	LoopbackWorker        bool
	LoopbackDelay         time.Duration
	LoopbackSweepInterval time.Duration

	TelegramBotToken string
	TelegramChatID   int64
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	imageMax := int64(10 * 1024 * 1024)
	if v, err := strconv.ParseInt(getenv("IMAGE_MAX_BYTES", "10485760"), 10, 64); err == nil && v > 0 {
		imageMax = v
	}

	chatID := int64(0)
	if v, err := strconv.ParseInt(getenv("TELEGRAM_CHAT_ID", "0"), 10, 64); err == nil {
		chatID = v
	}

	return Config{
		Port:            getenv("PORT", "8080"),
		DatabaseURL:     must("DATABASE_URL"),
		JWTSecret:       must("JWT_SECRET"),
		OperatorKey:     must("OPERATOR_KEY"),
		SessionTTL:      duration("SESSION_TTL", 24*time.Hour),
		AllowOrigins:    splitAndTrim(getenv("ALLOW_ORIGINS", "*")),
		LogstashTCPAddr: getenv("LOGSTASH_TCP_ADDR", ""),
		PublicBaseURL:   getenv("PUBLIC_BASE_URL", ""),

		StorageBackend: getenv("STORAGE_BACKEND", "minio"),
		MinIOEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:    getenv("MINIO_USE_SSL", "false") == "true",
		MinIOPublicURL: getenv("MINIO_PUBLIC_URL", ""),
		Bucket:         getenv("BUCKET", "test-sakaeriken-img-recognition"),
		LocalStoreDir:  getenv("LOCAL_STORE_DIR", "./data/bucket"),

		UnlabelledPrefix:  getenv("UNLABELLED_PREFIX", "image/unlabelled"),
		LabelledPrefix:    getenv("LABELLED_PREFIX", "image/labelled"),
		PresignTTL:        duration("PRESIGN_TTL", time.Hour),
		UploadMaxAttempts: integer("UPLOAD_MAX_ATTEMPTS", 3),
		UploadRetryDelay:  duration("UPLOAD_RETRY_DELAY", 2*time.Second),
		PollInitialDelay:  duration("POLL_INITIAL_DELAY", 10*time.Second),
		PollInterval:      duration("POLL_INTERVAL", 5*time.Second),
		PollMaxAttempts:   integer("POLL_MAX_ATTEMPTS", 12),

		ImageMaxBytes:     imageMax,
		AllowedImageTypes: splitAndTrim(getenv("ALLOWED_IMAGE_TYPES", "image/jpeg,image/png")),
		FFmpegPath:        getenv("FFMPEG_PATH", ""),
		ImageMaxDimension: integer("IMAGE_MAX_DIMENSION", 3840),

		BackgroundWorkers:   integer("BACKGROUND_WORKERS", 4),
		BackgroundQueueSize: integer("BACKGROUND_QUEUE_SIZE", 64),

		LoopbackWorker:        getenv("LOOPBACK_WORKER", "false") == "true",
		LoopbackDelay:         duration("LOOPBACK_DELAY", 5*time.Second),
		LoopbackSweepInterval: duration("LOOPBACK_SWEEP_INTERVAL", 2*time.Second),

		TelegramBotToken: getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   chatID,
	}
}

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}

func integer(k string, d int) int {
	if v, err := strconv.Atoi(getenv(k, "")); err == nil && v > 0 {
		return v
	}
	return d
}

func duration(k string, d time.Duration) time.Duration {
	if v, err := time.ParseDuration(getenv(k, "")); err == nil && v > 0 {
		return v
	}
	return d
}
