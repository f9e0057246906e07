package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	MongoURI    string
	MongoDBName string
	RedisAddr   string

	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AdminAPIKey   string

	CheckInterval  time.Duration
	BatchSize      int
	LookbackWindow time.Duration
	ScoreTimeout   time.Duration

	ScorerBackend string // "stub" or "kyc"
	KYCServiceURL string

	OCRPass  float64
	OCRFlag  float64
	FacePass float64
	FaceFlag float64

	QueueBackend    string
	RateLimitPerMin int

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	MetricsPort string
	LogLevel    string
	LogFormat   string
}

// Load returns application config populated from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() App {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	return App{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8081"),

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "norix"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),

		JWTIssuer:     getEnv("JWT_ISSUER", "norix-kyc"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:     durationEnv("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    durationEnv("REFRESH_TTL", 24*time.Hour),
		AdminAPIKey:   getEnv("ADMIN_API_KEY", "dev-admin-key-change"),

		CheckInterval:  time.Duration(intEnv("CHECK_INTERVAL_MS", 15000)) * time.Millisecond,
		BatchSize:      intEnv("BATCH_SIZE", 10),
		LookbackWindow: durationEnv("LOOKBACK_WINDOW", 24*time.Hour),
		ScoreTimeout:   durationEnv("SCORE_TIMEOUT", 30*time.Second),

		ScorerBackend: getEnv("SCORER_BACKEND", "stub"),
		KYCServiceURL: getEnv("KYC_SERVICE_URL", "http://localhost:8000"),

		OCRPass:  floatEnv("OCR_PASS", 0.8),
		OCRFlag:  floatEnv("OCR_FLAG", 0.6),
		FacePass: floatEnv("FACE_PASS", 0.75),
		FaceFlag: floatEnv("FACE_FLAG", 0.6),

		QueueBackend:    getEnv("QUEUE_BACKEND", "redis"),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "norix/kyc"),

		MetricsPort: getEnv("METRICS_PORT", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %g", key, fallback)
	}
	return fallback
}
