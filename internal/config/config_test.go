package config_test

import (
	"testing"
	"time"

	"github.com/imvg93/NoriX-sub006/internal/config"
)

// clearEnv blanks every variable the loader reads so results do not
// depend on the host environment. Empty values read as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_ENV",
		"MONGO_URI", "MONGO_DB_NAME",
		"CHECK_INTERVAL_MS", "BATCH_SIZE", "LOOKBACK_WINDOW", "SCORE_TIMEOUT",
		"SCORER_BACKEND", "KYC_SERVICE_URL",
		"OCR_PASS", "OCR_FLAG", "FACE_PASS", "FACE_FLAG",
		"QUEUE_BACKEND", "REDIS_ADDR",
		"HTTP_PORT", "JWT_ISSUER", "JWT_SIGNING_KEY", "ACCESS_TTL", "REFRESH_TTL",
		"ADMIN_API_KEY", "RATE_LIMIT_PER_MIN",
		"CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET",
		"CLOUDINARY_FOLDER",
		"METRICS_PORT", "LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	if cfg.CheckInterval != 15*time.Second {
		t.Errorf("CheckInterval = %v, want 15s", cfg.CheckInterval)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
	if cfg.LookbackWindow != 24*time.Hour {
		t.Errorf("LookbackWindow = %v, want 24h", cfg.LookbackWindow)
	}
	if cfg.OCRPass != 0.8 || cfg.OCRFlag != 0.6 {
		t.Errorf("OCR thresholds = %v/%v, want 0.8/0.6", cfg.OCRPass, cfg.OCRFlag)
	}
	if cfg.FacePass != 0.75 || cfg.FaceFlag != 0.6 {
		t.Errorf("face thresholds = %v/%v, want 0.75/0.6", cfg.FacePass, cfg.FaceFlag)
	}
	if cfg.ScorerBackend != "stub" {
		t.Errorf("ScorerBackend = %q, want stub", cfg.ScorerBackend)
	}
	if cfg.MongoDBName != "norix" {
		t.Errorf("MongoDBName = %q, want norix", cfg.MongoDBName)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHECK_INTERVAL_MS", "2500")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("LOOKBACK_WINDOW", "6h")
	t.Setenv("OCR_PASS", "0.9")
	t.Setenv("SCORER_BACKEND", "kyc")
	t.Setenv("KYC_SERVICE_URL", "http://kyc.internal:9000")

	cfg := config.Load()

	if cfg.CheckInterval != 2500*time.Millisecond {
		t.Errorf("CheckInterval = %v, want 2.5s", cfg.CheckInterval)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.BatchSize)
	}
	if cfg.LookbackWindow != 6*time.Hour {
		t.Errorf("LookbackWindow = %v, want 6h", cfg.LookbackWindow)
	}
	if cfg.OCRPass != 0.9 {
		t.Errorf("OCRPass = %v, want 0.9", cfg.OCRPass)
	}
	if cfg.ScorerBackend != "kyc" || cfg.KYCServiceURL != "http://kyc.internal:9000" {
		t.Errorf("scorer backend config not applied: %q %q", cfg.ScorerBackend, cfg.KYCServiceURL)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHECK_INTERVAL_MS", "soon")
	t.Setenv("BATCH_SIZE", "many")
	t.Setenv("OCR_PASS", "high")

	cfg := config.Load()

	if cfg.CheckInterval != 15*time.Second {
		t.Errorf("CheckInterval = %v, want default 15s", cfg.CheckInterval)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want default 10", cfg.BatchSize)
	}
	if cfg.OCRPass != 0.8 {
		t.Errorf("OCRPass = %v, want default 0.8", cfg.OCRPass)
	}
}
