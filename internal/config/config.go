// Package config loads service configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the worker binary needs to start
type Config struct {
	// HTTPAddr is the listen address for metrics, health and status feeds
	HTTPAddr string

	// DBPath is the SQLite database file
	DBPath string

	// VideoDir is the root directory for stored incident videos
	VideoDir string

	// NATSPort is the embedded broker port; zero picks a random free port
	NATSPort int

	// WorkerCount bounds concurrent incident processing runs
	WorkerCount int

	// SampleFPS is the frame sampling rate in frames per second
	SampleFPS float64

	// DetectorEndpoint and OCREndpoint are the inference sidecar base URLs
	DetectorEndpoint string
	OCREndpoint      string

	// DetectionMinConfidence filters vehicle detections
	DetectionMinConfidence float64

	// PlateMinConfidence filters plate reads
	PlateMinConfidence float64

	// PlateRuleset selects the plate-format validation pattern set;
	// "none" disables validation
	PlateRuleset string

	// FrameFailureRatio is the fraction of frames that may fail recoverably
	// before a run is abandoned
	FrameFailureRatio float64

	// ScanWholeFrame additionally runs plate recognition over full frames
	ScanWholeFrame bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	// Silently ignore a missing .env file
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8090"),
		DBPath:           getEnv("DB_PATH", "roadwatch.db"),
		VideoDir:         getEnv("VIDEO_DIR", "videos"),
		DetectorEndpoint: getEnv("DETECTOR_ENDPOINT", "http://localhost:8001"),
		OCREndpoint:      getEnv("OCR_ENDPOINT", "http://localhost:8002"),
		PlateRuleset:     getEnv("PLATE_RULESET", "generic"),
		ScanWholeFrame:   getEnvBool("SCAN_WHOLE_FRAME", true),
	}

	var err error
	if cfg.NATSPort, err = getEnvInt("NATS_PORT", 4222); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = getEnvInt("WORKER_COUNT", 2); err != nil {
		return nil, err
	}
	if cfg.SampleFPS, err = getEnvFloat("SAMPLE_FPS", 1.0); err != nil {
		return nil, err
	}
	if cfg.DetectionMinConfidence, err = getEnvFloat("DETECTION_MIN_CONFIDENCE", 0.25); err != nil {
		return nil, err
	}
	if cfg.PlateMinConfidence, err = getEnvFloat("PLATE_MIN_CONFIDENCE", 0.5); err != nil {
		return nil, err
	}
	if cfg.FrameFailureRatio, err = getEnvFloat("FRAME_FAILURE_RATIO", 0.5); err != nil {
		return nil, err
	}

	if cfg.SampleFPS <= 0 {
		return nil, fmt.Errorf("SAMPLE_FPS must be positive, got %v", cfg.SampleFPS)
	}
	if cfg.FrameFailureRatio <= 0 || cfg.FrameFailureRatio > 1 {
		return nil, fmt.Errorf("FRAME_FAILURE_RATIO must be in (0, 1], got %v", cfg.FrameFailureRatio)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) bool {
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
