package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed tuning.yaml
var tuningYAML []byte

// Config holds the full application configuration.
type Config struct {
	LogMode     string
	Database    DatabaseConfig
	Directory   DirectoryConfig
	FaceID      FaceIDConfig
	Auth        AuthConfig
	Recognition RecognitionConfig
	Scorer      ScorerConfig
}

// DatabaseConfig configures the PostgreSQL template store backend.
type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// DirectoryConfig configures the read-only HR directory mirror used by the
// roster sync command.
type DirectoryConfig struct {
	MySQLDSN string // e.g. hr:hr@tcp(hr-db:3306)/hr
}

// FaceIDConfig configures the external face model server (liveness,
// embedding extraction, quality estimation).
type FaceIDConfig struct {
	URL            string // defaults to http://localhost:8000
	TimeoutSeconds int    // per-call timeout (default 5)
	EmbeddingDim   int    // defaults to 512
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	JWTSecret string // HMAC secret for admin tokens
	DeviceKey string // shared key kiosks present on recognition calls
}

// RecognitionConfig holds the recognition and learning thresholds.
// All values are in [0,1] and the three confidence thresholds must be
// strictly increasing.
type RecognitionConfig struct {
	RecognitionThreshold        float64 `yaml:"recognition_threshold"`
	HighConfidenceThreshold     float64 `yaml:"high_confidence_threshold"`
	VeryHighConfidenceThreshold float64 `yaml:"very_high_confidence_threshold"`
	MinQualityForLearning       float64 `yaml:"min_quality_for_learning"`
	MinConfidenceForLearning    float64 `yaml:"min_confidence_for_learning"`
}

// ScorerConfig holds the template replacement scoring tunables. The weights
// and deltas are empirically chosen; they are configuration, not law.
type ScorerConfig struct {
	QualityWeight    float64 `yaml:"quality_weight"`
	UsageWeight      float64 `yaml:"usage_weight"`
	ConfidenceWeight float64 `yaml:"confidence_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`

	MatchCountCap int     `yaml:"match_count_cap"`
	AgeCapDays    float64 `yaml:"age_cap_days"`

	QualityGainReplace     float64 `yaml:"quality_gain_replace"`
	ConfidenceGainReplace  float64 `yaml:"confidence_gain_replace"`
	LowEvidenceMatchCount  int     `yaml:"low_evidence_match_count"`
	WeakQualityFloor       float64 `yaml:"weak_quality_floor"`
	StrongQualityBar       float64 `yaml:"strong_quality_bar"`
	ModerateQualityGain    float64 `yaml:"moderate_quality_gain"`
	ModerateConfidenceGain float64 `yaml:"moderate_confidence_gain"`
}

// tuningFile mirrors the layout of tuning.yaml.
type tuningFile struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Scorer      ScorerConfig      `yaml:"scorer"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// Load reads configuration from the environment. Tuning defaults come from
// the embedded tuning.yaml; a file named by TUNING_PATH overrides them, and
// the five threshold env vars override either.
func Load() (*Config, error) {
	var tuning tuningFile
	if err := yaml.Unmarshal(tuningYAML, &tuning); err != nil {
		// Embedded file, should never happen in practice.
		panic("failed to unmarshal embedded tuning.yaml: " + err.Error())
	}

	if path := os.Getenv("TUNING_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tuning file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &tuning); err != nil {
			return nil, fmt.Errorf("parse tuning file %s: %w", path, err)
		}
	}

	rec := tuning.Recognition
	rec.RecognitionThreshold = envFloat("RECOGNITION_THRESHOLD", rec.RecognitionThreshold)
	rec.HighConfidenceThreshold = envFloat("HIGH_CONFIDENCE_THRESHOLD", rec.HighConfidenceThreshold)
	rec.VeryHighConfidenceThreshold = envFloat("VERY_HIGH_CONFIDENCE_THRESHOLD", rec.VeryHighConfidenceThreshold)
	rec.MinQualityForLearning = envFloat("MIN_QUALITY_FOR_LEARNING", rec.MinQualityForLearning)
	rec.MinConfidenceForLearning = envFloat("MIN_CONFIDENCE_FOR_LEARNING", rec.MinConfidenceForLearning)

	cfg := &Config{
		LogMode: os.Getenv("LOG_MODE"),
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Directory: DirectoryConfig{
			MySQLDSN: os.Getenv("HR_DATABASE_DSN"),
		},
		FaceID: FaceIDConfig{
			URL:            os.Getenv("FACEID_URL"),
			TimeoutSeconds: envInt("FACEID_TIMEOUT_SECONDS", 5),
			EmbeddingDim:   envInt("FACEID_EMBEDDING_DIM", 512),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
			DeviceKey: os.Getenv("KIOSK_DEVICE_KEY"),
		},
		Recognition: rec,
		Scorer:      tuning.Scorer,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks threshold ranges and ordering. A violation here is a
// configuration error and should abort startup.
func (c *Config) Validate() error {
	r := &c.Recognition
	for name, v := range map[string]float64{
		"recognition_threshold":          r.RecognitionThreshold,
		"high_confidence_threshold":      r.HighConfidenceThreshold,
		"very_high_confidence_threshold": r.VeryHighConfidenceThreshold,
		"min_quality_for_learning":       r.MinQualityForLearning,
		"min_confidence_for_learning":    r.MinConfidenceForLearning,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}

	if !(r.RecognitionThreshold < r.HighConfidenceThreshold &&
		r.HighConfidenceThreshold < r.VeryHighConfidenceThreshold) {
		return fmt.Errorf(
			"confidence thresholds must be strictly increasing: %v < %v < %v does not hold",
			r.RecognitionThreshold, r.HighConfidenceThreshold, r.VeryHighConfidenceThreshold,
		)
	}

	s := &c.Scorer
	for name, v := range map[string]float64{
		"quality_weight":    s.QualityWeight,
		"usage_weight":      s.UsageWeight,
		"confidence_weight": s.ConfidenceWeight,
		"recency_weight":    s.RecencyWeight,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", name, v)
		}
	}
	if s.MatchCountCap <= 0 {
		return fmt.Errorf("match_count_cap must be positive, got %d", s.MatchCountCap)
	}
	if s.AgeCapDays <= 0 {
		return fmt.Errorf("age_cap_days must be positive, got %v", s.AgeCapDays)
	}
	return nil
}
