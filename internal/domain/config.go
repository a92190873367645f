package domain

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Detection pipeline settings
	Detection DetectionConfig `json:"detection"`

	// Artifact storage settings
	Artifact ArtifactConfig `json:"artifact"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" envconfig:"SERVER_HOST"`
	Port         int    `json:"port" envconfig:"SERVER_PORT"`
	ReadTimeout  int    `json:"readTimeout" envconfig:"SERVER_READ_TIMEOUT"`   // seconds
	WriteTimeout int    `json:"writeTimeout" envconfig:"SERVER_WRITE_TIMEOUT"` // seconds
}

// DetectionConfig holds detector and feature-engineering parameters.
type DetectionConfig struct {
	// Contamination is the expected fraction of anomalies in training data.
	Contamination float64 `json:"contamination" envconfig:"DETECTION_CONTAMINATION"`

	// Trees is the number of isolation trees in the forest.
	Trees int `json:"trees" envconfig:"DETECTION_TREES"`

	// SampleSize is the per-tree subsample size for the isolation forest.
	SampleSize int `json:"sampleSize" envconfig:"DETECTION_SAMPLE_SIZE"`

	// Seed drives every random choice in training. Same seed and data,
	// same model.
	Seed int64 `json:"seed" envconfig:"DETECTION_SEED"`

	// TestFraction is the held-out share used for evaluation.
	TestFraction float64 `json:"testFraction" envconfig:"DETECTION_TEST_FRACTION"`

	// UnknownPolicy controls how encoders treat unseen categorical values:
	// "reserve" maps them to a reserved bucket, "reject" fails the row.
	UnknownPolicy string `json:"unknownPolicy" envconfig:"DETECTION_UNKNOWN_POLICY"`
}

// ArtifactConfig holds model artifact storage settings.
type ArtifactConfig struct {
	Dir string `json:"dir" envconfig:"ARTIFACT_DIR"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" envconfig:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `json:"format" envconfig:"LOG_FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"TRACING_ENABLED"`
	ServiceName string `json:"serviceName" envconfig:"TRACING_SERVICE_NAME"`
	Endpoint    string `json:"endpoint" envconfig:"TRACING_ENDPOINT"`
}

// UnknownPolicy values.
const (
	UnknownReserve = "reserve"
	UnknownReject  = "reject"
)

// DefaultConfig returns the default single-node configuration:
// SQLite storage, in-process cache and event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			Contamination: 0.05,
			Trees:         100,
			SampleSize:    256,
			Seed:          42,
			TestFraction:  0.2,
			UnknownPolicy: UnknownReserve,
		},
		Artifact: ArtifactConfig{
			Dir: "./models",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional .env file,
// and KESTREL_* environment variables, in increasing precedence.
func LoadConfig() (*Config, error) {
	// A missing .env is fine; env vars alone are enough.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := envconfig.Process("kestrel", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Detection.Contamination <= 0 || c.Detection.Contamination >= 0.5 {
		return fmt.Errorf("%w: contamination must be in (0, 0.5), got %v", ErrInputData, c.Detection.Contamination)
	}
	if c.Detection.Trees <= 0 {
		return fmt.Errorf("%w: trees must be positive, got %d", ErrInputData, c.Detection.Trees)
	}
	if c.Detection.TestFraction <= 0 || c.Detection.TestFraction >= 1 {
		return fmt.Errorf("%w: test fraction must be in (0, 1), got %v", ErrInputData, c.Detection.TestFraction)
	}
	switch c.Detection.UnknownPolicy {
	case UnknownReserve, UnknownReject:
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInputData, c.Detection.UnknownPolicy)
	}
	return nil
}
