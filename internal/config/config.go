// Package config provides configuration management for FaceAttend
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/faceattend/faceattend/internal/liveness"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP API settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// gRPC API settings
	GRPC GRPCConfig `mapstructure:"grpc" yaml:"grpc"`

	// Liveness settings
	Liveness LivenessConfig `mapstructure:"liveness" yaml:"liveness"`

	// Spoof attempt guard settings
	Guard GuardConfig `mapstructure:"guard" yaml:"guard"`

	// Storage settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Verdict cache settings
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Camera settings
	Camera CameraConfig `mapstructure:"camera" yaml:"camera"`

	// Logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Address           string `mapstructure:"address" yaml:"address" validate:"required"`                      // Listen address (e.g., :8080)
	MaxUploadBytes    int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`        // Largest accepted upload
	MaxImageDimension int    `mapstructure:"max_image_dimension" yaml:"max_image_dimension" validate:"gte=0"` // Longer side above this is downscaled (0 = never)
	ReadTimeout       int    `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`               // Request read timeout in seconds
	ShutdownTimeout   int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`       // Graceful shutdown timeout in seconds
	Mode              string `mapstructure:"mode" yaml:"mode" validate:"omitempty,oneof=debug release test"`  // gin mode
}

// GRPCConfig holds gRPC API configuration
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`                                     // Serve the gRPC API
	Address string `mapstructure:"address" yaml:"address" validate:"required_if=Enabled true"` // Listen address (e.g., :50051)
	Timeout int    `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`                    // Client request timeout in seconds
}

// LivenessConfig holds the liveness gate and its thresholds
type LivenessConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled" json:"enable_liveness_detection"` // Run the liveness check
	liveness.Config `mapstructure:",squash" yaml:",inline"`
}

// GuardConfig holds spoof attempt lockout configuration
type GuardConfig struct {
	MaxSpoofAttempts int `mapstructure:"max_spoof_attempts" yaml:"max_spoof_attempts" validate:"gte=0"` // Consecutive spoofs before lockout (0 = never)
	LockoutSeconds   int `mapstructure:"lockout_seconds" yaml:"lockout_seconds" validate:"gte=0"`       // Lockout duration in seconds
}

// StorageConfig holds data storage configuration
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`                               // Directory for service data
	DatabasePath string `mapstructure:"database_path" yaml:"database_path" validate:"required"` // SQLite database path
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit" validate:"gt=0"`     // Default page size for check history
}

// CacheConfig holds Redis verdict cache configuration
type CacheConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`                   // Redis address (empty = disabled)
	Password string `mapstructure:"password" yaml:"password"`                 // Redis password
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`            // Redis database number
	TTL      int    `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`          // Entry lifetime in seconds
	Prefix   string `mapstructure:"prefix" yaml:"prefix" validate:"required"` // Key prefix
}

// CameraConfig holds camera-related configuration
type CameraConfig struct {
	Device       string `mapstructure:"device" yaml:"device" validate:"required"`                                // V4L2 device path (e.g., /dev/video0)
	Width        int    `mapstructure:"width" yaml:"width" validate:"gt=0"`                                      // Capture width
	Height       int    `mapstructure:"height" yaml:"height" validate:"gt=0"`                                    // Capture height
	FPS          int    `mapstructure:"fps" yaml:"fps" validate:"gt=0"`                                          // Frames per second
	PixelFormat  string `mapstructure:"pixel_format" yaml:"pixel_format" validate:"oneof=MJPEG YUYV RGB24 GREY"` // V4L2 pixel format
	WarmupFrames int    `mapstructure:"warmup_frames" yaml:"warmup_frames" validate:"gte=0"`                     // Frames dropped while exposure settles
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"` // Log level: debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`           // Output format
	File   string `mapstructure:"file" yaml:"file"`                                          // Log file path (empty = stdout)
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			MaxUploadBytes:    10 << 20,
			MaxImageDimension: 1280,
			ReadTimeout:       15,
			ShutdownTimeout:   10,
			Mode:              "release",
		},
		GRPC: GRPCConfig{
			Enabled: true,
			Address: ":50051",
			Timeout: 10,
		},
		Liveness: LivenessConfig{
			Enabled: true,
			Config:  liveness.DefaultConfig(),
		},
		Guard: GuardConfig{
			MaxSpoofAttempts: 5,
			LockoutSeconds:   300,
		},
		Storage: StorageConfig{
			DataDir:      "/var/lib/faceattend",
			DatabasePath: "/var/lib/faceattend/faceattend.db",
			HistoryLimit: 50,
		},
		Cache: CacheConfig{
			Address: "",
			DB:      0,
			TTL:     600,
			Prefix:  "liveness",
		},
		Camera: CameraConfig{
			Device:       "/dev/video0",
			Width:        640,
			Height:       480,
			FPS:          30,
			PixelFormat:  "MJPEG",
			WarmupFrames: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Seed viper with the defaults so every key can be overridden from the environment
	defaults, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("error encoding defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		v.SetConfigName("faceattend")
		v.AddConfigPath("/etc/faceattend/")
		v.AddConfigPath("$HOME/.faceattend")
		v.AddConfigPath(".")
	}

	// Environment variable prefix, e.g. FACEATTEND_SERVER_ADDRESS
	v.SetEnvPrefix("FACEATTEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.MergeInConfig(); err != nil {
		// Config file not found is OK, use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Ensure data directory exists
	if cfg.Storage.DataDir != "" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("error creating data directory: %w", err)
		}
	}

	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return err
	}

	// Validate listen addresses
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return fmt.Errorf("%w: server address %q: %v", ErrInvalid, c.Server.Address, err)
	}
	if c.GRPC.Enabled {
		if _, _, err := net.SplitHostPort(c.GRPC.Address); err != nil {
			return fmt.Errorf("%w: grpc address %q: %v", ErrInvalid, c.GRPC.Address, err)
		}
	}
	if c.Cache.Address != "" {
		if _, _, err := net.SplitHostPort(c.Cache.Address); err != nil {
			return fmt.Errorf("%w: cache address %q: %v", ErrInvalid, c.Cache.Address, err)
		}
	}

	return nil
}

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their config key
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	return v
}

// ValidateStruct checks the validate tags of any configuration struct and
// reports the first failing field by its config key
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]

	// Drop the root type and the inlined liveness.Config segment
	var parts []string
	for i, p := range strings.Split(fe.Namespace(), ".") {
		if i == 0 || p == "Config" {
			continue
		}
		parts = append(parts, p)
	}
	field := strings.Join(parts, ".")
	if fe.Param() != "" {
		return fmt.Errorf("%w: %s must satisfy %s=%s, got %v", ErrInvalid, field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%w: %s must satisfy %s, got %v", ErrInvalid, field, fe.Tag(), fe.Value())
}
