package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StorageConfig holds the object storage connection settings
type StorageConfig struct {
	Endpoint      string `json:"endpoint"`
	AccessKey     string `json:"access_key"`
	SecretKey     string `json:"secret_key"`
	Bucket        string `json:"bucket"`
	UseSSL        bool   `json:"use_ssl"`
	PublicBaseURL string `json:"public_base_url"`
}

// AudioConfig holds the audio validation limits
type AudioConfig struct {
	MaxFileSizeMB  int      `json:"max_file_size_mb"`
	MaxDurationSec int      `json:"max_duration_sec"`
	AllowedTypes   []string `json:"allowed_types"`
}

// ImageConfig holds the image validation limits
type ImageConfig struct {
	MaxFileSizeMB int      `json:"max_file_size_mb"`
	MinWidth      int      `json:"min_width"`
	MinHeight     int      `json:"min_height"`
	MaxWidth      int      `json:"max_width"`
	MaxHeight     int      `json:"max_height"`
	AllowedTypes  []string `json:"allowed_types"`
}

// ConverterConfig holds the external converter tool settings
type ConverterConfig struct {
	Python             string `json:"python"`
	ScriptDir          string `json:"script_dir"`
	ProxyURL           string `json:"proxy_url"`
	TimeoutSec         int    `json:"timeout_sec"`
	CleanupDelayMin    int    `json:"cleanup_delay_min"`
	AnalysisTimeoutSec int    `json:"analysis_timeout_sec"`
}

// WorkersConfig holds the per-queue worker pool sizes
type WorkersConfig struct {
	Uploads     int `json:"uploads"`
	Conversions int `json:"conversions"`
	Analysis    int `json:"analysis"`
	Cleanup     int `json:"cleanup"`
}

// Config holds the configuration for the processing server
type Config struct {
	DatabasePath       string          `json:"database_path"`
	TempDir            string          `json:"temp_dir"`
	LogPath            string          `json:"log_path"`
	LogLevel           string          `json:"log_level"`
	ClaimTimeoutSec    int             `json:"claim_timeout_sec"`
	PollIntervalMillis int             `json:"poll_interval_millis"`
	Storage            StorageConfig   `json:"storage"`
	Audio              AudioConfig     `json:"audio"`
	Image              ImageConfig     `json:"image"`
	Converter          ConverterConfig `json:"converter"`
	Workers            WorkersConfig   `json:"workers"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {

	dataDir := "."

	homeDir, err := os.UserHomeDir()
	if err == nil && homeDir != "" {
		dataDir = filepath.Join(homeDir, "mixloft")

		// Ensure the directory exists
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			dataDir = "."
		}
	}

	return &Config{
		DatabasePath:       filepath.Join(dataDir, "mixloft.db"),
		TempDir:            os.TempDir(),
		LogPath:            "logs",
		LogLevel:           "info",
		ClaimTimeoutSec:    300,
		PollIntervalMillis: 500,
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
			Bucket:   "mixloft-media",
		},
		Audio: AudioConfig{
			MaxFileSizeMB:  300,
			MaxDurationSec: 900,
			AllowedTypes:   []string{"mp3", "wav", "ogg"},
		},
		Image: ImageConfig{
			MaxFileSizeMB: 50,
			MinWidth:      200,
			MinHeight:     200,
			MaxWidth:      5000,
			MaxHeight:     5000,
			AllowedTypes:  []string{"jpeg", "jpg", "png", "webp"},
		},
		Converter: ConverterConfig{
			Python:             "python3",
			ScriptDir:          "scripts",
			TimeoutSec:         600,
			CleanupDelayMin:    15,
			AnalysisTimeoutSec: 120,
		},
		Workers: WorkersConfig{
			Uploads:     2,
			Conversions: 2,
			Analysis:    1,
			Cleanup:     1,
		},
	}
}

// LoadConfig loads the configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file doesn't exist, we can proceed with the default config
			return config, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	if c.ClaimTimeoutSec <= 0 {
		return fmt.Errorf("invalid claim timeout: %d", c.ClaimTimeoutSec)
	}
	if c.Audio.MaxFileSizeMB <= 0 || c.Audio.MaxDurationSec <= 0 {
		return fmt.Errorf("invalid audio limits")
	}
	if c.Image.MaxFileSizeMB <= 0 {
		return fmt.Errorf("invalid image limits")
	}
	return nil
}

// SaveConfig saves the configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config file: %w", err)
	}

	return nil
}
