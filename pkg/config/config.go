package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// Split strategy names accepted by the R-tree
const (
	SplitQuadratic = "quadratic"
	SplitLinear    = "linear"
)

type Config struct {
	Version int `json:"version"`

	// Block file configuration
	BlockSize     int `json:"block_size"`
	BlocksPerFile int `json:"blocks_per_file"`

	// List storage configuration
	ListBlockSize    int `json:"list_block_size"`
	MapBlocksPerFile int `json:"map_blocks_per_file"`

	// R-tree configuration
	Dimensions     int    `json:"dimensions"`
	MaxNodeEntries int    `json:"max_node_entries"`
	MinNodeEntries int    `json:"min_node_entries"`
	NodeBufferSize int    `json:"node_buffer_size"`
	SplitStrategy  string `json:"split_strategy"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentManifestVersion,

		// Block file defaults
		BlockSize:     4096,
		BlocksPerFile: 65536,

		// List storage defaults
		ListBlockSize:    4096,
		MapBlocksPerFile: 65536,

		// R-tree defaults
		Dimensions:     2,
		MaxNodeEntries: 32,
		MinNodeEntries: 12,
		NodeBufferSize: 128,
		SplitStrategy:  SplitQuadratic,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: block size must be positive", ErrInvalidConfig)
	}

	if c.BlocksPerFile <= 0 {
		return fmt.Errorf("%w: blocks per file must be positive", ErrInvalidConfig)
	}

	if c.ListBlockSize <= 0 {
		return fmt.Errorf("%w: list block size must be positive", ErrInvalidConfig)
	}

	if c.MapBlocksPerFile <= 0 {
		return fmt.Errorf("%w: map blocks per file must be positive", ErrInvalidConfig)
	}

	if c.Dimensions < 1 {
		return fmt.Errorf("%w: dimensions must be at least 1", ErrInvalidConfig)
	}

	if c.MinNodeEntries < 1 {
		return fmt.Errorf("%w: min node entries must be at least 1", ErrInvalidConfig)
	}

	if c.MaxNodeEntries < 2 {
		return fmt.Errorf("%w: max node entries must be at least 2", ErrInvalidConfig)
	}

	if c.MinNodeEntries > c.MaxNodeEntries/2 {
		return fmt.Errorf("%w: min node entries must not exceed half of max node entries", ErrInvalidConfig)
	}

	if c.NodeBufferSize < 1 {
		return fmt.Errorf("%w: node buffer size must be at least 1", ErrInvalidConfig)
	}

	if c.SplitStrategy != SplitQuadratic && c.SplitStrategy != SplitLinear {
		return fmt.Errorf("%w: unknown split strategy %q", ErrInvalidConfig, c.SplitStrategy)
	}

	return nil
}

// LoadConfigFromManifest loads the configuration from the manifest file in dir
func LoadConfigFromManifest(dir string) (*Config, error) {
	manifestPath := filepath.Join(dir, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveManifest writes the configuration to the manifest file in dir
func (c *Config) SaveManifest(dir string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(dir, DefaultManifestFileName)
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}
