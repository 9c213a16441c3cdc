package vm

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// PageSize is the default size of a page/frame in bytes
const PageSize = 4096

// Config holds paging subsystem configuration
type Config struct {
	// Physical Memory Configuration
	PoolFrames uint32 `json:"pool_frames"` // Number of physical frames in the pool
	PageSize   uint32 `json:"page_size"`   // Page size in bytes (default: 4096)

	// Swap Configuration
	SwapPath        string `json:"swap_path"`        // Path to the swap file
	SwapSlots       uint32 `json:"swap_slots"`       // Number of slots in the swap store
	SwapMmap        bool   `json:"swap_mmap"`        // Use the mmap-backed swap store
	SwapCompression string `json:"swap_compression"` // Slot compression (none, lz4, snappy)

	// TLB Configuration
	TLBEntries int `json:"tlb_entries"` // Translation cache capacity (0 disables)

	// Performance Configuration
	EnableMetrics bool   `json:"enable_metrics"` // Whether to collect performance metrics
	LogLevel      string `json:"log_level"`      // Log level (debug, info, warn, error)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PoolFrames:      256,
		PageSize:        PageSize,
		SwapPath:        "./swapfile.bin",
		SwapSlots:       1024,
		SwapMmap:        false,
		SwapCompression: "none",
		TLBEntries:      64,
		EnableMetrics:   true,
		LogLevel:        "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables
// Falls back to default values if environment variables are not set
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	// Physical memory
	if val := os.Getenv("HEXVM_POOL_FRAMES"); val != "" {
		if frames, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PoolFrames = uint32(frames)
		}
	}

	if val := os.Getenv("HEXVM_PAGE_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PageSize = uint32(size)
		}
	}

	// Swap
	if val := os.Getenv("HEXVM_SWAP_PATH"); val != "" {
		config.SwapPath = val
	}

	if val := os.Getenv("HEXVM_SWAP_SLOTS"); val != "" {
		if slots, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.SwapSlots = uint32(slots)
		}
	}

	if val := os.Getenv("HEXVM_SWAP_MMAP"); val != "" {
		config.SwapMmap = val == "true" || val == "1"
	}

	if val := os.Getenv("HEXVM_SWAP_COMPRESSION"); val != "" {
		config.SwapCompression = val
	}

	// TLB
	if val := os.Getenv("HEXVM_TLB_ENTRIES"); val != "" {
		if entries, err := strconv.Atoi(val); err == nil {
			config.TLBEntries = entries
		}
	}

	// Performance
	if val := os.Getenv("HEXVM_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("HEXVM_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PoolFrames == 0 {
		return fmt.Errorf("pool frames must be greater than 0")
	}

	if c.PageSize == 0 {
		return fmt.Errorf("page size must be greater than 0")
	}

	if c.PageSize%512 != 0 {
		return fmt.Errorf("page size must be a multiple of 512")
	}

	if c.SwapPath == "" {
		return fmt.Errorf("swap path cannot be empty")
	}

	if c.SwapSlots == 0 {
		return fmt.Errorf("swap slots must be greater than 0")
	}

	if c.TLBEntries < 0 {
		return fmt.Errorf("tlb entries cannot be negative")
	}

	validCompression := map[string]bool{
		"none":   true,
		"lz4":    true,
		"snappy": true,
	}

	if !validCompression[c.SwapCompression] {
		return fmt.Errorf("invalid swap compression: %s (must be none, lz4, or snappy)", c.SwapCompression)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
