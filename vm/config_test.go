package vm

import (
	"os"
	"testing"
)

// TestDefaultConfig tests that the defaults validate
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// TestConfigValidate tests rejection of bad values
func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pool frames", func(c *Config) { c.PoolFrames = 0 }},
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
		{"unaligned page size", func(c *Config) { c.PageSize = 1000 }},
		{"empty swap path", func(c *Config) { c.SwapPath = "" }},
		{"zero swap slots", func(c *Config) { c.SwapSlots = 0 }},
		{"negative tlb", func(c *Config) { c.TLBEntries = -1 }},
		{"bad compression", func(c *Config) { c.SwapCompression = "zstd" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tc := range cases {
		config := DefaultConfig()
		tc.mutate(config)
		if err := config.Validate(); err == nil {
			t.Errorf("Expected validation error for %s", tc.name)
		}
	}
}

// TestConfigFileRoundTrip tests save and reload
func TestConfigFileRoundTrip(t *testing.T) {
	path := t.TempDir() + "/hexvm.json"

	config := DefaultConfig()
	config.PoolFrames = 32
	config.SwapCompression = "lz4"
	if err := config.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile failed: %v", err)
	}
	if loaded.PoolFrames != 32 || loaded.SwapCompression != "lz4" {
		t.Errorf("Round trip lost values: %+v", loaded)
	}
}

// TestConfigFromEnv tests environment overrides
func TestConfigFromEnv(t *testing.T) {
	os.Setenv("HEXVM_POOL_FRAMES", "16")
	os.Setenv("HEXVM_SWAP_COMPRESSION", "snappy")
	os.Setenv("HEXVM_SWAP_MMAP", "1")
	os.Setenv("HEXVM_TLB_ENTRIES", "8")
	defer func() {
		os.Unsetenv("HEXVM_POOL_FRAMES")
		os.Unsetenv("HEXVM_SWAP_COMPRESSION")
		os.Unsetenv("HEXVM_SWAP_MMAP")
		os.Unsetenv("HEXVM_TLB_ENTRIES")
	}()

	config := LoadConfigFromEnv()
	if config.PoolFrames != 16 {
		t.Errorf("Expected 16 pool frames, got %d", config.PoolFrames)
	}
	if config.SwapCompression != "snappy" {
		t.Errorf("Expected snappy compression, got %s", config.SwapCompression)
	}
	if !config.SwapMmap {
		t.Error("Expected mmap swap enabled")
	}
	if config.TLBEntries != 8 {
		t.Errorf("Expected 8 TLB entries, got %d", config.TLBEntries)
	}
}

// TestConfigClone tests that clones are independent
func TestConfigClone(t *testing.T) {
	config := DefaultConfig()
	clone := config.Clone()
	clone.PoolFrames = 1

	if config.PoolFrames == 1 {
		t.Error("Mutating the clone changed the original")
	}
}
