// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for xet deployments.
//
// Configuration is loaded from a single file specified by:
//   - XET_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the deployment configuration for a xet client or cache
// daemon.
type Config struct {
	// CASNamespace scopes this deployment's objects on the remote
	// CAS service — distinct deployments sharing one service endpoint
	// must use distinct namespaces to avoid colliding dedup matches
	// against unrelated data.
	CASNamespace string `yaml:"cas_namespace"`

	// Cache configures the local dedup cache.
	Cache CacheConfig `yaml:"cache"`

	// Dedup configures the fragmentation-avoidance policy applied
	// when deciding whether a run of matched chunks is worth reusing.
	Dedup DedupConfig `yaml:"dedup"`
}

// CacheConfig configures the local dedup cache's storage.
type CacheConfig struct {
	// Root is the directory the cache's Badger store lives in.
	Root string `yaml:"root"`

	// SnapshotPath, if non-empty, is where the cache is exported on a
	// clean shutdown and imported from on startup, so a cold-started
	// process does not start with an empty cache.
	SnapshotPath string `yaml:"snapshot_path"`
}

// DedupConfig configures [xet.FragmentationPolicy] thresholds.
type DedupConfig struct {
	// MinRunChunks is the minimum contiguous matched-chunk run length
	// worth reusing instead of re-uploading. See spec §4.9.
	MinRunChunks int `yaml:"min_run_chunks"`

	// MinRunBytes is the minimum matched-chunk run byte length worth
	// reusing, independent of chunk count.
	MinRunBytes int64 `yaml:"min_run_bytes"`
}

// Default returns the default configuration. These defaults exist to
// give every field a sensible zero-value before the config file is
// applied, not as a fallback — the config file is required.
func Default() *Config {
	cacheDir, _ := os.UserCacheDir()
	root := filepath.Join(cacheDir, "xet", "dedup-cache")

	return &Config{
		CASNamespace: "default",
		Cache: CacheConfig{
			Root:         root,
			SnapshotPath: filepath.Join(root, "..", "dedup-cache.snapshot.cbor"),
		},
		Dedup: DedupConfig{
			MinRunChunks: 8,
			MinRunBytes:  1024 * 1024,
		},
	}
}

// Load loads configuration from the XET_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit
// path. There is no fallback or default path — if XET_CONFIG is not
// set, this fails, so a missing config can never be silently mistaken
// for an intentionally minimal one.
func Load() (*Config, error) {
	path := os.Getenv("XET_CONFIG")
	if path == "" {
		return nil, errors.New("XET_CONFIG environment variable not set; " +
			"set it to the path of your xet.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables besides
// XET_CONFIG itself do not override config values. The only expansion
// performed is ${VAR} and ${VAR:-default} substitution in path
// fields, for portability across machines.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Cache.Root = expandVars(c.Cache.Root, vars)
	vars["XET_CACHE_ROOT"] = c.Cache.Root
	c.Cache.SnapshotPath = expandVars(c.Cache.SnapshotPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, defaultValue := parts[1], ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.CASNamespace == "" {
		errs = append(errs, errors.New("cas_namespace is required"))
	}
	if c.Cache.Root == "" {
		errs = append(errs, errors.New("cache.root is required"))
	}
	if c.Dedup.MinRunChunks <= 0 {
		errs = append(errs, fmt.Errorf("dedup.min_run_chunks must be positive, got %d", c.Dedup.MinRunChunks))
	}
	if c.Dedup.MinRunBytes <= 0 {
		errs = append(errs, fmt.Errorf("dedup.min_run_bytes must be positive, got %d", c.Dedup.MinRunBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the cache directory and the snapshot file's
// parent directory if they don't already exist.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Cache.Root, 0o755); err != nil {
		return fmt.Errorf("creating cache root: %w", err)
	}
	if c.Cache.SnapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.Cache.SnapshotPath), 0o755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	return nil
}
