// Package config reads and writes the daemon's on-disk configuration: the
// line-oriented config file, the machine-identity file, and the project
// registry. Writes use a temp-then-rename pattern so a reader never
// observes a partially written file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const envPrefix = "PUSH_"

// Keys recognized in the config file. The map value is the default
// used when the key is absent from both the file and the environment.
var boolDefaults = map[string]bool{
	"AUTO_COMMIT":   true,
	"AUTO_MERGE":    true,
	"AUTO_COMPLETE": true,
}

const defaultMaxBatchSize = 5

// Config holds the resolved daemon configuration after file+env merge.
type Config struct {
	APIKey       string
	Email        string
	AutoCommit   bool
	AutoMerge    bool
	AutoComplete bool
	MaxBatchSize int

	path string
}

// Load reads the config file at <dir>/config, applying environment variable
// overrides for any key present as PUSH_<KEY> in the environment. A missing
// file is treated as empty, not an error (first run before `connect`).
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "config")
	values, err := readKeyValueFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		APIKey:       lookup(values, "API_KEY", ""),
		Email:        lookup(values, "EMAIL", ""),
		AutoCommit:   lookupBool(values, "AUTO_COMMIT", boolDefaults["AUTO_COMMIT"]),
		AutoMerge:    lookupBool(values, "AUTO_MERGE", boolDefaults["AUTO_MERGE"]),
		AutoComplete: lookupBool(values, "AUTO_COMPLETE", boolDefaults["AUTO_COMPLETE"]),
		MaxBatchSize: lookupInt(values, "MAX_BATCH_SIZE", defaultMaxBatchSize),
		path:         path,
	}

	if cfg.MaxBatchSize < 1 || cfg.MaxBatchSize > 20 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}

	return cfg, nil
}

// Save writes the config back to disk atomically, preserving the PUSH_ prefix.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing path")
	}
	lines := []string{
		envPrefix + "API_KEY=" + c.APIKey,
		envPrefix + "EMAIL=" + c.Email,
		envPrefix + "AUTO_COMMIT=" + strconv.FormatBool(c.AutoCommit),
		envPrefix + "AUTO_MERGE=" + strconv.FormatBool(c.AutoMerge),
		envPrefix + "AUTO_COMPLETE=" + strconv.FormatBool(c.AutoComplete),
		envPrefix + "MAX_BATCH_SIZE=" + strconv.Itoa(c.MaxBatchSize),
	}
	content := strings.Join(lines, "\n") + "\n"
	return atomicWriteFile(c.path, []byte(content), 0o600)
}

// readKeyValueFile parses NAME=VALUE lines, stripping the PUSH_ prefix so
// callers can look keys up by their bare name.
func readKeyValueFile(path string) (map[string]string, error) {
	values := map[string]string{}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		key = strings.TrimPrefix(key, envPrefix)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// lookup resolves a bare key, preferring the environment variable
// PUSH_<key> over the file value, falling back to def.
func lookup(values map[string]string, key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	if v, ok := values[key]; ok {
		return v
	}
	return def
}

func lookupBool(values map[string]string, key string, def bool) bool {
	raw := lookup(values, key, "")
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return parsed
}

func lookupInt(values map[string]string, key string, def int) int {
	raw := lookup(values, key, "")
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return parsed
}

// atomicWriteFile writes content to a temp file in the same directory, then
// renames it into place, so concurrent readers never see a partial write.
func atomicWriteFile(path string, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
