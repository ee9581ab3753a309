package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// overlayFileName is the per-repo config overlay read from the root of a
// registered repository.
const overlayFileName = "push.yaml"

// Overlay carries per-repo overrides for the global config: an
// agent wall-clock timeout, an allowed-tools list, and an auto-merge
// toggle, each falling back to the daemon-wide default when unset.
type Overlay struct {
	RunnerTimeout time.Duration `yaml:"runner_timeout"`
	AllowedTools  []string      `yaml:"allowed_tools"`
	AutoMerge     *bool         `yaml:"auto_merge"`
}

type overlayYAML struct {
	RunnerTimeout string   `yaml:"runner_timeout"`
	AllowedTools  []string `yaml:"allowed_tools"`
	AutoMerge     *bool    `yaml:"auto_merge"`
}

type overlayLoader struct {
	readFile func(string) ([]byte, error)
}

var defaultOverlayLoader = overlayLoader{readFile: os.ReadFile}

// LoadOverlay reads <repoPath>/push.yaml, if present. A missing file is not
// an error: it returns (nil, nil), meaning "no overrides, use the daemon
// default for everything".
func LoadOverlay(repoPath string) (*Overlay, error) {
	return defaultOverlayLoader.load(repoPath)
}

func (l overlayLoader) load(repoPath string) (*Overlay, error) {
	path := filepath.Join(repoPath, overlayFileName)
	content, err := l.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw overlayYAML
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	overlay := &Overlay{AllowedTools: raw.AllowedTools, AutoMerge: raw.AutoMerge}
	if raw.RunnerTimeout != "" {
		d, err := time.ParseDuration(raw.RunnerTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: runner_timeout %q: %w", path, raw.RunnerTimeout, err)
		}
		overlay.RunnerTimeout = d
	}
	return overlay, nil
}

// OverlayLoaderFunc adapts a plain function to runner.OverlayResolver so
// cmd/push-daemon can wire config.LoadOverlay directly without an adapter
// type of its own.
type OverlayLoaderFunc func(repoPath string) (*Overlay, error)

// Load calls f.
func (f OverlayLoaderFunc) Load(repoPath string) (*Overlay, error) {
	return f(repoPath)
}
