package model

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"clip-demo/internal/embeddings"
	"clip-demo/internal/imaging"
)

// ManifestFile is the file every bundle directory must contain.
const ManifestFile = "manifest.yaml"

// Manifest describes one encoder model inside a bundle.
type Manifest struct {
	Name      string          `yaml:"name" json:"name"`
	Kind      embeddings.Kind `yaml:"kind" json:"kind"`
	Provider  string          `yaml:"provider" json:"provider"`
	Endpoint  string          `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Model     string          `yaml:"model,omitempty" json:"model,omitempty"`
	Dimension int             `yaml:"dimension" json:"dimension"`
	InputSize int             `yaml:"input_size,omitempty" json:"input_size,omitempty"`
}

// ImageSize is the square pixel size image encoders expect.
func (m Manifest) ImageSize() image.Point {
	if m.InputSize <= 0 {
		return imaging.DefaultInputSize
	}
	return imaging.Square(m.InputSize)
}

// ResolvePath maps a bundle path to an absolute path under root. Relative paths
// are joined onto root. Paths that end up outside root fail with ErrBundleNotFound.
func ResolvePath(root, path string) (string, error) {
	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve models dir %s: %w", root, err)
	}
	full := filepath.Clean(path)
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the models directory", ErrBundleNotFound, path)
	}
	return full, nil
}

// ReadManifest loads and validates the manifest of the bundle at dir.
func ReadManifest(dir string) (Manifest, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrBundleNotFound, dir)
		}
		return Manifest{}, fmt.Errorf("stat bundle %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Manifest{}, fmt.Errorf("%w: %s is not a directory", ErrBundleNotFound, dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %s has no %s", ErrInvalidManifest, dir, ManifestFile)
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(filepath.Clean(dir))
	}
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) validate() error {
	switch {
	case !m.Kind.Valid():
		return fmt.Errorf("%w: kind %q must be image or text", ErrInvalidManifest, m.Kind)
	case m.Provider == "":
		return fmt.Errorf("%w: provider is required", ErrInvalidManifest)
	case m.Dimension <= 0:
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidManifest)
	case m.InputSize < 0:
		return fmt.Errorf("%w: input_size must not be negative", ErrInvalidManifest)
	}
	return nil
}

// WriteManifest validates m and writes it as the manifest of the bundle at dir,
// creating the directory if needed.
func WriteManifest(dir string, m Manifest) error {
	if err := m.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}
