package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default file extensions treated as tabular exports.
var DefaultTabularExtensions = []string{".txt", ".csv", ".tsv"}

// Default archive extensions picked up by batch extraction and uploads.
// SIARD containers are plain ZIP files with their own extension.
var DefaultArchiveExtensions = []string{".zip", ".siard"}

const (
	// Names of the artifacts persisted inside every extraction root.
	StructureFileName = "structure.json"
	SchemasFileName   = "schemas.json"

	// Similarity (0-100) a raw column must exceed to be renamed.
	DefaultSimilarityThreshold = 80

	DefaultSearchWorkers  = 4
	DefaultExtractWorkers = 2
	DefaultUploadWorkers  = 4
	DefaultListenAddr     = "127.0.0.1:5000"
)

// Config holds application settings
type Config struct {
	UploadDir  string `yaml:"upload_dir"`
	ExtractDir string `yaml:"extract_dir"`
	OutputDir  string `yaml:"output_dir"` // Parquet export target

	SearchWorkers  int           `yaml:"search_workers"`
	ExtractWorkers int           `yaml:"extract_workers"`
	UploadWorkers  int           `yaml:"upload_workers"`
	TaskTimeout    time.Duration `yaml:"task_timeout"` // 0 disables the per-task deadline

	TabularExtensions []string `yaml:"tabular_extensions"`
	ArchiveExtensions []string `yaml:"archive_extensions"`

	// Optional YAML catalog replacing the embedded canonical schemas.
	CatalogPath         string `yaml:"catalog_path"`
	SimilarityThreshold int    `yaml:"similarity_threshold"`

	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file or flag overrides a value.
func Default() Config {
	return Config{
		UploadDir:           "uploads",
		ExtractDir:          "temp_extracted",
		OutputDir:           "output_parquet",
		SearchWorkers:       DefaultSearchWorkers,
		ExtractWorkers:      DefaultExtractWorkers,
		UploadWorkers:       DefaultUploadWorkers,
		TabularExtensions:   append([]string(nil), DefaultTabularExtensions...),
		ArchiveExtensions:   append([]string(nil), DefaultArchiveExtensions...),
		SimilarityThreshold: DefaultSimilarityThreshold,
		ListenAddr:          DefaultListenAddr,
	}
}

// Load overlays the YAML document at path onto the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.ExtractDir == "" {
		errs = append(errs, errors.New("extract_dir is required"))
	}
	if c.SearchWorkers < 1 {
		errs = append(errs, fmt.Errorf("search_workers must be >= 1, got %d", c.SearchWorkers))
	}
	if c.ExtractWorkers < 1 {
		errs = append(errs, fmt.Errorf("extract_workers must be >= 1, got %d", c.ExtractWorkers))
	}
	if c.UploadWorkers < 1 {
		errs = append(errs, fmt.Errorf("upload_workers must be >= 1, got %d", c.UploadWorkers))
	}
	if c.TaskTimeout < 0 {
		errs = append(errs, fmt.Errorf("task_timeout must not be negative, got %s", c.TaskTimeout))
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 100 {
		errs = append(errs, fmt.Errorf("similarity_threshold must be within 0-100, got %d", c.SimilarityThreshold))
	}
	if len(c.TabularExtensions) == 0 {
		errs = append(errs, errors.New("tabular_extensions must not be empty"))
	}
	if len(c.ArchiveExtensions) == 0 {
		errs = append(errs, errors.New("archive_extensions must not be empty"))
	}
	return errors.Join(errs...)
}
