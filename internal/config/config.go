// Package config holds the training hyperparameters and their resolution:
// built-in defaults, overlaid by an optional YAML file, overlaid by flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ArgsFileName is the resolved configuration written into each checkpoint.
const ArgsFileName = "training_args.yaml"

// SaveTimeFormat is the timestamp layout of checkpoint directory names.
const SaveTimeFormat = "2006-01-02_15-04-05"

// Config holds all training configuration
type Config struct {
	ModelNameOrPath string          `yaml:"model_name_or_path"`
	MaxSeqLength    int             `yaml:"max_seq_length"`
	BatchSize       int             `yaml:"batch_size"`
	NumEpochs       int             `yaml:"num_epochs"`
	OutputDir       string          `yaml:"output_dir"`
	OutputPrefix    string          `yaml:"output_prefix"`
	Seed            int64           `yaml:"seed"`
	DatasetDir      string          `yaml:"dataset_dir"`
	EvaluationSteps int             `yaml:"evaluation_steps"`
	WarmupRatio     float64         `yaml:"warmup_ratio"`
	Workers         int             `yaml:"workers"`
	LogLevel        string          `yaml:"log_level"`
	Optimizer       OptimizerConfig `yaml:"optimizer"`
	Hub             HubConfig       `yaml:"hub"`
}

// OptimizerConfig holds the AdamW settings and gradient clipping
type OptimizerConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	Epsilon      float64 `yaml:"epsilon"`
	MaxGradNorm  float64 `yaml:"max_grad_norm"`
}

// HubConfig holds configuration for model downloads
type HubConfig struct {
	CacheDir string `yaml:"cache_dir,omitempty"`
}

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadFromPath reads config from a specific path, on top of the defaults.
// An empty path returns the defaults. The result is not validated, since
// flags may still override it.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Keys the file omits keep their defaults.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks that config values are valid.
// Returns an error if validation fails.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.ModelNameOrPath) == "" {
		return fmt.Errorf("%w: model_name_or_path is required", ErrInvalidConfig)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"max_seq_length", cfg.MaxSeqLength},
		{"batch_size", cfg.BatchSize},
		{"num_epochs", cfg.NumEpochs},
		{"evaluation_steps", cfg.EvaluationSteps},
		{"workers", cfg.Workers},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.value)
		}
	}

	if cfg.WarmupRatio < 0 || cfg.WarmupRatio > 1 {
		return fmt.Errorf("%w: warmup_ratio must be between 0 and 1, got %f",
			ErrInvalidConfig, cfg.WarmupRatio)
	}

	if cfg.Optimizer.LearningRate <= 0 {
		return fmt.Errorf("%w: optimizer.learning_rate must be positive, got %g",
			ErrInvalidConfig, cfg.Optimizer.LearningRate)
	}

	if cfg.Optimizer.WeightDecay < 0 {
		return fmt.Errorf("%w: optimizer.weight_decay must be non-negative, got %g",
			ErrInvalidConfig, cfg.Optimizer.WeightDecay)
	}

	if cfg.Optimizer.Epsilon <= 0 {
		return fmt.Errorf("%w: optimizer.epsilon must be positive, got %g",
			ErrInvalidConfig, cfg.Optimizer.Epsilon)
	}

	if cfg.Optimizer.MaxGradNorm < 0 {
		return fmt.Errorf("%w: optimizer.max_grad_norm must be non-negative, got %g",
			ErrInvalidConfig, cfg.Optimizer.MaxGradNorm)
	}

	if !IsValidLogLevel(cfg.LogLevel) {
		return fmt.Errorf("%w: log_level must be one of %v, got %q",
			ErrInvalidConfig, ValidLogLevels, cfg.LogLevel)
	}

	return nil
}

// SavePath returns the checkpoint directory for a run started at now:
// {output_dir}/{output_prefix}{model id with "/" replaced by "-"}-{timestamp}.
func SavePath(cfg *Config, now time.Time) string {
	name := cfg.OutputPrefix + strings.ReplaceAll(cfg.ModelNameOrPath, "/", "-") + "-" + now.Format(SaveTimeFormat)
	return filepath.Join(cfg.OutputDir, name)
}

// Write saves cfg as YAML to dir/training_args.yaml.
func Write(cfg *Config, dir string) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	// Add header comment
	header := "# stsfit training arguments\n\n"
	data = append([]byte(header), data...)

	path := filepath.Join(dir, ArgsFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
