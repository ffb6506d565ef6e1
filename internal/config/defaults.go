package config

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// config file is missing specific fields.
func DefaultConfig() *Config {
	return &Config{
		MaxSeqLength:    128,
		BatchSize:       8,
		NumEpochs:       5,
		OutputDir:       "output",
		OutputPrefix:    "kor_sts_",
		Seed:            777,
		DatasetDir:      "KorNLUDatasets/KorSTS",
		EvaluationSteps: 1000,
		WarmupRatio:     0.1,
		Workers:         1,
		LogLevel:        "info",
		Optimizer: OptimizerConfig{
			LearningRate: 2e-5,
			WeightDecay:  0.01,
			Epsilon:      1e-6,
			MaxGradNorm:  1.0,
		},
	}
}

// ValidLogLevels lists the valid values for log_level
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// IsValidLogLevel checks if the given log level is valid
func IsValidLogLevel(level string) bool {
	for _, valid := range ValidLogLevels {
		if level == valid {
			return true
		}
	}
	return false
}
