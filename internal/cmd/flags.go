package cmd

import (
	"github.com/spf13/pflag"

	"github.com/hargabyte/stsfit/internal/config"
)

// configFlag binds one config key to a command-line flag of the same name.
type configFlag struct {
	name string
	bind func(fs *pflag.FlagSet, dst *config.Config)
	copy func(dst, src *config.Config)
}

var configFlags = []configFlag{
	{
		name: "model_name_or_path",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.StringVar(&c.ModelNameOrPath, "model_name_or_path", c.ModelNameOrPath, "Pretrained model: HuggingFace Hub id or local directory")
		},
		copy: func(d, s *config.Config) { d.ModelNameOrPath = s.ModelNameOrPath },
	},
	{
		name: "max_seq_length",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.IntVar(&c.MaxSeqLength, "max_seq_length", c.MaxSeqLength, "Maximum tokens per sentence")
		},
		copy: func(d, s *config.Config) { d.MaxSeqLength = s.MaxSeqLength },
	},
	{
		name: "batch_size",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "Pairs per training or evaluation batch")
		},
		copy: func(d, s *config.Config) { d.BatchSize = s.BatchSize },
	},
	{
		name: "num_epochs",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.IntVar(&c.NumEpochs, "num_epochs", c.NumEpochs, "Training epochs")
		},
		copy: func(d, s *config.Config) { d.NumEpochs = s.NumEpochs },
	},
	{
		name: "output_dir",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.StringVar(&c.OutputDir, "output_dir", c.OutputDir, "Directory for checkpoints and the run store")
		},
		copy: func(d, s *config.Config) { d.OutputDir = s.OutputDir },
	},
	{
		name: "output_prefix",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.StringVar(&c.OutputPrefix, "output_prefix", c.OutputPrefix, "Checkpoint directory name prefix")
		},
		copy: func(d, s *config.Config) { d.OutputPrefix = s.OutputPrefix },
	},
	{
		name: "seed",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.Int64Var(&c.Seed, "seed", c.Seed, "Random seed")
		},
		copy: func(d, s *config.Config) { d.Seed = s.Seed },
	},
	{
		name: "dataset_dir",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.StringVar(&c.DatasetDir, "dataset_dir", c.DatasetDir, "Directory holding sts-{train,dev,test}.tsv")
		},
		copy: func(d, s *config.Config) { d.DatasetDir = s.DatasetDir },
	},
	{
		name: "evaluation_steps",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.IntVar(&c.EvaluationSteps, "evaluation_steps", c.EvaluationSteps, "Evaluate on dev every N steps")
		},
		copy: func(d, s *config.Config) { d.EvaluationSteps = s.EvaluationSteps },
	},
	{
		name: "warmup_ratio",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.Float64Var(&c.WarmupRatio, "warmup_ratio", c.WarmupRatio, "Fraction of total steps used for linear warm-up")
		},
		copy: func(d, s *config.Config) { d.WarmupRatio = s.WarmupRatio },
	},
	{
		name: "learning_rate",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.Float64Var(&c.Optimizer.LearningRate, "learning_rate", c.Optimizer.LearningRate, "AdamW peak learning rate")
		},
		copy: func(d, s *config.Config) { d.Optimizer.LearningRate = s.Optimizer.LearningRate },
	},
	{
		name: "workers",
		bind: func(fs *pflag.FlagSet, c *config.Config) {
			fs.IntVar(&c.Workers, "workers", c.Workers, "Goroutines for evaluation embedding batches")
		},
		copy: func(d, s *config.Config) { d.Workers = s.Workers },
	},
}

// bindConfigFlags registers the named config flags on fs, writing into dst.
// No names registers all of them.
func bindConfigFlags(fs *pflag.FlagSet, dst *config.Config, names ...string) {
	for _, f := range configFlags {
		if len(names) == 0 || contains(names, f.name) {
			f.bind(fs, dst)
		}
	}
}

// resolveConfig loads the --config file over the defaults, then applies the
// flags the user set explicitly.
func resolveConfig(fs *pflag.FlagSet, flagged *config.Config) (*config.Config, error) {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return nil, err
	}
	for _, f := range configFlags {
		if fl := fs.Lookup(f.name); fl != nil && fl.Changed {
			f.copy(cfg, flagged)
		}
	}
	return cfg, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
