// Package config holds the scan, strategy and execution configuration for
// duplicate detection, with defaults, validation, environment overrides and
// YAML/TOML file loading.
package config

import (
	"fmt"
	"time"
)

// Clustering methods accepted by StrategyConfig.ClusteringMethod.
const (
	ClusteringHierarchical = "hierarchical"
	ClusteringPartition    = "partition"
)

// Execution modes accepted by ExecutionConfig.Mode.
const (
	ModeDryRun = "dryRun"
	ModeApply  = "apply"
)

// Config is the complete configuration for one run.
type Config struct {
	Scan      ScanConfig      `yaml:"scan" toml:"scan"`
	Strategy  StrategyConfig  `yaml:"strategy" toml:"strategy"`
	Execution ExecutionConfig `yaml:"execution" toml:"execution"`
	Timeouts  TimeoutConfig   `yaml:"timeouts" toml:"timeouts"`
}

// ScanConfig controls which files the analyzer looks at.
type ScanConfig struct {
	// MinFileSize skips files smaller than this many bytes
	// Default: 1 (empty files are never duplicates worth cleaning up)
	MinFileSize int64 `yaml:"min_file_size" toml:"min_file_size"`

	// IgnorePatterns are globs, "dir/" prefixes or "re:<regexp>" expressions
	IgnorePatterns []string `yaml:"ignore_patterns" toml:"ignore_patterns"`

	// IncludePatterns restrict the scan when non-empty. Same syntax as IgnorePatterns.
	IncludePatterns []string `yaml:"include_patterns" toml:"include_patterns"`

	// MaxFilesToAnalyze caps the number of analyzed files. 0 = unlimited.
	MaxFilesToAnalyze int `yaml:"max_files_to_analyze" toml:"max_files_to_analyze"`

	// Workers is the analyzer pool size. 0 = number of logical CPUs.
	Workers int `yaml:"workers" toml:"workers"`
}

// StrategyConfig controls detection and decision thresholds.
type StrategyConfig struct {
	// SimilarityThreshold is the pairwise cosine needed to connect two files
	// Default: 0.7
	SimilarityThreshold float64 `yaml:"similarity_threshold" toml:"similarity_threshold"`

	// SafetyThreshold is the minimum confidence for automatic resolution
	// Default: 0.85 (anything less certain goes to a human)
	SafetyThreshold float64 `yaml:"safety_threshold" toml:"safety_threshold"`

	// ClusteringMethod is "hierarchical" or "partition"
	ClusteringMethod string `yaml:"clustering_method" toml:"clustering_method"`

	// MaxClusters fixes the cluster count. 0 = determined automatically.
	MaxClusters int `yaml:"max_clusters" toml:"max_clusters"`

	// MinClusterSimilarity discards clusters whose weakest member falls below it
	// Default: 0.6
	MinClusterSimilarity float64 `yaml:"min_cluster_similarity" toml:"min_cluster_similarity"`

	// IndexThreshold switches the statistical detector from all-pairs to the
	// LSH index once this many candidates are present
	// Default: 5000
	IndexThreshold int `yaml:"index_threshold" toml:"index_threshold"`

	// MaxClusterItems bounds the clustering input; larger inputs are reported
	// as nonconvergent instead of running for hours
	// Default: 2000
	MaxClusterItems int `yaml:"max_cluster_items" toml:"max_cluster_items"`

	// MaxIterations bounds k-means refinement
	// Default: 100
	MaxIterations int `yaml:"max_iterations" toml:"max_iterations"`
}

// ExecutionConfig controls how recommendations are applied.
type ExecutionConfig struct {
	// Mode is "dryRun" (default) or "apply"
	Mode string `yaml:"mode" toml:"mode"`

	// BackupDir receives a copy of every removed file
	BackupDir string `yaml:"backup_dir" toml:"backup_dir"`

	// MaxDeletesPerSecond throttles removals. 0 = unthrottled.
	MaxDeletesPerSecond float64 `yaml:"max_deletes_per_second" toml:"max_deletes_per_second"`
}

// TimeoutConfig bounds each pipeline stage. Zero disables the timeout.
type TimeoutConfig struct {
	Analyze Duration `yaml:"analyze" toml:"analyze"`
	Detect  Duration `yaml:"detect" toml:"detect"`
	Execute Duration `yaml:"execute" toml:"execute"`
}

// DefaultConfig returns the default configuration
//
// These defaults are chosen to:
// - Never mutate anything unless asked (dry run)
// - Require high confidence before automatic cleanup (0.85)
// - Keep exact all-pairs comparison for small trees (deterministic, easy to test)
func DefaultConfig() Config {
	return Config{
		Scan: ScanConfig{
			MinFileSize: 1,
			IgnorePatterns: []string{
				".git/",
				".hg/",
				".svn/",
				"node_modules/",
			},
			MaxFilesToAnalyze: 0,
			Workers:           0,
		},
		Strategy: StrategyConfig{
			SimilarityThreshold:  0.7,
			SafetyThreshold:      0.85,
			ClusteringMethod:     ClusteringHierarchical,
			MaxClusters:          0,
			MinClusterSimilarity: 0.6,
			IndexThreshold:       5000,
			MaxClusterItems:      2000,
			MaxIterations:        100,
		},
		Execution: ExecutionConfig{
			Mode:                ModeDryRun,
			BackupDir:           ".dupescan-backups",
			MaxDeletesPerSecond: 0,
		},
		Timeouts: TimeoutConfig{
			Analyze: Duration(30 * time.Minute),
			Detect:  Duration(30 * time.Minute),
			Execute: Duration(30 * time.Minute),
		},
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	s := c.Scan
	if s.MinFileSize < 0 {
		return fmt.Errorf("min_file_size cannot be negative (got %d)", s.MinFileSize)
	}
	if s.MaxFilesToAnalyze < 0 {
		return fmt.Errorf("max_files_to_analyze cannot be negative (got %d)", s.MaxFilesToAnalyze)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers cannot be negative (got %d)", s.Workers)
	}
	if s.Workers > 1024 {
		return fmt.Errorf("workers too large (got %d, max 1024)", s.Workers)
	}
	for _, p := range append(append([]string(nil), s.IgnorePatterns...), s.IncludePatterns...) {
		if err := ValidatePattern(p); err != nil {
			return err
		}
	}

	st := c.Strategy
	if st.SimilarityThreshold < 0.0 || st.SimilarityThreshold > 1.0 {
		return fmt.Errorf("similarity_threshold must be between 0.0 and 1.0 (got %.2f)", st.SimilarityThreshold)
	}
	if st.SafetyThreshold < 0.0 || st.SafetyThreshold > 1.0 {
		return fmt.Errorf("safety_threshold must be between 0.0 and 1.0 (got %.2f)", st.SafetyThreshold)
	}
	if st.ClusteringMethod != ClusteringHierarchical && st.ClusteringMethod != ClusteringPartition {
		return fmt.Errorf("clustering_method must be %q or %q (got %q)",
			ClusteringHierarchical, ClusteringPartition, st.ClusteringMethod)
	}
	if st.MaxClusters < 0 {
		return fmt.Errorf("max_clusters cannot be negative (got %d)", st.MaxClusters)
	}
	if st.MinClusterSimilarity < 0.0 || st.MinClusterSimilarity > 1.0 {
		return fmt.Errorf("min_cluster_similarity must be between 0.0 and 1.0 (got %.2f)", st.MinClusterSimilarity)
	}
	if st.IndexThreshold <= 0 {
		return fmt.Errorf("index_threshold must be positive (got %d)", st.IndexThreshold)
	}
	if st.MaxClusterItems <= 0 {
		return fmt.Errorf("max_cluster_items must be positive (got %d)", st.MaxClusterItems)
	}
	if st.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive (got %d)", st.MaxIterations)
	}
	if st.MaxIterations > 10000 {
		return fmt.Errorf("max_iterations too large (got %d, max 10000)", st.MaxIterations)
	}

	e := c.Execution
	if e.Mode != ModeDryRun && e.Mode != ModeApply {
		return fmt.Errorf("mode must be %q or %q (got %q)", ModeDryRun, ModeApply, e.Mode)
	}
	if e.Mode == ModeApply && e.BackupDir == "" {
		return fmt.Errorf("backup_dir is required in apply mode")
	}
	if e.MaxDeletesPerSecond < 0 {
		return fmt.Errorf("max_deletes_per_second cannot be negative (got %.2f)", e.MaxDeletesPerSecond)
	}

	for name, d := range map[string]Duration{
		"analyze": c.Timeouts.Analyze,
		"detect":  c.Timeouts.Detect,
		"execute": c.Timeouts.Execute,
	} {
		if d < 0 {
			return fmt.Errorf("timeouts.%s cannot be negative (got %v)", name, time.Duration(d))
		}
	}

	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{MinSize: %d, Ignore: %v, Include: %v, MaxFiles: %d, Workers: %d, "+
			"Similarity: %.2f, Safety: %.2f, Clustering: %s, MaxClusters: %d, MinClusterSim: %.2f, "+
			"Mode: %s, BackupDir: %s}",
		c.Scan.MinFileSize, c.Scan.IgnorePatterns, c.Scan.IncludePatterns, c.Scan.MaxFilesToAnalyze,
		c.Scan.Workers, c.Strategy.SimilarityThreshold, c.Strategy.SafetyThreshold,
		c.Strategy.ClusteringMethod, c.Strategy.MaxClusters, c.Strategy.MinClusterSimilarity,
		c.Execution.Mode, c.Execution.BackupDir,
	)
}
