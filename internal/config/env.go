package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - DUPESCAN_MIN_FILE_SIZE: Skip files smaller than this many bytes (default: 1)
//   - DUPESCAN_IGNORE_PATTERNS: Comma-separated ignore patterns (replaces the defaults)
//   - DUPESCAN_INCLUDE_PATTERNS: Comma-separated include patterns (default: none)
//   - DUPESCAN_MAX_FILES: Maximum files to analyze, 0 for unlimited (default: 0)
//   - DUPESCAN_WORKERS: Analyzer pool size, 0 for one per CPU (default: 0)
//   - DUPESCAN_SIMILARITY_THRESHOLD: Pairwise cosine threshold (default: 0.7)
//   - DUPESCAN_SAFETY_THRESHOLD: Confidence needed for automatic cleanup (default: 0.85)
//   - DUPESCAN_CLUSTERING_METHOD: hierarchical or partition (default: hierarchical)
//   - DUPESCAN_MAX_CLUSTERS: Fixed cluster count, 0 for automatic (default: 0)
//   - DUPESCAN_MIN_CLUSTER_SIMILARITY: Weakest allowed cluster member (default: 0.6)
//   - DUPESCAN_MODE: dryRun or apply (default: dryRun)
//   - DUPESCAN_BACKUP_DIR: Backup directory (default: .dupescan-backups)
//   - DUPESCAN_MAX_DELETES_PER_SEC: Removal throttle, 0 for none (default: 0)
//   - DUPESCAN_ANALYZE_TIMEOUT_SECS, DUPESCAN_DETECT_TIMEOUT_SECS,
//     DUPESCAN_EXECUTE_TIMEOUT_SECS: Stage timeouts in seconds (default: 1800)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg without validating.
func ApplyEnv(cfg *Config) error {
	if err := parseEnvInt64("DUPESCAN_MIN_FILE_SIZE", &cfg.Scan.MinFileSize); err != nil {
		return err
	}
	parseEnvList("DUPESCAN_IGNORE_PATTERNS", &cfg.Scan.IgnorePatterns)
	parseEnvList("DUPESCAN_INCLUDE_PATTERNS", &cfg.Scan.IncludePatterns)
	if err := parseEnvInt("DUPESCAN_MAX_FILES", &cfg.Scan.MaxFilesToAnalyze); err != nil {
		return err
	}
	if err := parseEnvInt("DUPESCAN_WORKERS", &cfg.Scan.Workers); err != nil {
		return err
	}
	if err := parseEnvFloat("DUPESCAN_SIMILARITY_THRESHOLD", &cfg.Strategy.SimilarityThreshold); err != nil {
		return err
	}
	if err := parseEnvFloat("DUPESCAN_SAFETY_THRESHOLD", &cfg.Strategy.SafetyThreshold); err != nil {
		return err
	}
	parseEnvString("DUPESCAN_CLUSTERING_METHOD", &cfg.Strategy.ClusteringMethod)
	if err := parseEnvInt("DUPESCAN_MAX_CLUSTERS", &cfg.Strategy.MaxClusters); err != nil {
		return err
	}
	if err := parseEnvFloat("DUPESCAN_MIN_CLUSTER_SIMILARITY", &cfg.Strategy.MinClusterSimilarity); err != nil {
		return err
	}
	parseEnvString("DUPESCAN_MODE", &cfg.Execution.Mode)
	parseEnvString("DUPESCAN_BACKUP_DIR", &cfg.Execution.BackupDir)
	if err := parseEnvFloat("DUPESCAN_MAX_DELETES_PER_SEC", &cfg.Execution.MaxDeletesPerSecond); err != nil {
		return err
	}
	if err := parseEnvDuration("DUPESCAN_ANALYZE_TIMEOUT_SECS", &cfg.Timeouts.Analyze, time.Second); err != nil {
		return err
	}
	if err := parseEnvDuration("DUPESCAN_DETECT_TIMEOUT_SECS", &cfg.Timeouts.Detect, time.Second); err != nil {
		return err
	}
	if err := parseEnvDuration("DUPESCAN_EXECUTE_TIMEOUT_SECS", &cfg.Timeouts.Execute, time.Second); err != nil {
		return err
	}
	return nil
}

// parseEnvFloat parses a float64 from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvInt64(key string, dest *int64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration from an environment variable
// The multiplier is used to convert the numeric value to a duration
func parseEnvDuration(key string, dest *Duration, multiplier time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = Duration(time.Duration(parsed) * multiplier)
	return nil
}

func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}

// parseEnvList splits a comma-separated variable, dropping empty entries.
func parseEnvList(key string, dest *[]string) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dest = out
}
