package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Nikhilk147/RepoScan/internal/config"
	"github.com/Nikhilk147/RepoScan/internal/version"
)

var (
	// dataDirFlag is the CLI --data-dir flag value
	dataDirFlag string
)

var rootCmd = &cobra.Command{
	Use:   "reposcan",
	Short: "RepoScan - repository analysis service",
	Long: `RepoScan analyzes GitHub repositories into dependency graphs and searchable
code chunks. It runs as a daemon with a durable work queue, a bounded worker
pool, and an HTTP API that blocks until an analysis finishes.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("RepoScan version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "",
		"Data directory (default: ~/.reposcan, or REPOSCAN_DATA_DIR)")
}

// resolveDataDir determines the data directory from flag, env, and default
func resolveDataDir() string {
	if dataDirFlag != "" {
		return dataDirFlag
	}
	if env := os.Getenv("REPOSCAN_DATA_DIR"); env != "" {
		return env
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.reposcan"
	}
	return ".reposcan"
}

// loadConfig loads the effective configuration for the resolved data directory
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveDataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
