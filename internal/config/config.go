// Package config loads RepoScan configuration from file and environment.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete RepoScan configuration
type Config struct {
	Version int    `json:"version" mapstructure:"version"`
	DataDir string `json:"dataDir" mapstructure:"dataDir"`

	Queue     QueueConfig     `json:"queue" mapstructure:"queue"`
	Scheduler SchedulerConfig `json:"scheduler" mapstructure:"scheduler"`
	Analyzer  AnalyzerConfig  `json:"analyzer" mapstructure:"analyzer"`
	GitHub    GitHubConfig    `json:"github" mapstructure:"github"`
	Daemon    DaemonConfig    `json:"daemon" mapstructure:"daemon"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// QueueConfig contains work queue configuration
type QueueConfig struct {
	MaxSize int `json:"maxSize" mapstructure:"maxSize"`
}

// SchedulerConfig contains job scheduler configuration
type SchedulerConfig struct {
	MaxConcurrentJobs int `json:"maxConcurrentJobs" mapstructure:"maxConcurrentJobs"`
	TimeoutSec        int `json:"timeoutSec" mapstructure:"timeoutSec"`
	ClaimWaitMs       int `json:"claimWaitMs" mapstructure:"claimWaitMs"`
	WaitTimeoutSec    int `json:"waitTimeoutSec" mapstructure:"waitTimeoutSec"`
}

// AnalyzerConfig contains repository analyzer configuration
type AnalyzerConfig struct {
	MaxTreeEntries   int `json:"maxTreeEntries" mapstructure:"maxTreeEntries"`
	FetchConcurrency int `json:"fetchConcurrency" mapstructure:"fetchConcurrency"`
	ChunkSize        int `json:"chunkSize" mapstructure:"chunkSize"`
	ChunkOverlap     int `json:"chunkOverlap" mapstructure:"chunkOverlap"`
}

// GitHubConfig contains GitHub API client configuration
type GitHubConfig struct {
	APIBaseURL string `json:"apiBaseUrl" mapstructure:"apiBaseUrl"`
	RawBaseURL string `json:"rawBaseUrl" mapstructure:"rawBaseUrl"`
	Token      string `json:"token" mapstructure:"token"`
}

// DaemonConfig contains daemon configuration
type DaemonConfig struct {
	Bind    string     `json:"bind" mapstructure:"bind"`
	Port    int        `json:"port" mapstructure:"port"`
	LogFile string     `json:"logFile" mapstructure:"logFile"`
	Auth    AuthConfig `json:"auth" mapstructure:"auth"`
}

// AuthConfig contains daemon authentication configuration
type AuthConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Token     string `json:"token" mapstructure:"token"`
	TokenFile string `json:"tokenFile" mapstructure:"tokenFile"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format     string `json:"format" mapstructure:"format"`
	Level      string `json:"level" mapstructure:"level"`
	MaxSizeMB  int    `json:"maxSizeMb" mapstructure:"maxSizeMb"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: ".reposcan",
		Queue: QueueConfig{
			MaxSize: 100,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentJobs: 5,
			TimeoutSec:        300,
			ClaimWaitMs:       1000,
			WaitTimeoutSec:    1000,
		},
		Analyzer: AnalyzerConfig{
			MaxTreeEntries:   100,
			FetchConcurrency: 8,
			ChunkSize:        800,
			ChunkOverlap:     150,
		},
		GitHub: GitHubConfig{
			APIBaseURL: "https://api.github.com",
			RawBaseURL: "https://raw.githubusercontent.com",
		},
		Daemon: DaemonConfig{
			Bind: "127.0.0.1",
			Port: 7860,
			Auth: AuthConfig{Enabled: false},
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from <dataDir>/config.json, the environment, and
// an optional .env file. Environment variables win over the config file.
// Recognized variables use the REPOSCAN_ prefix (REPOSCAN_GITHUB_TOKEN, ...)
// plus the bare operational knobs MAX_CONCURRENT_JOBS, TIMEOUT_SEC and
// MAX_QUEUE_SIZE.
func Load(dataDir string) (*Config, error) {
	// .env is a convenience for local runs; absence is not an error.
	_ = godotenv.Load()

	v := viper.New()

	defaults := DefaultConfig()
	if dataDir != "" {
		defaults.DataDir = dataDir
	}
	setDefaults(v, defaults)

	v.SetEnvPrefix("REPOSCAN")
	v.AutomaticEnv()
	bindEnvs(v)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(defaults.DataDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("dataDir", d.DataDir)
	v.SetDefault("queue.maxSize", d.Queue.MaxSize)
	v.SetDefault("scheduler.maxConcurrentJobs", d.Scheduler.MaxConcurrentJobs)
	v.SetDefault("scheduler.timeoutSec", d.Scheduler.TimeoutSec)
	v.SetDefault("scheduler.claimWaitMs", d.Scheduler.ClaimWaitMs)
	v.SetDefault("scheduler.waitTimeoutSec", d.Scheduler.WaitTimeoutSec)
	v.SetDefault("analyzer.maxTreeEntries", d.Analyzer.MaxTreeEntries)
	v.SetDefault("analyzer.fetchConcurrency", d.Analyzer.FetchConcurrency)
	v.SetDefault("analyzer.chunkSize", d.Analyzer.ChunkSize)
	v.SetDefault("analyzer.chunkOverlap", d.Analyzer.ChunkOverlap)
	v.SetDefault("github.apiBaseUrl", d.GitHub.APIBaseURL)
	v.SetDefault("github.rawBaseUrl", d.GitHub.RawBaseURL)
	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("daemon.bind", d.Daemon.Bind)
	v.SetDefault("daemon.port", d.Daemon.Port)
	v.SetDefault("daemon.logFile", d.Daemon.LogFile)
	v.SetDefault("daemon.auth.enabled", d.Daemon.Auth.Enabled)
	v.SetDefault("daemon.auth.token", d.Daemon.Auth.Token)
	v.SetDefault("daemon.auth.tokenFile", d.Daemon.Auth.TokenFile)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.maxSizeMb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

func bindEnvs(v *viper.Viper) {
	// Operational knobs keep their historical un-prefixed names so existing
	// deployments do not need to rename them.
	_ = v.BindEnv("scheduler.maxConcurrentJobs", "MAX_CONCURRENT_JOBS")
	_ = v.BindEnv("scheduler.timeoutSec", "TIMEOUT_SEC")
	_ = v.BindEnv("queue.maxSize", "MAX_QUEUE_SIZE")
	_ = v.BindEnv("github.token", "REPOSCAN_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("daemon.auth.token", "REPOSCAN_DAEMON_TOKEN")
}

// Save writes the configuration to <dataDir>/config.json
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	configPath := filepath.Join(c.DataDir, "config.json")

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Queue.MaxSize <= 0 {
		return &ConfigError{Field: "queue.maxSize", Message: "must be positive"}
	}
	if c.Scheduler.MaxConcurrentJobs <= 0 {
		return &ConfigError{Field: "scheduler.maxConcurrentJobs", Message: "must be positive"}
	}
	if c.Scheduler.TimeoutSec <= 0 {
		return &ConfigError{Field: "scheduler.timeoutSec", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
