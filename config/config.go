package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the pipeline services
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Services  ServicesConfig  `mapstructure:"services"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`
}

type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if p.URL == "" && (p.Host == "" || p.DBName == "") {
		return fmt.Errorf("storage.postgres: url or host/dbname required")
	}
	return nil
}

// DSN builds a postgres connection string from either the URL or the
// discrete host fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig is optional; when host is empty the sweeps run without
// advisory locks (single replica deployments).
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServicesConfig holds the base URLs the orchestrator uses to reach the
// sibling services. Empty values point at the local process.
type ServicesConfig struct {
	LearningURL string `mapstructure:"learning_url"`
	ResponseURL string `mapstructure:"response_url"`
	EgoURL      string `mapstructure:"ego_url"`
}

// PipelineConfig tunes the background sweeps.
type PipelineConfig struct {
	StallSweepInterval    time.Duration `mapstructure:"stall_sweep_interval"`
	StallThreshold        time.Duration `mapstructure:"stall_threshold"`
	RetrySweepInterval    time.Duration `mapstructure:"retry_sweep_interval"`
	RetryWindow           time.Duration `mapstructure:"retry_window"`
	RetryBatch            int           `mapstructure:"retry_batch"`
	IntrospectionInterval time.Duration `mapstructure:"introspection_interval"`
	IntrospectionWindow   time.Duration `mapstructure:"introspection_window"`
	ConsolidationSchedule string        `mapstructure:"consolidation_schedule"`
}

type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port must be >= 0")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.listen", "8080")
	viper.SetDefault("pipeline.stall_sweep_interval", 5*time.Minute)
	viper.SetDefault("pipeline.stall_threshold", 10*time.Minute)
	viper.SetDefault("pipeline.retry_sweep_interval", time.Minute)
	viper.SetDefault("pipeline.retry_window", time.Hour)
	viper.SetDefault("pipeline.retry_batch", 5)
	viper.SetDefault("pipeline.introspection_interval", 30*time.Minute)
	viper.SetDefault("pipeline.introspection_window", 24*time.Hour)
	viper.SetDefault("pipeline.consolidation_schedule", "@daily")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("MYAI")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
