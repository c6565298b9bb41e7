package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Port           string `yaml:"port"`
	DBPath         string `yaml:"db_path"`
	JWTSecret      string `yaml:"jwt_secret"`
	LogLevel       string `yaml:"log_level"`
	BatchWorkers   int    `yaml:"batch_workers"`
	ClassifierPath string `yaml:"classifier_path"` // 分类器 YAML，空则使用默认值
	RateLimit      int    `yaml:"rate_limit"`      // 每分钟每 IP 请求数
}

// Load 加载配置: defaults, then the YAML file named by WORKTAG_CONFIG_PATH, then env overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         ":8080",
		DBPath:       "./data/worktag/worktag.db",
		JWTSecret:    "your-secret-key-change-in-production",
		LogLevel:     "info",
		BatchWorkers: 4,
		RateLimit:    120,
	}

	if path := os.Getenv("WORKTAG_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if path := os.Getenv("WORKTAG_CLASSIFIER_PATH"); path != "" {
		cfg.ClassifierPath = path
	}
	if workers := os.Getenv("WORKTAG_BATCH_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid WORKTAG_BATCH_WORKERS %q", workers)
		}
		cfg.BatchWorkers = n
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
