// Package config 提供服务配置的加载与默认值（支持 YAML）。
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是服务的完整配置。
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Engine EngineConfig `yaml:"engine"`
	Neural NeuralConfig `yaml:"neural"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig 是 HTTP 服务配置。
type ServerConfig struct {
	Addr            string        `yaml:"addr"`            // 默认 :8080
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"` // 默认 10s
}

// StoreConfig 选择存储后端：memory（默认）或 redis。
type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig 是 redis 后端的连接配置。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig 是推荐编排配置。
type EngineConfig struct {
	DefaultAlgorithm string             `yaml:"defaultAlgorithm"` // 默认 hybrid
	HybridWeights    map[string]float64 `yaml:"hybridWeights"`
	ExcludeWindow    time.Duration      `yaml:"excludeWindow"`   // 默认 720h
	StrategyTimeout  time.Duration      `yaml:"strategyTimeout"` // 默认 2s
	SeasonBoost      float64            `yaml:"seasonBoost"`     // 默认 0.25
}

// NeuralConfig 是嵌入模型训练超参。
type NeuralConfig struct {
	Dim            int     `yaml:"dim"`            // 默认 16
	Epochs         int     `yaml:"epochs"`         // 默认 30
	LearningRate   float64 `yaml:"learningRate"`   // 默认 0.05
	Regularization float64 `yaml:"regularization"` // 默认 0.02
}

// LogConfig 是日志配置。
type LogConfig struct {
	Level       string `yaml:"level"`       // debug / info / warn / error，默认 info
	Development bool   `yaml:"development"` // 开发模式（彩色、caller）
}

// Default 返回带默认值的配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Engine: EngineConfig{
			DefaultAlgorithm: "hybrid",
			HybridWeights: map[string]float64{
				"collaborative": 0.35,
				"content_based": 0.30,
				"neural":        0.20,
				"trending":      0.15,
			},
			ExcludeWindow:   30 * 24 * time.Hour,
			StrategyTimeout: 2 * time.Second,
			SeasonBoost:     0.25,
		},
		Neural: NeuralConfig{
			Dim:            16,
			Epochs:         30,
			LearningRate:   0.05,
			Regularization: 0.02,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load 从 YAML 文件加载配置，缺省字段落回默认值。
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store.redis.addr is required for redis backend")
	}
	return nil
}
