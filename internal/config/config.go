package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config 是 rssdigest 的顶层配置结构。
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig 存储配置。
type DatabaseConfig struct {
	// Path SQLite 数据库文件路径，支持 ~/ 前缀。
	Path string `yaml:"path"`
}

// LLMConfig 摘要所用大模型配置。
// APIKey 为空时不调用大模型，摘要直接走截断回退。
type LLMConfig struct {
	APIURL         string        `yaml:"api_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Fallbacks      []ModelConfig `yaml:"fallbacks"`
}

// ModelConfig 备用模型，主模型失败时按顺序尝试。
type ModelConfig struct {
	Name   string `yaml:"name"`
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// SummarizerConfig 摘要适配器配置。
type SummarizerConfig struct {
	// Cache 缓存后端: memory 或 sqlite。
	Cache           string `yaml:"cache"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
	CacheKeyLen     int    `yaml:"cache_key_len"`
	MaxInputChars   int    `yaml:"max_input_chars"`
	FallbackWidth   int    `yaml:"fallback_width"`
}

// IngestConfig 拉取配置。
type IngestConfig struct {
	Concurrency         int `yaml:"concurrency"`
	MaxItemsPerFeed     int `yaml:"max_items_per_feed"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
}

// ScheduleConfig 定时拉取配置。
type ScheduleConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Cron       string `yaml:"cron"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// DefaultPath 返回默认配置文件路径，位于 XDG 配置目录下。
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "rssdigest", "config.yaml")
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开；path 为空或文件不存在时使用默认配置。
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			expanded := os.Expand(string(data), func(key string) string {
				return os.Getenv(key)
			})
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 没有配置文件时全部使用默认值
		default:
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
	}

	applyEnv(cfg)
	setDefaults(cfg)
	return cfg, nil
}

// applyEnv 用环境变量覆盖配置文件中的值。
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_API_URL"); v != "" {
		cfg.LLM.APIURL = v
	}
	if v := os.Getenv("RSSDIGEST_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RSSDIGEST_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}

	if cfg.Database.Path == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			cfg.Database.Path = filepath.Join(home, ".rssdigest", "rssdigest.db")
		} else {
			cfg.Database.Path = "./rssdigest.db"
		}
	} else if strings.HasPrefix(cfg.Database.Path, "~/") {
		// Go 不会自动展开 ~，需要手动替换为用户主目录
		home, _ := os.UserHomeDir()
		if home != "" {
			cfg.Database.Path = home + cfg.Database.Path[1:]
		}
	}

	if cfg.LLM.APIURL == "" {
		cfg.LLM.APIURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 400
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 20
	}

	if cfg.Summarizer.Cache == "" {
		cfg.Summarizer.Cache = "memory"
	}
	if cfg.Summarizer.CacheKeyLen == 0 {
		cfg.Summarizer.CacheKeyLen = 100
	}
	if cfg.Summarizer.MaxInputChars == 0 {
		cfg.Summarizer.MaxInputChars = 6000
	}
	if cfg.Summarizer.FallbackWidth == 0 {
		cfg.Summarizer.FallbackWidth = 240
	}

	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 5
	}
	if cfg.Ingest.MaxItemsPerFeed == 0 {
		cfg.Ingest.MaxItemsPerFeed = 20
	}
	if cfg.Ingest.FetchTimeoutSeconds == 0 {
		cfg.Ingest.FetchTimeoutSeconds = 30
	}

	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = "@every 60m"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// 去除 API Key 两端可能的空白（环境变量展开后常见）
	cfg.LLM.APIKey = strings.TrimSpace(cfg.LLM.APIKey)
	for i := range cfg.LLM.Fallbacks {
		cfg.LLM.Fallbacks[i].APIKey = strings.TrimSpace(cfg.LLM.Fallbacks[i].APIKey)
	}
}
