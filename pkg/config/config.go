package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvProduction 生产环境名
const EnvProduction = "production"

// BackendConfig 远程服务地址
type BackendConfig struct {
	URL           string   `yaml:"url"`            // 运行期覆盖（最高优先级）
	ProductionURL string   `yaml:"production_url"` // env=production 时的默认地址
	LocalURL      string   `yaml:"local_url"`      // 其他环境的默认地址
	Fallbacks     []string `yaml:"fallbacks"`      // 连通性探测的备选地址（按顺序）
	HealthPath    string   `yaml:"health_path"`
}

// StorageConfig 本地持久化
type StorageConfig struct {
	Backend       string `yaml:"backend"` // badger | sqlite | file
	Path          string `yaml:"path"`
	QuotaBytes    int64  `yaml:"quota_bytes"`    // 0 表示不限制
	EncryptionKey string `yaml:"encryption_key"` // 仅 badger，hex/base64 的 32 字节
}

// RetryConfig 写操作重试
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"` // 最多尝试次数
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// SyncConfig 同步器参数
type SyncConfig struct {
	MinRefreshInterval time.Duration `yaml:"min_refresh_interval"`
	PollInterval       time.Duration `yaml:"poll_interval"` // 0 表示不轮询
	EnrichConcurrency  int           `yaml:"enrich_concurrency"`
	ResponseCacheTTL   time.Duration `yaml:"response_cache_ttl"` // 0 表示不缓存 GET
	Retry              RetryConfig   `yaml:"retry"`              // 文本更新，线性退避
	ImageRetry         RetryConfig   `yaml:"image_retry"`        // 图片上传，指数退避
}

// ProbeConfig 连通性探测
type ProbeConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"` // 0 表示不设超时
}

// LogConfig 对应 logger.Config
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Config 应用配置
type Config struct {
	Env     string        `yaml:"env"`
	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	Sync    SyncConfig    `yaml:"sync"`
	Probe   ProbeConfig   `yaml:"probe"`
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Env: "development",
		Backend: BackendConfig{
			LocalURL:   "http://localhost:5000",
			HealthPath: "/health",
		},
		Storage: StorageConfig{
			Backend:    "badger",
			Path:       "data/botdash",
			QuotaBytes: 5 << 20,
		},
		Sync: SyncConfig{
			MinRefreshInterval: 5 * time.Second,
			PollInterval:       30 * time.Second,
			EnrichConcurrency:  2,
			ResponseCacheTTL:   time.Minute,
			Retry:              RetryConfig{MaxRetries: 3, BaseDelay: time.Second},
			ImageRetry:         RetryConfig{MaxRetries: 3, BaseDelay: time.Second},
		},
		Probe: ProbeConfig{
			Cooldown: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		Server: ServerConfig{Listen: "127.0.0.1:8088"},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/botdash.log",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadDotEnv 加载 .env 文件，文件不存在时忽略
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "加载 %s 失败", p)
		}
	}
	return nil
}

// Load 从 configFilePath 加载（为空时只用默认值 + 环境变量）
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 加载配置：默认值 < 配置文件 < BOTDASH_* 环境变量
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = cfg
	configFilePath = filePath
	return cfg, nil
}

// loadConfigFile 把 YAML 覆盖到 cfg 上
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml)", ext)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("BOTDASH_ENV", cfg.Env)
	cfg.Backend.URL = getEnv("BOTDASH_BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.ProductionURL = getEnv("BOTDASH_PRODUCTION_URL", cfg.Backend.ProductionURL)
	cfg.Backend.LocalURL = getEnv("BOTDASH_LOCAL_URL", cfg.Backend.LocalURL)
	if v := getEnv("BOTDASH_FALLBACK_URLS", ""); v != "" {
		cfg.Backend.Fallbacks = splitList(v)
	}

	cfg.Storage.Backend = getEnv("BOTDASH_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Path = getEnv("BOTDASH_STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.EncryptionKey = getEnv("BOTDASH_STORAGE_KEY", cfg.Storage.EncryptionKey)
	cfg.Storage.QuotaBytes = int64(parseIntEnv("BOTDASH_STORAGE_QUOTA_BYTES", int(cfg.Storage.QuotaBytes)))

	cfg.Sync.PollInterval = parseDurationEnv("BOTDASH_POLL_INTERVAL", cfg.Sync.PollInterval)
	cfg.HTTP.Timeout = parseDurationEnv("BOTDASH_HTTP_TIMEOUT", cfg.HTTP.Timeout)
	cfg.Server.Listen = getEnv("BOTDASH_LISTEN", cfg.Server.Listen)

	cfg.Log.Level = getEnv("BOTDASH_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("BOTDASH_LOG_FILE", cfg.Log.File)
}

// Get 返回最近一次加载的配置
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Env == EnvProduction && c.Backend.URL == "" && c.Backend.ProductionURL == "" {
		return errors.New("env=production 时必须设置 backend.production_url 或 backend.url")
	}
	if c.Env != EnvProduction && c.Backend.URL == "" && c.Backend.LocalURL == "" {
		return errors.New("必须设置 backend.local_url 或 backend.url")
	}

	switch c.Storage.Backend {
	case "badger", "sqlite", "file":
	default:
		return fmt.Errorf("storage.backend 无效: %q (支持 badger, sqlite, file)", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path 不能为空")
	}
	if c.Storage.QuotaBytes < 0 {
		return errors.New("storage.quota_bytes 不能为负数")
	}

	if c.Sync.MinRefreshInterval < 0 || c.Sync.PollInterval < 0 || c.Sync.ResponseCacheTTL < 0 {
		return errors.New("sync 时间参数不能为负数")
	}
	if c.Sync.EnrichConcurrency <= 0 {
		return errors.New("sync.enrich_concurrency 必须大于 0")
	}
	if c.Sync.Retry.MaxRetries <= 0 || c.Sync.ImageRetry.MaxRetries <= 0 {
		return errors.New("sync.retry.max_retries 必须大于 0")
	}
	if c.Probe.Cooldown < 0 || c.Probe.Timeout < 0 {
		return errors.New("probe 时间参数不能为负数")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
