package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 应用配置 (启动后不可变, 各组件以引用传递)
type Config struct {
	DatabaseURL           string            `mapstructure:"database_url" yaml:"database_url"`
	APIEndpoints          []EndpointConfig  `mapstructure:"api_endpoints" yaml:"api_endpoints"`
	UseCurl               bool              `mapstructure:"use_curl" yaml:"use_curl"`
	UseProxy              bool              `mapstructure:"use_proxy" yaml:"use_proxy"`
	EnableThinking        *bool             `mapstructure:"enable_thinking" yaml:"enable_thinking,omitempty"`
	CacheHitPoolSize      int               `mapstructure:"cache_hit_pool_size" yaml:"cache_hit_pool_size"`
	CacheMissPoolSize     int               `mapstructure:"cache_miss_pool_size" yaml:"cache_miss_pool_size"`
	MaxConcurrentRequests int               `mapstructure:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	CacheOverrideMode     bool              `mapstructure:"cache_override_mode" yaml:"cache_override_mode"`
	CacheVersion          int               `mapstructure:"cache_version" yaml:"cache_version"`
	APIHeaders            map[string]string `mapstructure:"api_headers" yaml:"api_headers"`

	Cache            CacheConfig       `mapstructure:"cache" yaml:"cache"`
	IdleFlush        IdleFlushConfig   `mapstructure:"idle_flush" yaml:"idle_flush"`
	CacheMaintenance MaintenanceConfig `mapstructure:"cache_maintenance" yaml:"cache_maintenance"`
	ContextTrim      ContextTrimConfig `mapstructure:"context_trim" yaml:"context_trim"`
	Proxy            ProxyConfig       `mapstructure:"proxy" yaml:"proxy"`
	Server           ServerConfig      `mapstructure:"server" yaml:"server"`
	HTTPClient       HTTPClientConfig  `mapstructure:"http_client" yaml:"http_client"`
	Database         DatabaseConfig    `mapstructure:"database" yaml:"database"`
	APIDefaults      APIDefaultsConfig `mapstructure:"api_defaults" yaml:"api_defaults"`
	Log              LogConfig         `mapstructure:"log" yaml:"log"`
}

// EndpointConfig 单个上游端点 (weight 0 不参与选择)
type EndpointConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Weight  int    `mapstructure:"weight" yaml:"weight"`
	Model   string `mapstructure:"model" yaml:"model,omitempty"`
	Version int    `mapstructure:"version" yaml:"version"`
}

// CacheConfig 内存缓存配置
type CacheConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	MaxItems       int  `mapstructure:"max_items" yaml:"max_items"`
	BatchWriteSize int  `mapstructure:"batch_write_size" yaml:"batch_write_size"`
}

// IdleFlushConfig 空闲刷新配置
type IdleFlushConfig struct {
	Enabled              bool `mapstructure:"enabled" yaml:"enabled"`
	IdleTimeoutSeconds   int  `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	CheckIntervalSeconds int  `mapstructure:"check_interval_seconds" yaml:"check_interval_seconds"`
}

// IdleTimeout 空闲超时
func (c IdleFlushConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// CheckInterval 检查间隔
func (c IdleFlushConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// MaintenanceConfig 缓存维护配置
type MaintenanceConfig struct {
	Enabled          bool `mapstructure:"enabled" yaml:"enabled"`
	IntervalHours    int  `mapstructure:"interval_hours" yaml:"interval_hours"`
	RetentionDays    int  `mapstructure:"retention_days" yaml:"retention_days"`
	CleanupOnStartup bool `mapstructure:"cleanup_on_startup" yaml:"cleanup_on_startup"`
	MinHitCount      int  `mapstructure:"min_hit_count" yaml:"min_hit_count"`
}

// ContextTrimConfig 上下文裁切配置
type ContextTrimConfig struct {
	Enabled               bool             `mapstructure:"enabled" yaml:"enabled"`
	MaxContextTokens      int              `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
	SmartEnabled          bool             `mapstructure:"smart_enabled" yaml:"smart_enabled"`
	SmartMaxTokens        int              `mapstructure:"smart_max_tokens" yaml:"smart_max_tokens"`
	PerMessageOverhead    int              `mapstructure:"per_message_overhead" yaml:"per_message_overhead"`
	MinKeepPairs          int              `mapstructure:"min_keep_pairs" yaml:"min_keep_pairs"`
	SummaryAggressiveness int              `mapstructure:"summary_aggressiveness" yaml:"summary_aggressiveness"`
	SummaryMode           string           `mapstructure:"summary_mode" yaml:"summary_mode"`
	SummaryAPI            SummaryAPIConfig `mapstructure:"summary_api" yaml:"summary_api"`
}

// SummaryAPIConfig AI 辅助摘要配置
type SummaryAPIConfig struct {
	Enabled        bool             `mapstructure:"enabled" yaml:"enabled"`
	Endpoints      []EndpointConfig `mapstructure:"endpoints" yaml:"endpoints"`
	APIKeyEnv      string           `mapstructure:"api_key_env" yaml:"api_key_env"`
	MaxTokens      int              `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature    float32          `mapstructure:"temperature" yaml:"temperature"`
	TimeoutSeconds int              `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 单条摘要请求的超时
func (c SummaryAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProxyConfig 代理转发路径的超时配置
type ProxyConfig struct {
	RequestTimeoutSeconds      int `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	ConnectTimeoutSeconds      int `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	ResponseReadTimeoutSeconds int `mapstructure:"response_read_timeout_seconds" yaml:"response_read_timeout_seconds"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// HTTPClientConfig 共享上游客户端配置
type HTTPClientConfig struct {
	TimeoutSeconds                int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	ConnectTimeoutSeconds         int `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	TCPKeepaliveSeconds           int `mapstructure:"tcp_keepalive_seconds" yaml:"tcp_keepalive_seconds"`
	PoolIdleTimeoutSeconds        int `mapstructure:"pool_idle_timeout_seconds" yaml:"pool_idle_timeout_seconds"`
	PoolMaxIdlePerHost            int `mapstructure:"pool_max_idle_per_host" yaml:"pool_max_idle_per_host"`
	MaxRedirects                  int `mapstructure:"max_redirects" yaml:"max_redirects"`
	HTTP2KeepAliveIntervalSeconds int `mapstructure:"http2_keep_alive_interval_seconds" yaml:"http2_keep_alive_interval_seconds"`
	HTTP2KeepAliveTimeoutSeconds  int `mapstructure:"http2_keep_alive_timeout_seconds" yaml:"http2_keep_alive_timeout_seconds"`
	HTTP2InitialStreamWindowSize  int `mapstructure:"http2_initial_stream_window_size" yaml:"http2_initial_stream_window_size"`
}

// DatabaseConfig SQLite 连接池配置
type DatabaseConfig struct {
	MaxConnections     int `mapstructure:"max_connections" yaml:"max_connections"`
	MinConnections     int `mapstructure:"min_connections" yaml:"min_connections"`
	MaxLifetimeSeconds int `mapstructure:"max_lifetime_seconds" yaml:"max_lifetime_seconds"`
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
}

// APIDefaultsConfig 响应构造的缺省字段
type APIDefaultsConfig struct {
	DefaultRole              string `mapstructure:"default_role" yaml:"default_role"`
	DefaultObject            string `mapstructure:"default_object" yaml:"default_object"`
	DefaultFinishReason      string `mapstructure:"default_finish_reason" yaml:"default_finish_reason"`
	DefaultSystemFingerprint string `mapstructure:"default_system_fingerprint" yaml:"default_system_fingerprint"`
	CacheSystemFingerprint   string `mapstructure:"cache_system_fingerprint" yaml:"cache_system_fingerprint"`
	CacheMaxSizeBytes        int    `mapstructure:"cache_max_size_bytes" yaml:"cache_max_size_bytes"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load 加载 config.yaml 并叠加环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量覆盖
	v.SetEnvPrefix("LLMCACHED")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "cache.db")
	v.SetDefault("use_curl", false)
	v.SetDefault("use_proxy", true)
	v.SetDefault("cache_hit_pool_size", 8)
	v.SetDefault("cache_miss_pool_size", 8)
	v.SetDefault("max_concurrent_requests", 100)
	v.SetDefault("cache_override_mode", false)
	v.SetDefault("cache_version", 0)
	v.SetDefault("api_headers", map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_items", 100)
	v.SetDefault("cache.batch_write_size", 20)

	v.SetDefault("idle_flush.enabled", false)
	v.SetDefault("idle_flush.idle_timeout_seconds", 300)
	v.SetDefault("idle_flush.check_interval_seconds", 10)

	v.SetDefault("cache_maintenance.enabled", false)
	v.SetDefault("cache_maintenance.interval_hours", 12)
	v.SetDefault("cache_maintenance.retention_days", 30)
	v.SetDefault("cache_maintenance.cleanup_on_startup", false)
	v.SetDefault("cache_maintenance.min_hit_count", 5)

	v.SetDefault("context_trim.enabled", false)
	v.SetDefault("context_trim.max_context_tokens", 4096)
	v.SetDefault("context_trim.smart_enabled", false)
	v.SetDefault("context_trim.smart_max_tokens", 4096)
	v.SetDefault("context_trim.per_message_overhead", 3)
	v.SetDefault("context_trim.min_keep_pairs", 1)
	v.SetDefault("context_trim.summary_aggressiveness", 1)
	v.SetDefault("context_trim.summary_mode", "local")
	v.SetDefault("context_trim.summary_api.enabled", false)
	v.SetDefault("context_trim.summary_api.api_key_env", "SUMMARY_API_KEY")
	v.SetDefault("context_trim.summary_api.max_tokens", 128)
	v.SetDefault("context_trim.summary_api.temperature", 0.2)
	v.SetDefault("context_trim.summary_api.timeout_seconds", 10)

	v.SetDefault("proxy.request_timeout_seconds", 120)
	v.SetDefault("proxy.connect_timeout_seconds", 15)
	v.SetDefault("proxy.response_read_timeout_seconds", 120)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4321)

	v.SetDefault("http_client.timeout_seconds", 60)
	v.SetDefault("http_client.connect_timeout_seconds", 10)
	v.SetDefault("http_client.tcp_keepalive_seconds", 60)
	v.SetDefault("http_client.pool_idle_timeout_seconds", 180)
	v.SetDefault("http_client.pool_max_idle_per_host", 50)
	v.SetDefault("http_client.max_redirects", 5)
	v.SetDefault("http_client.http2_keep_alive_interval_seconds", 30)
	v.SetDefault("http_client.http2_keep_alive_timeout_seconds", 30)
	v.SetDefault("http_client.http2_initial_stream_window_size", 1024*1024)

	v.SetDefault("database.max_connections", 100)
	v.SetDefault("database.min_connections", 10)
	v.SetDefault("database.max_lifetime_seconds", 1800)
	v.SetDefault("database.idle_timeout_seconds", 600)

	v.SetDefault("api_defaults.default_role", "assistant")
	v.SetDefault("api_defaults.default_object", "chat.completion")
	v.SetDefault("api_defaults.default_finish_reason", "unknown")
	v.SetDefault("api_defaults.default_system_fingerprint", "unknown")
	v.SetDefault("api_defaults.cache_system_fingerprint", "cached")
	v.SetDefault("api_defaults.cache_max_size_bytes", 5*1024*1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Dump 渲染生效配置 (YAML), 用于启动日志与排障
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
