package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// OfflineConfig 描述离线缓存管理器：源站、分区名、预缓存清单与超时。
type OfflineConfig struct {
	Origin           string   `mapstructure:"Origin"`
	Store            string   `mapstructure:"Store"`
	Version          string   `mapstructure:"Version"`
	PagePartition    string   `mapstructure:"PagePartition"`
	AssetPartition   string   `mapstructure:"AssetPartition"`
	Pages            []string `mapstructure:"Pages"`
	Assets           []string `mapstructure:"Assets"`
	OfflinePage      string   `mapstructure:"OfflinePage"`
	PlaceholderImage string   `mapstructure:"PlaceholderImage"`
	NetworkTimeout   Duration `mapstructure:"NetworkTimeout"`
	InstallOnStartup bool     `mapstructure:"InstallOnStartup"`
	MaxClients       int      `mapstructure:"MaxClients"`
}

// ProxyConfig 描述第三方活动 API 的转发参数。
type ProxyConfig struct {
	EventsBaseURL      string `mapstructure:"EventsBaseURL"`
	TicketmasterAPIKey string `mapstructure:"TicketmasterAPIKey"`
	EventsCacheControl string `mapstructure:"EventsCacheControl"`
	MaxImageBytes      int64  `mapstructure:"MaxImageBytes"`
}

// BannerConfig 选择横幅图片的 KV 后端。
type BannerConfig struct {
	Backend       string `mapstructure:"Backend"`
	SQLitePath    string `mapstructure:"SQLitePath"`
	RedisAddr     string `mapstructure:"RedisAddr"`
	RedisPassword string `mapstructure:"RedisPassword"`
	RedisDB       int    `mapstructure:"RedisDB"`
	RedisChannel  string `mapstructure:"RedisChannel"`
	DefaultImage  string `mapstructure:"DefaultImage"`
	MaxImageBytes int64  `mapstructure:"MaxImageBytes"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Offline OfflineConfig `mapstructure:"Offline"`
	Proxy   ProxyConfig   `mapstructure:"Proxy"`
	Banner  BannerConfig  `mapstructure:"Banner"`
}

const (
	StoreDisk   = "disk"
	StoreMemory = "memory"

	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultPages 是预缓存的页面清单，同时用于页面分类。
var DefaultPages = []string{
	"/",
	"/splash.html",
	"/index.html",
	"/home.html",
	"/for-you.html",
	"/my-events.html",
	"/sell.html",
	"/account.html",
	"/ticket-details.html",
	"/qr-code.html",
}

// DefaultAssets 是预缓存的静态资源清单，分类时按路径后缀匹配。
var DefaultAssets = []string{
	"/assets/ticketmaster-5-logo-black-and-white2.png",
	"/assets/icon.png",
	"/assets/icon-512.png",
	"/manifest.json",
}

// HasAPIKey 表示是否配置了活动 API 的密钥。
func (p ProxyConfig) HasAPIKey() bool {
	return strings.TrimSpace(p.TicketmasterAPIKey) != ""
}

// Partitions 返回当前版本的两个分区名，供日志字段使用。
func (o OfflineConfig) Partitions() []string {
	return []string{o.PagePartition, o.AssetPartition}
}
