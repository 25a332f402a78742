package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultVersion        = "v2"
	pagePartitionPrefix   = "ticketmaster-cache-"
	assetPartitionPrefix  = "ticketmaster-assets-"
	defaultDefaultBanner  = "https://source.unsplash.com/random/800x450/?concert"
	defaultEventsBaseURL  = "https://app.ticketmaster.com"
	defaultEventsCacheCtl = "s-maxage=60, stale-while-revalidate"

	defaultProxyImageBytes = 10 * 1024 * 1024
	defaultMaxClients      = 10000
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// 配置文件同目录下的 .env 会先被加载，已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyOfflineDefaults(&cfg.Offline)
	applyProxyDefaults(&cfg.Proxy)
	applyBannerDefaults(&cfg.Banner, cfg.Global.StoragePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")

	v.SetDefault("Offline.Store", StoreDisk)
	v.SetDefault("Offline.Version", defaultVersion)
	v.SetDefault("Offline.Pages", DefaultPages)
	v.SetDefault("Offline.Assets", DefaultAssets)
	v.SetDefault("Offline.OfflinePage", "/splash.html")
	v.SetDefault("Offline.PlaceholderImage", "/assets/icon.png")
	v.SetDefault("Offline.NetworkTimeout", "5s")
	v.SetDefault("Offline.InstallOnStartup", true)
	v.SetDefault("Offline.MaxClients", defaultMaxClients)

	v.SetDefault("Proxy.EventsBaseURL", defaultEventsBaseURL)
	v.SetDefault("Proxy.EventsCacheControl", defaultEventsCacheCtl)
	v.SetDefault("Proxy.MaxImageBytes", defaultProxyImageBytes)

	v.SetDefault("Banner.Backend", BackendMemory)
	v.SetDefault("Banner.RedisChannel", "ticks:banner")
	v.SetDefault("Banner.DefaultImage", defaultDefaultBanner)
	v.SetDefault("Banner.MaxImageBytes", 2*1024*1024)
}

// bindEnv 让常用密钥可以只通过环境变量（或 .env）提供。
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"Proxy.TicketmasterAPIKey": "TICKETMASTER_API_KEY",
		"Banner.RedisPassword":     "TICKS_REDIS_PASSWORD",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}
	return nil
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
}

func applyOfflineDefaults(o *OfflineConfig) {
	o.Store = strings.ToLower(strings.TrimSpace(o.Store))
	if o.Store == "" {
		o.Store = StoreDisk
	}
	o.Version = strings.TrimSpace(o.Version)
	if o.Version == "" {
		o.Version = defaultVersion
	}
	if o.PagePartition == "" {
		o.PagePartition = pagePartitionPrefix + o.Version
	}
	if o.AssetPartition == "" {
		o.AssetPartition = assetPartitionPrefix + o.Version
	}
	if len(o.Pages) == 0 {
		o.Pages = append([]string(nil), DefaultPages...)
	}
	if len(o.Assets) == 0 {
		o.Assets = append([]string(nil), DefaultAssets...)
	}
	if o.NetworkTimeout.DurationValue() == 0 {
		o.NetworkTimeout = Duration(5 * time.Second)
	}
	if o.MaxClients == 0 {
		o.MaxClients = defaultMaxClients
	}
	o.Origin = strings.TrimRight(strings.TrimSpace(o.Origin), "/")
}

func applyProxyDefaults(p *ProxyConfig) {
	p.EventsBaseURL = strings.TrimRight(strings.TrimSpace(p.EventsBaseURL), "/")
	if p.EventsBaseURL == "" {
		p.EventsBaseURL = defaultEventsBaseURL
	}
	if p.EventsCacheControl == "" {
		p.EventsCacheControl = defaultEventsCacheCtl
	}
	p.TicketmasterAPIKey = strings.TrimSpace(p.TicketmasterAPIKey)
	if p.MaxImageBytes == 0 {
		p.MaxImageBytes = defaultProxyImageBytes
	}
}

func applyBannerDefaults(b *BannerConfig, storagePath string) {
	b.Backend = strings.ToLower(strings.TrimSpace(b.Backend))
	if b.Backend == "" {
		b.Backend = BackendMemory
	}
	if b.Backend == BackendSQLite && b.SQLitePath == "" {
		b.SQLitePath = filepath.Join(storagePath, "banner.db")
	}
	if b.RedisChannel == "" {
		b.RedisChannel = "ticks:banner"
	}
	if b.DefaultImage == "" {
		b.DefaultImage = defaultDefaultBanner
	}
	if b.MaxImageBytes == 0 {
		b.MaxImageBytes = 2 * 1024 * 1024
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
