package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			StoragePath:     "./storage",
			UpstreamTimeout: Duration(30 * time.Second),
		},
		Offline: OfflineConfig{
			Origin:           "http://origin.local",
			Store:            StoreMemory,
			Version:          "v2",
			PagePartition:    "ticketmaster-cache-v2",
			AssetPartition:   "ticketmaster-assets-v2",
			Pages:            append([]string(nil), DefaultPages...),
			Assets:           append([]string(nil), DefaultAssets...),
			OfflinePage:      "/splash.html",
			PlaceholderImage: "/assets/icon.png",
			NetworkTimeout:   Duration(5 * time.Second),
		},
		Proxy: ProxyConfig{
			EventsBaseURL: "https://app.ticketmaster.com",
			MaxImageBytes: 10 * 1024 * 1024,
		},
		Banner: BannerConfig{
			Backend:       BackendMemory,
			MaxImageBytes: 2 * 1024 * 1024,
		},
	}
}
