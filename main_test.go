package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ticks-app/ticks/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("TICKS_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "ticks") {
		t.Fatalf("version 输出应包含 ticks 标识")
	}
}

func TestRunRejectsUnknownBannerBackend(t *testing.T) {
	useBufferWriters(t)
	path := writeConfigFile(t, `
[Offline]
Origin = "http://127.0.0.1:8080"

[Banner]
Backend = "etcd"
`)
	if code := run(cliOptions{configPath: path, checkOnly: true}); code == 0 {
		t.Fatalf("未知横幅后端应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "Banner.Backend") {
		t.Fatalf("错误信息应指明字段，得到 %s", stdErrBuffer().String())
	}
}

func TestBuildCacheStoreSelectsBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Global.StoragePath = t.TempDir()
	cfg.Offline.Store = config.StoreDisk
	store, err := buildCacheStore(cfg)
	if err != nil {
		t.Fatalf("disk store error: %v", err)
	}
	if _, err := store.Open(context.Background(), "ticketmaster-cache-v2"); err != nil {
		t.Fatalf("open partition failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Global.StoragePath, "offline", "ticketmaster-cache-v2")); err != nil {
		t.Fatalf("disk partition directory missing: %v", err)
	}

	cfg.Offline.Store = config.StoreMemory
	if _, err := buildCacheStore(cfg); err != nil {
		t.Fatalf("memory store error: %v", err)
	}
}
