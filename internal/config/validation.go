package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}

	if err := c.Offline.validate(); err != nil {
		return err
	}
	if err := c.Proxy.validate(); err != nil {
		return err
	}
	return c.Banner.validate()
}

func (o *OfflineConfig) validate() error {
	if err := validateUpstream(o.Origin); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Offline", "Origin"), err)
	}
	switch o.Store {
	case StoreDisk, StoreMemory:
	default:
		return newFieldError(sectionField("Offline", "Store"), "仅支持 disk/memory")
	}
	if o.PagePartition == o.AssetPartition {
		return newFieldError(sectionField("Offline", "AssetPartition"), "不能与 PagePartition 相同")
	}
	for _, name := range o.Partitions() {
		if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			return newFieldError(sectionField("Offline", "PagePartition/AssetPartition"), "分区名不能包含路径分隔符或以 . 开头")
		}
	}
	if err := validatePaths(o.Pages); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Offline", "Pages"), err)
	}
	if err := validatePaths(o.Assets); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Offline", "Assets"), err)
	}
	if !strings.HasPrefix(o.OfflinePage, "/") {
		return newFieldError(sectionField("Offline", "OfflinePage"), "必须以 / 开头")
	}
	if !strings.HasPrefix(o.PlaceholderImage, "/") {
		return newFieldError(sectionField("Offline", "PlaceholderImage"), "必须以 / 开头")
	}
	if o.NetworkTimeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Offline", "NetworkTimeout"), "必须大于 0")
	}
	if o.MaxClients < 0 {
		return newFieldError(sectionField("Offline", "MaxClients"), "不能为负数")
	}
	return nil
}

func (p *ProxyConfig) validate() error {
	if err := validateUpstream(p.EventsBaseURL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Proxy", "EventsBaseURL"), err)
	}
	if p.MaxImageBytes < 0 {
		return newFieldError(sectionField("Proxy", "MaxImageBytes"), "不能为负数")
	}
	return nil
}

func (b *BannerConfig) validate() error {
	switch b.Backend {
	case BackendMemory:
	case BackendSQLite:
		if b.SQLitePath == "" {
			return newFieldError(sectionField("Banner", "SQLitePath"), "sqlite 后端需要数据库路径")
		}
	case BackendRedis:
		if b.RedisAddr == "" {
			return newFieldError(sectionField("Banner", "RedisAddr"), "redis 后端需要地址")
		}
	default:
		return newFieldError(sectionField("Banner", "Backend"), "仅支持 memory/sqlite/redis")
	}
	if b.MaxImageBytes < 0 {
		return newFieldError(sectionField("Banner", "MaxImageBytes"), "不能为负数")
	}
	return nil
}

func validatePaths(paths []string) error {
	if len(paths) == 0 {
		return errors.New("清单不能为空")
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("路径必须以 / 开头: %q", p)
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
