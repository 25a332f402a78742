package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供离线缓存的分类/来源/缓存键字段，供拦截日志复用。
func RequestFields(classification, source, key string) logrus.Fields {
	return logrus.Fields{
		"action":         "offline_fetch",
		"classification": classification,
		"source":         source,
		"cache_key":      key,
		"cache_hit":      source != "" && source != "network",
	}
}

// ProxyFields 提供第三方 API 转发的基础字段。
func ProxyFields(endpoint, upstream string) logrus.Fields {
	return logrus.Fields{
		"action":   "proxy",
		"endpoint": endpoint,
		"upstream": upstream,
	}
}

// LifecycleFields 提供 install/activate 阶段的版本与分区字段。
func LifecycleFields(action, version string, partitions []string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"version":    version,
		"partitions": partitions,
	}
}
