package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存名/请求分类/响应来源字段，供拦截请求日志复用。
func RequestFields(cacheName, class, source, method, url string) logrus.Fields {
	return logrus.Fields{
		"cache":  cacheName,
		"class":  class,
		"source": source,
		"method": method,
		"url":    url,
	}
}

// LifecycleFields 描述一次 worker 状态迁移。
func LifecycleFields(cacheName, from, to string) logrus.Fields {
	return logrus.Fields{
		"action": "lifecycle",
		"cache":  cacheName,
		"from":   from,
		"to":     to,
	}
}
