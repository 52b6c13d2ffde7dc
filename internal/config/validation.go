package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	"disk":   {},
	"sqlite": {},
	"redis":  {},
	"memory": {},
}

const supportedBackendList = "disk|sqlite|redis|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	backend := strings.ToLower(strings.TrimSpace(g.StoreBackend))
	if _, ok := supportedBackends[backend]; !ok {
		return newFieldError("Global.StoreBackend", "仅支持 "+supportedBackendList)
	}
	if (backend == "disk" || backend == "sqlite") && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if backend == "redis" && strings.TrimSpace(g.RedisAddr) == "" {
		return newFieldError("Global.RedisAddr", "redis 后端必须配置地址")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	a := c.App
	if a.CacheName == "" {
		return newFieldError(appField("CacheName"), "不能为空")
	}
	if strings.ContainsAny(a.CacheName, " \t/\\") {
		return newFieldError(appField("CacheName"), "不允许包含空白或路径分隔符")
	}
	if err := validateOrigin(a.Origin); err != nil {
		return fmt.Errorf("%s: %w", appField("Origin"), err)
	}
	for i, entry := range a.Precache {
		if err := validatePrecacheEntry(entry); err != nil {
			return fmt.Errorf("%s: %w", precacheField(i), err)
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("源站不应包含路径: %s", raw)
	}
	return nil
}

func validatePrecacheEntry(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.IsAbs() {
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("仅支持 http/https: %s", raw)
		}
		if parsed.Host == "" {
			return fmt.Errorf("缺少 Host: %s", raw)
		}
		return nil
	}
	if !strings.HasPrefix(raw, "/") {
		return fmt.Errorf("相对地址必须以 / 开头: %s", raw)
	}
	return nil
}
