package config

import (
	"fmt"
	"net/url"
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

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
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

// GlobalConfig 描述进程级运行参数：监听端口、日志、存储后端与上游超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StoreBackend    string   `mapstructure:"StoreBackend"`
	RedisAddr       string   `mapstructure:"RedisAddr"`
	RedisPrefix     string   `mapstructure:"RedisPrefix"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// AppConfig 描述被代理的单个应用：缓存版本、源站与预缓存清单。
type AppConfig struct {
	// CacheName 即版本标签，修改后重新部署会触发旧版本缓存的清理。
	CacheName       string   `mapstructure:"CacheName"`
	Origin          string   `mapstructure:"Origin"`
	FontHostMarkers []string `mapstructure:"FontHostMarkers"`
	Precache        []string `mapstructure:"Precache"`
	SkipWaiting     bool     `mapstructure:"SkipWaiting"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	App    AppConfig    `mapstructure:"App"`
}

// OriginURL 返回解析后的源站地址（假定 Validate 已经通过）。
func (a AppConfig) OriginURL() *url.URL {
	parsed, err := url.Parse(a.Origin)
	if err != nil {
		return nil
	}
	return parsed
}

// Generation 汇总决定缓存世代的字段，用于热加载时判断是否需要安装新版本。
func (a AppConfig) Generation() string {
	return a.CacheName + "|" + a.Origin + "|" + strings.Join(a.Precache, ",") + "|" + strings.Join(a.FontHostMarkers, ",")
}
