package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPrecache 是应用外壳的默认预缓存清单。
var DefaultPrecache = []string{
	"/",
	"/index.html",
	"https://fonts.googleapis.com/css2?family=Playfair+Display:ital,wght@0,500;0,700;0,900;1,500&family=Plus+Jakarta+Sans:wght@300;400;500;600;700&display=swap",
}

// DefaultFontHostMarkers 对应 fonts.googleapis.com 与 fonts.gstatic.com。
var DefaultFontHostMarkers = []string{"fonts.g", "fonts.gstatic"}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAppDefaults(&cfg.App)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreBackend", "disk")
	v.SetDefault("RedisPrefix", "shellcache:")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("App.FontHostMarkers", DefaultFontHostMarkers)
	v.SetDefault("App.Precache", DefaultPrecache)
	v.SetDefault("App.SkipWaiting", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.StoreBackend = strings.ToLower(strings.TrimSpace(g.StoreBackend))
	if g.StoreBackend == "" {
		g.StoreBackend = "disk"
	}
}

func applyAppDefaults(a *AppConfig) {
	a.CacheName = strings.TrimSpace(a.CacheName)
	a.Origin = strings.TrimSpace(a.Origin)
	markers := make([]string, 0, len(a.FontHostMarkers))
	for _, m := range a.FontHostMarkers {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			markers = append(markers, trimmed)
		}
	}
	a.FontHostMarkers = markers
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
