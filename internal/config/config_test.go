package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应被转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.LogMaxBackups != 10 || !cfg.Global.LogCompress {
		t.Fatalf("日志轮转默认值未生效: %+v", cfg.Global)
	}
	if len(cfg.App.Precache) != len(DefaultPrecache) {
		t.Fatalf("未配置 Precache 时应使用默认清单, got %v", cfg.App.Precache)
	}
	if len(cfg.App.FontHostMarkers) != 2 {
		t.Fatalf("未配置 FontHostMarkers 时应使用默认值, got %v", cfg.App.FontHostMarkers)
	}
	if !cfg.App.SkipWaiting {
		t.Fatalf("SkipWaiting 默认应开启")
	}
	if u := cfg.App.OriginURL(); u == nil || u.Host != "spendoodle.example" {
		t.Fatalf("OriginURL 解析错误: %v", u)
	}
}

func TestValidateRejectsMissingCacheName(t *testing.T) {
	_, err := Load(testConfigPath(t, "missing.toml"))
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "App.CacheName" {
		t.Fatalf("缺少 CacheName 应返回字段错误, got %v", err)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStoreBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		redisAddr string
		shouldErr bool
	}{
		{"disk ok", "disk", "", false},
		{"sqlite ok", "sqlite", "", false},
		{"memory ok", "memory", "", false},
		{"redis ok", "redis", "127.0.0.1:6379", false},
		{"redis without addr", "redis", "", true},
		{"unsupported", "etcd", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StoreBackend = tc.backend
			cfg.Global.RedisAddr = tc.redisAddr
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestOriginValidation(t *testing.T) {
	testCases := []struct {
		origin    string
		shouldErr bool
	}{
		{"https://spendoodle.example", false},
		{"http://localhost:8080", false},
		{"", true},
		{"ftp://spendoodle.example", true},
		{"https://", true},
		{"https://spendoodle.example/app", true},
	}

	for _, tc := range testCases {
		cfg := validConfig()
		cfg.App.Origin = tc.origin
		err := cfg.Validate()
		if tc.shouldErr && err == nil {
			t.Fatalf("expected error for origin %q", tc.origin)
		}
		if !tc.shouldErr && err != nil {
			t.Fatalf("unexpected error for origin %q: %v", tc.origin, err)
		}
	}
}

func TestPrecacheValidation(t *testing.T) {
	cfg := validConfig()
	cfg.App.Precache = []string{"/", "index.html"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("相对地址缺少前导 / 应当报错")
	}

	cfg.App.Precache = []string{"/", "ftp://fonts.example/a.css"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http(s) 的预缓存地址应当报错")
	}

	cfg.App.Precache = []string{"/", "https://fonts.googleapis.com/css2?family=Inter"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("合法清单不应报错: %v", err)
	}
}

func TestGenerationTracksCacheName(t *testing.T) {
	a := validConfig().App
	b := a
	b.SkipWaiting = !a.SkipWaiting
	if a.Generation() != b.Generation() {
		t.Fatalf("SkipWaiting 不应影响缓存世代")
	}
	b.CacheName = "spendoodle-v2"
	if a.Generation() == b.Generation() {
		t.Fatalf("CacheName 变化应产生新的世代")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			StoreBackend:    "disk",
			UpstreamTimeout: Duration(30 * time.Second),
		},
		App: AppConfig{
			CacheName:       "spendoodle-v1",
			Origin:          "https://spendoodle.example",
			FontHostMarkers: DefaultFontHostMarkers,
			Precache:        []string{"/", "/index.html"},
			SkipWaiting:     true,
		},
	}
}
