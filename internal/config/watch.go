package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch 监听配置文件变化；每次写入后重新 Load 并把结果（或错误）交给 onChange。
// 回调运行在 viper 的监听 goroutine 中。
func Watch(path string, onChange func(*Config, error)) error {
	if path == "" {
		path = "config.toml"
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		onChange(cfg, err)
	})
	v.WatchConfig()
	return nil
}
