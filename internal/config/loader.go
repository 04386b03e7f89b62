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

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

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
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), historyDepthDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyVaultDefaults(&cfg.Vault)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Vault.usesLocalPath() {
		absPath, err := filepath.Abs(cfg.Vault.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析存储路径: %w", err)
		}
		cfg.Vault.Path = absPath
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
	v.SetDefault("MaxMemoryItems", 1000)
	v.SetDefault("CacheStrategy", string(strategy.DefaultKey()))
	v.SetDefault("CacheTTL", 0)
	v.SetDefault("SweepInterval", 0)
	v.SetDefault("SweepVault", false)
	v.SetDefault("VersionHistoryDepth", unlimitedDepth)
	v.SetDefault("CompressionLevel", string(vault.CompressionDefault))
	v.SetDefault("VaultTimeout", "10s")
	v.SetDefault("PrefetchQueueSize", 256)
	v.SetDefault("PrefetchConcurrency", 4)
	v.SetDefault("PrefetchOrigin", "")
	v.SetDefault("OriginTimeout", "30s")
	v.SetDefault("MaxPatternSamples", 1000)
	v.SetDefault("PatternMaxAge", 0)
	v.SetDefault("MetricsWindow", "5m")
	v.SetDefault("Vault.Backend", vault.BackendDir)
	v.SetDefault("Vault.Path", "./storage")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.CacheStrategy) == "" {
		g.CacheStrategy = string(strategy.DefaultKey())
	}
	g.CacheStrategy = strings.ToLower(strings.TrimSpace(g.CacheStrategy))
	if strings.TrimSpace(g.CompressionLevel) == "" {
		g.CompressionLevel = string(vault.CompressionDefault)
	}
	g.CompressionLevel = strings.ToLower(strings.TrimSpace(g.CompressionLevel))
	if g.VaultTimeout.DurationValue() == 0 {
		g.VaultTimeout = Duration(10 * time.Second)
	}
	if g.OriginTimeout.DurationValue() == 0 {
		g.OriginTimeout = Duration(30 * time.Second)
	}
	if g.MetricsWindow.DurationValue() == 0 {
		g.MetricsWindow = Duration(5 * time.Minute)
	}
}

func applyVaultDefaults(vc *VaultConfig) {
	vc.Backend = strings.ToLower(strings.TrimSpace(vc.Backend))
	if vc.Backend == "" {
		vc.Backend = vault.BackendDir
	}
	vc.Prefix = strings.Trim(vc.Prefix, "/")
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

// historyDepthDecodeHook 允许 VersionHistoryDepth 写成整数或 "unlimited"。
func historyDepthDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(HistoryDepth(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			var depth HistoryDepth
			if err := depth.UnmarshalText([]byte(v)); err != nil {
				return nil, fmt.Errorf("无法解析 VersionHistoryDepth: %s", v)
			}
			return depth, nil
		case int:
			return HistoryDepth(v), nil
		case int64:
			return HistoryDepth(v), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("VersionHistoryDepth 必须为整数: %v", v)
			}
			return HistoryDepth(int64(v)), nil
		case HistoryDepth:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 VersionHistoryDepth 类型: %T", v)
		}
	}
}
