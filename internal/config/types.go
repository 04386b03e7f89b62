package config

import (
	"fmt"
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

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
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

// HistoryDepth 是版本历史列表的长度上限，0 表示 "unlimited"。
type HistoryDepth int

// UnmarshalText 接受整数或 "unlimited"。
func (h *HistoryDepth) UnmarshalText(text []byte) error {
	raw := strings.ToLower(strings.TrimSpace(string(text)))
	if raw == "" || raw == unlimitedDepth {
		*h = 0
		return nil
	}
	n, err := parseInt(raw)
	if err != nil {
		return fmt.Errorf("invalid history depth: %s", raw)
	}
	*h = HistoryDepth(n)
	return nil
}

// Unlimited 表示历史列表不截断。
func (h HistoryDepth) Unlimited() bool {
	return h == 0
}

func (h HistoryDepth) String() string {
	if h.Unlimited() {
		return unlimitedDepth
	}
	return strconv.Itoa(int(h))
}

const unlimitedDepth = "unlimited"

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	MaxMemoryItems int      `mapstructure:"MaxMemoryItems"`
	CacheStrategy  string   `mapstructure:"CacheStrategy"`
	// CacheTTL 为 0 时沿用策略档位的默认 TTL。
	CacheTTL       Duration `mapstructure:"CacheTTL"`
	SweepInterval  Duration `mapstructure:"SweepInterval"`
	SweepVault     bool     `mapstructure:"SweepVault"`

	VersionHistoryDepth HistoryDepth `mapstructure:"VersionHistoryDepth"`
	CompressionLevel    string       `mapstructure:"CompressionLevel"`
	VaultTimeout        Duration     `mapstructure:"VaultTimeout"`

	PrefetchQueueSize   int      `mapstructure:"PrefetchQueueSize"`
	PrefetchConcurrency int      `mapstructure:"PrefetchConcurrency"`
	// PrefetchOrigin 为空时预取从版本存储的最新版本加载。
	PrefetchOrigin      string   `mapstructure:"PrefetchOrigin"`
	OriginTimeout       Duration `mapstructure:"OriginTimeout"`
	MaxPatternSamples   int      `mapstructure:"MaxPatternSamples"`
	PatternMaxAge       Duration `mapstructure:"PatternMaxAge"`
	MetricsWindow       Duration `mapstructure:"MetricsWindow"`
}

// VaultConfig 描述对象存储后端。
type VaultConfig struct {
	Backend   string `mapstructure:"Backend"`
	Path      string `mapstructure:"Path"`
	Endpoint  string `mapstructure:"Endpoint"`
	Bucket    string `mapstructure:"Bucket"`
	Prefix    string `mapstructure:"Prefix"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
	UseSSL    bool   `mapstructure:"UseSSL"`
}

// HasCredentials 表示是否配置了完整的对象存储凭证。
func (v VaultConfig) HasCredentials() bool {
	return v.AccessKey != "" && v.SecretKey != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (v VaultConfig) AuthMode() string {
	if v.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Vault  VaultConfig  `mapstructure:"Vault"`
}
