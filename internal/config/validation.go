package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

var supportedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var supportedBackends = map[string]struct{}{
	vault.BackendDir:    {},
	vault.BackendMemory: {},
	vault.BackendSQLite: {},
	vault.BackendS3:     {},
}

const supportedBackendList = "fs|memory|sqlite|s3"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if level := strings.ToLower(strings.TrimSpace(g.LogLevel)); level != "" {
		if _, ok := supportedLogLevels[level]; !ok {
			return newFieldError(globalField("LogLevel"), "仅支持 trace/debug/info/warn/error")
		}
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError(globalField("LogMaxSize/LogMaxBackups"), "不能为负数")
	}
	if g.MaxMemoryItems <= 0 {
		return newFieldError(globalField("MaxMemoryItems"), "必须大于 0")
	}
	if _, ok := strategy.Lookup(g.CacheStrategy); !ok {
		return newFieldError(globalField("CacheStrategy"), "仅支持 "+strings.Join(strategy.Keys(), "/"))
	}
	if g.CacheTTL.DurationValue() < 0 {
		return newFieldError(globalField("CacheTTL"), "不能为负数")
	}
	if g.SweepInterval.DurationValue() < 0 {
		return newFieldError(globalField("SweepInterval"), "不能为负数")
	}
	if g.VersionHistoryDepth < 0 {
		return newFieldError(globalField("VersionHistoryDepth"), "必须为正整数或 unlimited")
	}
	if _, err := vault.ParseCompressionLevel(g.CompressionLevel); err != nil {
		return newFieldError(globalField("CompressionLevel"), "仅支持 none/fast/default/best")
	}
	if g.VaultTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("VaultTimeout"), "必须大于 0")
	}
	if g.PrefetchQueueSize < 0 || g.PrefetchConcurrency < 0 {
		return newFieldError(globalField("PrefetchQueueSize/PrefetchConcurrency"), "不能为负数")
	}
	if g.PrefetchOrigin != "" {
		if err := validateOrigin(g.PrefetchOrigin); err != nil {
			return fmt.Errorf("%s: %w", globalField("PrefetchOrigin"), err)
		}
	}
	if g.MaxPatternSamples < 0 {
		return newFieldError(globalField("MaxPatternSamples"), "不能为负数")
	}
	if g.PatternMaxAge.DurationValue() < 0 {
		return newFieldError(globalField("PatternMaxAge"), "不能为负数")
	}
	if g.MetricsWindow.DurationValue() < time.Second {
		return newFieldError(globalField("MetricsWindow"), "不能小于 1s")
	}

	return c.Vault.validate()
}

func (v VaultConfig) validate() error {
	backend := strings.ToLower(strings.TrimSpace(v.Backend))
	if _, ok := supportedBackends[backend]; !ok {
		return newFieldError(vaultField("Backend"), "仅支持 "+supportedBackendList)
	}
	switch backend {
	case vault.BackendDir, vault.BackendSQLite:
		if strings.TrimSpace(v.Path) == "" {
			return newFieldError(vaultField("Path"), "不能为空")
		}
	case vault.BackendS3:
		if strings.TrimSpace(v.Endpoint) == "" {
			return newFieldError(vaultField("Endpoint"), "不能为空")
		}
		if strings.Contains(v.Endpoint, "://") {
			return fmt.Errorf("%s: %w", vaultField("Endpoint"), errors.New("Endpoint 不应包含协议头"))
		}
		if strings.TrimSpace(v.Bucket) == "" {
			return newFieldError(vaultField("Bucket"), "不能为空")
		}
		if (v.AccessKey == "") != (v.SecretKey == "") {
			return newFieldError(vaultField("AccessKey/SecretKey"), "必须同时提供或同时留空")
		}
	}
	return nil
}

func validateOrigin(raw string) error {
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
	return nil
}

func (v VaultConfig) usesLocalPath() bool {
	return v.Backend == vault.BackendDir || v.Backend == vault.BackendSQLite
}
