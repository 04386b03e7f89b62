package config

import (
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/engine"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

// EngineOptions 将全局配置映射为引擎构建参数。
func (c *Config) EngineOptions() engine.Options {
	g := c.Global
	return engine.Options{
		MaxMemoryItems:      g.MaxMemoryItems,
		Strategy:            strategy.Key(g.CacheStrategy),
		TTLOverride:         g.CacheTTL.DurationValue(),
		SweepInterval:       g.SweepInterval.DurationValue(),
		SweepVault:          g.SweepVault,
		HistoryDepth:        int(g.VersionHistoryDepth),
		PrefetchQueueSize:   g.PrefetchQueueSize,
		PrefetchConcurrency: g.PrefetchConcurrency,
		MaxPatternSamples:   g.MaxPatternSamples,
		PatternMaxAge:       g.PatternMaxAge.DurationValue(),
		MetricsWindow:       g.MetricsWindow.DurationValue(),
	}
}

// VaultOptions 将 Vault 表与压缩、超时参数合并为 vault.Open 的输入。
func (c *Config) VaultOptions() (vault.Options, error) {
	level, err := vault.ParseCompressionLevel(c.Global.CompressionLevel)
	if err != nil {
		return vault.Options{}, newFieldError(globalField("CompressionLevel"), err.Error())
	}
	return vault.Options{
		Backend: c.Vault.Backend,
		Path:    c.Vault.Path,
		S3: vault.S3Config{
			Endpoint:  c.Vault.Endpoint,
			Bucket:    c.Vault.Bucket,
			Prefix:    c.Vault.Prefix,
			AccessKey: c.Vault.AccessKey,
			SecretKey: c.Vault.SecretKey,
			UseSSL:    c.Vault.UseSSL,
		},
		Compression: level,
		Timeout:     c.Global.VaultTimeout.DurationValue(),
	}, nil
}
