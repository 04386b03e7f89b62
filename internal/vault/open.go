package vault

import (
	"fmt"
	"strings"
	"time"
)

// Backend 名称与配置项 Vault.Backend 对应。
const (
	BackendDir    = "fs"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Options 汇总构建 vault 所需的全部参数。
type Options struct {
	Backend     string
	Path        string
	S3          S3Config
	Compression CompressionLevel
	Timeout     time.Duration
}

// Open 根据 Options 构建完整的 vault 链：backend → 压缩 → 超时/错误包装。
func Open(opts Options) (*Bounded, error) {
	var (
		backend Vault
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendDir:
		backend, err = NewDirVault(opts.Path)
	case BackendMemory:
		backend = NewMemoryVault()
	case BackendSQLite:
		backend, err = OpenSQLite(opts.Path)
	case BackendS3:
		backend, err = NewS3Vault(opts.S3)
	default:
		return nil, fmt.Errorf("unsupported vault backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(Compressed(backend, opts.Compression), opts.Timeout), nil
}
