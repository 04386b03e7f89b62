package versions

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	rootPrefix = "versions/"
	indexPath  = "versions/index"
)

// ErrInvalidResource 表示资源 id 为空或包含非法路径片段。
var ErrInvalidResource = errors.New("invalid resource id")

// ErrIndexCorrupt 表示持久化的版本索引无法解析。
var ErrIndexCorrupt = errors.New("version index corrupt")

// Meta 是每个版本的元数据，写入 versions/{id}/v{n}/meta。
type Meta struct {
	CreatedAt   time.Time `cbor:"created_at" json:"created_at"`
	CreatedBy   string    `cbor:"created_by" json:"created_by"`
	Description string    `cbor:"description,omitempty" json:"description,omitempty"`
	Size        int       `cbor:"size" json:"size"`
	Checksum    string    `cbor:"checksum" json:"checksum"`
}

// Entry 是一个完整的版本快照。
type Entry struct {
	ResourceID string `json:"resource_id"`
	Version    int    `json:"version"`
	Data       []byte `json:"-"`
	Meta       Meta   `json:"meta"`
}

// HistoryItem 是历史列表中的一项。
type HistoryItem struct {
	Version int  `json:"version"`
	Meta    Meta `json:"meta"`
}

// Comparison 是两个版本的结构化比较结果，不做逐字节 diff。
type Comparison struct {
	ResourceID    string `json:"resource_id"`
	Version1      int    `json:"version1"`
	Version2      int    `json:"version2"`
	Size1         int    `json:"size1"`
	Size2         int    `json:"size2"`
	SizeDiff      int    `json:"size_diff"`
	ChecksumMatch bool   `json:"checksum_match"`
}

// SaveOptions 描述保存版本时的附加信息。
type SaveOptions struct {
	CreatedBy   string
	Description string
}

// IntegrityError 表示已记录的版本无法读取或校验和不匹配。
type IntegrityError struct {
	ResourceID string
	Version    int
	Reason     string
	Err        error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("version %s@%d: %s: %v", e.ResourceID, e.Version, e.Reason, e.Err)
	}
	return fmt.Sprintf("version %s@%d: %s", e.ResourceID, e.Version, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Checksum 返回 data 的 sha-256 十六进制摘要。
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func dataPath(resourceID string, version int) string {
	return versionPrefix(resourceID, version) + "data"
}

func metaPath(resourceID string, version int) string {
	return versionPrefix(resourceID, version) + "meta"
}

func versionPrefix(resourceID string, version int) string {
	return rootPrefix + resourceID + "/v" + strconv.Itoa(version) + "/"
}

func validateResource(resourceID string) error {
	if strings.TrimSpace(resourceID) == "" || strings.ContainsRune(resourceID, 0) {
		return ErrInvalidResource
	}
	segments := strings.Split(resourceID, "/")
	// versions/index 与资源目录共享前缀。
	if segments[0] == "index" {
		return ErrInvalidResource
	}
	for _, segment := range segments {
		if segment == "" || segment == "." || segment == ".." {
			return ErrInvalidResource
		}
	}
	return nil
}
