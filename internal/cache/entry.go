package cache

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// NoExpiry 作为 SetOptions.TTL 时表示条目永不过期，即使策略带有默认 TTL。
const NoExpiry time.Duration = -1

// Vault 中的路径前缀。
const (
	blobPrefix   = "cache/"
	metaPrefix   = "cache-meta/"
	tagIndexPath = "cache-index/tags"
	defaultCType = "application/octet-stream"
)

// PreloadedTag 是预取写入的条目携带的标签。
const PreloadedTag = "preloaded"

// ErrInvalidKey 表示 key 为空或包含非法路径片段。
var ErrInvalidKey = errors.New("invalid cache key")

// Entry 是内存层持有的缓存条目，Data 由缓存独占。
type Entry struct {
	Key            string
	Data           []byte
	ContentType    string
	OriginalSize   int
	CompressedSize int
	CreatedAt      time.Time
	LastAccessed   time.Time
	AccessCount    int64
	TTL            time.Duration
	Tags           []string
}

// Expired 判断条目在 now 时刻是否已过期（now >= CreatedAt + TTL）。
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return !now.Before(e.CreatedAt.Add(e.TTL))
}

// meta 是写入 cache-meta/{key} 的旁路元数据。
type meta struct {
	Key            string    `cbor:"key"`
	ContentType    string    `cbor:"content_type"`
	OriginalSize   int       `cbor:"original_size"`
	CompressedSize int       `cbor:"compressed_size"`
	CreatedAt      time.Time `cbor:"created_at"`
	LastAccessed   time.Time `cbor:"last_accessed"`
	AccessCount    int64     `cbor:"access_count"`
	TTLMillis      int64     `cbor:"ttl_ms"`
	Tags           []string  `cbor:"tags"`
}

func metaFromEntry(e *Entry) meta {
	return meta{
		Key:            e.Key,
		ContentType:    e.ContentType,
		OriginalSize:   e.OriginalSize,
		CompressedSize: e.CompressedSize,
		CreatedAt:      e.CreatedAt,
		LastAccessed:   e.LastAccessed,
		AccessCount:    e.AccessCount,
		TTLMillis:      e.TTL.Milliseconds(),
		Tags:           e.Tags,
	}
}

func (m meta) entry(data []byte) *Entry {
	return &Entry{
		Key:            m.Key,
		Data:           data,
		ContentType:    m.ContentType,
		OriginalSize:   m.OriginalSize,
		CompressedSize: m.CompressedSize,
		CreatedAt:      m.CreatedAt,
		LastAccessed:   m.LastAccessed,
		AccessCount:    m.AccessCount,
		TTL:            time.Duration(m.TTLMillis) * time.Millisecond,
		Tags:           m.Tags,
	}
}

func (m meta) expired(now time.Time) bool {
	return m.entry(nil).Expired(now)
}

func blobPath(key string) string {
	return blobPrefix + key
}

func metaPath(key string) string {
	return metaPrefix + key
}

// validateKey 拒绝会逃逸命名空间或含空段的 key，保证不同 key 落到不同的 vault 路径。
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == ".." || segment == "." {
			return ErrInvalidKey
		}
	}
	return nil
}

// normalizeTags 去重、去空并排序。
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	sort.Strings(result)
	if len(result) == 0 {
		return nil
	}
	return result
}
