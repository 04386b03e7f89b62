package versions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/codec"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/events"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

// Options 控制版本存储的行为。
type Options struct {
	// HistoryDepth 限制 History 返回的条数，0 表示不限制；不会删除任何版本。
	HistoryDepth int
	Logger       *logrus.Logger
	Observer     events.Observer
	Now          func() time.Time
}

// Stats 是版本存储的计数快照。
type Stats struct {
	Resources int `json:"resources"`
	Versions  int `json:"versions"`
}

// Store 是基于 vault 的追加式版本存储。
type Store struct {
	vault    vault.Vault
	opts     Options
	logger   *logrus.Logger
	observer events.Observer
	now      func() time.Time
	locks    *resourceLocks

	indexMu sync.Mutex
	index   map[string][]int
}

// New 构建版本存储；调用方需在使用前调用 Load 恢复版本索引。
func New(v vault.Vault, opts Options) (*Store, error) {
	if v == nil {
		return nil, errors.New("vault is required")
	}
	if opts.HistoryDepth < 0 {
		return nil, fmt.Errorf("invalid history depth: %d", opts.HistoryDepth)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	observer := opts.Observer
	if observer == nil {
		observer = events.Nop
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		vault:    v,
		opts:     opts,
		logger:   logger,
		observer: observer,
		now:      now,
		locks:    newResourceLocks(),
		index:    make(map[string][]int),
	}, nil
}

// Save 追加一个新版本：先写数据，再写元数据，最后更新并持久化索引。
// 索引持久化失败时版本号仍被占用，不会被后续保存复用。
func (s *Store) Save(ctx context.Context, resourceID string, data []byte, opts SaveOptions) (*Entry, error) {
	if err := validateResource(resourceID); err != nil {
		return nil, fmt.Errorf("save version %q: %w", resourceID, err)
	}
	unlock := s.locks.lock(resourceID)
	defer unlock()

	chain, err := s.chainLocked(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("save version %q: %w", resourceID, err)
	}
	next := len(chain) + 1

	entry := &Entry{
		ResourceID: resourceID,
		Version:    next,
		Data:       append([]byte(nil), data...),
		Meta: Meta{
			CreatedAt:   s.now(),
			CreatedBy:   opts.CreatedBy,
			Description: opts.Description,
			Size:        len(data),
			Checksum:    Checksum(data),
		},
	}

	if err := s.vault.Write(ctx, dataPath(resourceID, next), entry.Data); err != nil {
		s.storageFailed(resourceID, next, err)
		return nil, fmt.Errorf("save version %q: %w", resourceID, err)
	}
	encoded, err := codec.Marshal(entry.Meta)
	if err != nil {
		return nil, fmt.Errorf("save version %q: %w", resourceID, err)
	}
	if err := s.vault.Write(ctx, metaPath(resourceID, next), encoded); err != nil {
		s.storageFailed(resourceID, next, err)
		return nil, fmt.Errorf("save version %q: %w", resourceID, err)
	}

	s.indexMu.Lock()
	s.index[resourceID] = append(s.index[resourceID], next)
	err = s.persistIndexLocked(ctx)
	s.indexMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("save version %q: %w", resourceID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"action":   "version_save",
		"resource": resourceID,
		"version":  next,
		"size":     entry.Meta.Size,
	}).Debug("version saved")
	s.emit(events.Event{Type: events.VersionSaved, Key: resourceID, Version: next, Bytes: len(data)})
	return entry, nil
}

// Get 返回指定版本；version <= 0 表示最新版本。资源或版本未知时返回 nil, nil。
func (s *Store) Get(ctx context.Context, resourceID string, version int) (*Entry, error) {
	if validateResource(resourceID) != nil {
		return nil, nil
	}
	chain, err := s.chain(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("get version %q: %w", resourceID, err)
	}
	version, ok := resolve(chain, version)
	if !ok {
		return nil, nil
	}

	m, err := s.readMeta(ctx, resourceID, version)
	if err != nil {
		return nil, s.integrityFailed(resourceID, version, "metadata unreadable", err)
	}
	data, err := s.vault.Read(ctx, dataPath(resourceID, version))
	if err != nil {
		return nil, s.integrityFailed(resourceID, version, "data unreadable", err)
	}
	if len(data) != m.Size || Checksum(data) != m.Checksum {
		return nil, s.integrityFailed(resourceID, version, "checksum mismatch", nil)
	}
	return &Entry{ResourceID: resourceID, Version: version, Data: data, Meta: m}, nil
}

// History 按新到旧返回版本元数据，最多 HistoryDepth 条。元数据不可读的版本被跳过并记录告警。
func (s *Store) History(ctx context.Context, resourceID string) ([]HistoryItem, error) {
	if validateResource(resourceID) != nil {
		return nil, nil
	}
	chain, err := s.chain(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("version history %q: %w", resourceID, err)
	}

	items := make([]HistoryItem, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		if s.opts.HistoryDepth > 0 && len(items) >= s.opts.HistoryDepth {
			break
		}
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		version := chain[i]
		m, err := s.readMeta(ctx, resourceID, version)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"action":   "version_history",
				"resource": resourceID,
				"version":  version,
			}).WithError(err).Warn("skipping version with unreadable metadata")
			continue
		}
		items = append(items, HistoryItem{Version: version, Meta: m})
	}
	return items, nil
}

// Compare 基于元数据比较两个版本的大小与校验和；任一版本未知时返回 nil, nil。
func (s *Store) Compare(ctx context.Context, resourceID string, v1, v2 int) (*Comparison, error) {
	if validateResource(resourceID) != nil {
		return nil, nil
	}
	chain, err := s.chain(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("compare versions %q: %w", resourceID, err)
	}
	a, okA := resolve(chain, v1)
	b, okB := resolve(chain, v2)
	if !okA || !okB {
		return nil, nil
	}

	first, err := s.readMeta(ctx, resourceID, a)
	if err != nil {
		return nil, s.integrityFailed(resourceID, a, "metadata unreadable", err)
	}
	second, err := s.readMeta(ctx, resourceID, b)
	if err != nil {
		return nil, s.integrityFailed(resourceID, b, "metadata unreadable", err)
	}
	return &Comparison{
		ResourceID:    resourceID,
		Version1:      a,
		Version2:      b,
		Size1:         first.Size,
		Size2:         second.Size,
		SizeDiff:      second.Size - first.Size,
		ChecksumMatch: first.Size == second.Size && first.Checksum == second.Checksum,
	}, nil
}

// Versions 返回资源已知的版本号（升序）。
func (s *Store) Versions(ctx context.Context, resourceID string) ([]int, error) {
	if validateResource(resourceID) != nil {
		return nil, nil
	}
	return s.chain(ctx, resourceID)
}

// Stats 返回索引中的资源数与版本数。
func (s *Store) Stats() Stats {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	stats := Stats{Resources: len(s.index)}
	for _, chain := range s.index {
		stats.Versions += len(chain)
	}
	return stats
}

// Load 从 vault 恢复版本索引。索引损坏时以空索引启动，资源链在首次访问时从 vault 探测重建。
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.vault.Read(ctx, indexPath)
	if vault.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load version index: %w", err)
	}

	var snapshot map[string][]int
	if err := codec.Unmarshal(raw, &snapshot); err != nil {
		s.indexRecovered(fmt.Errorf("%w: %v", ErrIndexCorrupt, err))
		return nil
	}

	loaded := make(map[string][]int, len(snapshot))
	for resourceID, chain := range snapshot {
		if validateResource(resourceID) != nil || !contiguous(chain) {
			s.indexRecovered(fmt.Errorf("%w: bad chain for %q", ErrIndexCorrupt, resourceID))
			continue
		}
		loaded[resourceID] = chain
	}

	s.indexMu.Lock()
	s.index = loaded
	s.indexMu.Unlock()
	return nil
}

// Flush 持久化当前版本索引。
func (s *Store) Flush(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.persistIndexLocked(ctx)
}

// chain 返回资源的版本链；索引中没有时加锁探测 vault。
func (s *Store) chain(ctx context.Context, resourceID string) ([]int, error) {
	if chain, ok := s.cached(resourceID); ok {
		return chain, nil
	}
	unlock := s.locks.lock(resourceID)
	defer unlock()
	return s.chainLocked(ctx, resourceID)
}

// chainLocked 要求调用方持有资源锁。索引缺失该资源时从 v1 向前探测元数据，
// 保证丢失的索引不会导致版本号被重新分配。
func (s *Store) chainLocked(ctx context.Context, resourceID string) ([]int, error) {
	if chain, ok := s.cached(resourceID); ok {
		return chain, nil
	}

	var chain []int
	for version := 1; ; version++ {
		_, err := s.vault.Read(ctx, metaPath(resourceID, version))
		if vault.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, version)
	}
	if len(chain) == 0 {
		return nil, nil
	}

	s.logger.WithFields(logrus.Fields{
		"action":   "version_recover",
		"resource": resourceID,
		"versions": len(chain),
	}).Warn("version chain missing from index, recovered from vault")

	s.indexMu.Lock()
	if _, ok := s.index[resourceID]; !ok {
		s.index[resourceID] = chain
	}
	result := append([]int(nil), s.index[resourceID]...)
	s.indexMu.Unlock()
	return result, nil
}

func (s *Store) cached(resourceID string) ([]int, bool) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	chain, ok := s.index[resourceID]
	if !ok {
		return nil, false
	}
	return append([]int(nil), chain...), true
}

func (s *Store) persistIndexLocked(ctx context.Context) error {
	encoded, err := codec.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("encode version index: %w", err)
	}
	if err := s.vault.Write(ctx, indexPath, encoded); err != nil {
		s.storageFailed(indexPath, 0, err)
		return fmt.Errorf("persist version index: %w", err)
	}
	return nil
}

func (s *Store) readMeta(ctx context.Context, resourceID string, version int) (Meta, error) {
	raw, err := s.vault.Read(ctx, metaPath(resourceID, version))
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := codec.Unmarshal(raw, &m); err != nil {
		return Meta{}, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func (s *Store) integrityFailed(resourceID string, version int, reason string, err error) error {
	integrityErr := &IntegrityError{ResourceID: resourceID, Version: version, Reason: reason, Err: err}
	s.logger.WithFields(logrus.Fields{
		"action":   "version_verify",
		"resource": resourceID,
		"version":  version,
	}).WithError(integrityErr).Error("version failed integrity check")
	s.emit(events.Event{Type: events.IntegrityFailed, Key: resourceID, Version: version, Reason: reason, Err: integrityErr})
	return integrityErr
}

func (s *Store) storageFailed(resourceID string, version int, err error) {
	s.logger.WithFields(logrus.Fields{
		"action":   "version_save",
		"resource": resourceID,
		"version":  version,
	}).WithError(err).Error("vault operation failed")
	s.emit(events.Event{Type: events.StorageFailed, Key: resourceID, Version: version, Err: err})
}

func (s *Store) indexRecovered(err error) {
	s.logger.WithFields(logrus.Fields{
		"action": "index_recover",
		"index":  indexPath,
	}).WithError(err).Warn("version index unreadable, rebuilding lazily")
	s.emit(events.Event{Type: events.IndexRecovered, Key: indexPath, Err: err})
}

func (s *Store) emit(e events.Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.observer.Observe(e)
}

// resolve 把请求的版本号映射到链上的版本；version <= 0 表示最新。
func resolve(chain []int, version int) (int, bool) {
	if len(chain) == 0 {
		return 0, false
	}
	if version <= 0 {
		return chain[len(chain)-1], true
	}
	i := sort.SearchInts(chain, version)
	if i < len(chain) && chain[i] == version {
		return version, true
	}
	return 0, false
}

// contiguous 判断链是否恰为 1..n。
func contiguous(chain []int) bool {
	for i, version := range chain {
		if version != i+1 {
			return false
		}
	}
	return true
}
