package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var globalRegistry = newRegistry()

func init() {
	globalRegistry.mustRegister(Profile{
		Key:           Aggressive,
		Description:   "long-lived entries, evict only what overflows",
		DefaultTTL:    24 * time.Hour,
		LowWatermark:  1,
		SweepInterval: 10 * time.Minute,
	})
	globalRegistry.mustRegister(Profile{
		Key:           Balanced,
		Description:   "six hour default ttl, evict only what overflows",
		DefaultTTL:    6 * time.Hour,
		LowWatermark:  1,
		SweepInterval: 5 * time.Minute,
	})
	globalRegistry.mustRegister(Profile{
		Key:           Conservative,
		Description:   "short ttl, evict down to 80% of capacity",
		DefaultTTL:    time.Hour,
		LowWatermark:  0.8,
		SweepInterval: time.Minute,
	})
}

type registry struct {
	mu       sync.RWMutex
	profiles map[Key]Profile
}

func newRegistry() *registry {
	return &registry{profiles: make(map[Key]Profile)}
}

// Register 将档位加入全局注册表，重复键会返回错误。
func Register(profile Profile) error {
	return globalRegistry.register(profile)
}

// Lookup 返回指定名称的档位，名称大小写不敏感。
func Lookup(name string) (Profile, bool) {
	return globalRegistry.resolve(Key(name))
}

// List 返回按键排序的档位列表。
func List() []Profile {
	return globalRegistry.list()
}

// Keys 返回所有已注册档位名称，供配置校验提示使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, p := range items {
		result[i] = string(p.Key)
	}
	return result
}

func normalizeKey(key Key) Key {
	return Key(strings.ToLower(strings.TrimSpace(string(key))))
}

func (r *registry) register(profile Profile) error {
	key := normalizeKey(profile.Key)
	if key == "" {
		return fmt.Errorf("strategy key is required")
	}
	profile.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[key]; exists {
		return fmt.Errorf("strategy %s already registered", key)
	}
	r.profiles[key] = normalize(profile)
	return nil
}

func (r *registry) mustRegister(profile Profile) {
	if err := r.register(profile); err != nil {
		panic(err)
	}
}

func (r *registry) resolve(key Key) (Profile, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Profile{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[normalized]
	return p, ok
}

func (r *registry) list() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.profiles))
	for key := range r.profiles {
		keys = append(keys, string(key))
	}
	sort.Strings(keys)

	result := make([]Profile, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.profiles[Key(key)])
	}
	return result
}
