package strategy

import "time"

// Key 是策略档位名称。
type Key string

const (
	Aggressive   Key = "aggressive"
	Balanced     Key = "balanced"
	Conservative Key = "conservative"
)

// DefaultKey 返回未配置时使用的档位。
func DefaultKey() Key {
	return Balanced
}

// Profile 描述一个档位的缓存行为。
type Profile struct {
	Key         Key
	Description string
	// DefaultTTL 为 0 表示条目默认不过期。
	DefaultTTL time.Duration
	// LowWatermark 是超出容量时回收到的目标比例 (0,1]，1 表示只回收超出部分。
	LowWatermark  float64
	SweepInterval time.Duration
}

// Options 描述来自配置的覆盖项。
type Options struct {
	TTLOverride   time.Duration
	SweepOverride time.Duration
}

// Resolve 将档位默认值与覆盖项合并。
func Resolve(profile Profile, opts Options) Profile {
	if opts.TTLOverride > 0 {
		profile.DefaultTTL = opts.TTLOverride
	}
	if opts.SweepOverride > 0 {
		profile.SweepInterval = opts.SweepOverride
	}
	return normalize(profile)
}

func normalize(profile Profile) Profile {
	if profile.DefaultTTL < 0 {
		profile.DefaultTTL = 0
	}
	if profile.LowWatermark <= 0 || profile.LowWatermark > 1 {
		profile.LowWatermark = 1
	}
	if profile.SweepInterval <= 0 {
		profile.SweepInterval = 5 * time.Minute
	}
	return profile
}

// Target 返回容量 max 下一次回收应保留的条目数，至少为 1。
func (p Profile) Target(max int) int {
	target := int(float64(max) * p.LowWatermark)
	if target < 1 {
		target = 1
	}
	if target > max {
		target = max
	}
	return target
}
