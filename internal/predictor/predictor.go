package predictor

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxSamples = 1000
	defaultTopK       = 5
)

// Options 控制历史样本的容量与预测数量。
type Options struct {
	// MaxSamples 是每个用户保留的样本上限，超出时丢弃最旧的样本。
	MaxSamples int
	// MaxSampleAge 为 0 时不按时间修剪。
	MaxSampleAge time.Duration
	TopK         int
	Now          func() time.Time
}

// Sample 是一次访问记录：上下文资源加上被访问的资源。
type Sample struct {
	Resources []string
	Count     int
	At        time.Time
}

// Predictor 维护每个用户的访问样本。
type Predictor struct {
	opts Options

	mu    sync.RWMutex
	users map[string][]Sample
}

// New 创建预测器，未设置的选项取默认值。
func New(opts Options) *Predictor {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = defaultMaxSamples
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.MaxSampleAge < 0 {
		opts.MaxSampleAge = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Predictor{opts: opts, users: make(map[string][]Sample)}
}

// RecordAccess 记录 userID 在 related 资源的上下文中访问了 resourceID。
// 与上一条样本资源集合相同时只累加计数。
func (p *Predictor) RecordAccess(userID, resourceID string, related []string) {
	userID = strings.TrimSpace(userID)
	resourceID = strings.TrimSpace(resourceID)
	if userID == "" || resourceID == "" {
		return
	}
	resources := dedupe(append(append([]string(nil), related...), resourceID))
	now := p.opts.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	samples := p.prune(p.users[userID], now)
	if n := len(samples); n > 0 && sameResources(samples[n-1].Resources, resources) {
		samples[n-1].Count++
		samples[n-1].At = now
	} else {
		samples = append(samples, Sample{Resources: resources, Count: 1, At: now})
	}
	if overflow := len(samples) - p.opts.MaxSamples; overflow > 0 {
		samples = append([]Sample(nil), samples[overflow:]...)
	}
	p.users[userID] = samples
}

// PredictNext 按与 current 的重叠度为历史样本中的其他资源打分，返回得分最高的 TopK 个；
// 同分按资源 id 升序。
func (p *Predictor) PredictNext(userID string, current []string) []string {
	inContext := make(map[string]struct{}, len(current))
	for _, id := range current {
		if id = strings.TrimSpace(id); id != "" {
			inContext[id] = struct{}{}
		}
	}
	if len(inContext) == 0 {
		return nil
	}

	scores := make(map[string]int)
	p.mu.RLock()
	for _, sample := range p.users[strings.TrimSpace(userID)] {
		overlap := 0
		for _, id := range sample.Resources {
			if _, ok := inContext[id]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		for _, id := range sample.Resources {
			if _, ok := inContext[id]; ok {
				continue
			}
			scores[id] += overlap * sample.Count
		}
	}
	p.mu.RUnlock()

	ranked := make([]string, 0, len(scores))
	for id := range scores {
		ranked = append(ranked, id)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > p.opts.TopK {
		ranked = ranked[:p.opts.TopK]
	}
	return ranked
}

// Samples 返回用户样本的副本。
func (p *Predictor) Samples(userID string) []Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	samples := p.users[userID]
	out := make([]Sample, len(samples))
	for i, sample := range samples {
		sample.Resources = append([]string(nil), sample.Resources...)
		out[i] = sample
	}
	return out
}

// PatternCount 返回全部用户的样本总数。
func (p *Predictor) PatternCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, samples := range p.users {
		total += len(samples)
	}
	return total
}

// UserCount 返回有记录的用户数。
func (p *Predictor) UserCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}

func (p *Predictor) prune(samples []Sample, now time.Time) []Sample {
	if p.opts.MaxSampleAge <= 0 || len(samples) == 0 {
		return samples
	}
	cutoff := now.Add(-p.opts.MaxSampleAge)
	i := 0
	for i < len(samples) && samples[i].At.Before(cutoff) {
		i++
	}
	if i == 0 {
		return samples
	}
	return append([]Sample(nil), samples[i:]...)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sameResources(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
