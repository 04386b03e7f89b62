package cache

import "sort"

// tagIndex 维护 tag -> key 集合；调用方负责加锁。
type tagIndex struct {
	tags map[string]map[string]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{tags: make(map[string]map[string]struct{})}
}

func (ix *tagIndex) add(tag, key string) bool {
	keys := ix.tags[tag]
	if keys == nil {
		keys = make(map[string]struct{})
		ix.tags[tag] = keys
	}
	if _, ok := keys[key]; ok {
		return false
	}
	keys[key] = struct{}{}
	return true
}

func (ix *tagIndex) remove(tag, key string) bool {
	keys := ix.tags[tag]
	if keys == nil {
		return false
	}
	if _, ok := keys[key]; !ok {
		return false
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(ix.tags, tag)
	}
	return true
}

// removeKey 在所有 tag 中删除 key，用于标签未知时的修剪。
func (ix *tagIndex) removeKey(key string) bool {
	changed := false
	for tag := range ix.tags {
		if ix.remove(tag, key) {
			changed = true
		}
	}
	return changed
}

func (ix *tagIndex) keys(tag string) []string {
	keys := ix.tags[tag]
	result := make([]string, 0, len(keys))
	for key := range keys {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

// trackedKeys 返回索引中出现过的全部 key（去重、排序）。
func (ix *tagIndex) trackedKeys() []string {
	seen := make(map[string]struct{})
	for _, keys := range ix.tags {
		for key := range keys {
			seen[key] = struct{}{}
		}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

func (ix *tagIndex) len() int {
	return len(ix.tags)
}

func (ix *tagIndex) snapshot() map[string][]string {
	result := make(map[string][]string, len(ix.tags))
	for tag := range ix.tags {
		result[tag] = ix.keys(tag)
	}
	return result
}

func (ix *tagIndex) load(snapshot map[string][]string) {
	ix.tags = make(map[string]map[string]struct{}, len(snapshot))
	for tag, keys := range snapshot {
		for _, key := range keys {
			ix.add(tag, key)
		}
	}
}
