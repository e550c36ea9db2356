// Package tags accumulates the project tags seen during a session.
package tags

import (
	"slices"
	"sync"
)

// Index is a sorted, deduplicated set of tags that only grows. Removing a tag
// from one entity does not retract it from the index.
type Index struct {
	mu   sync.RWMutex
	tags []string
}

// Observe inserts every tag not already present and reports whether the
// index changed. Empty tags are ignored.
func (i *Index) Observe(tags ...string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	changed := false
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		pos, found := slices.BinarySearch(i.tags, tag)
		if found {
			continue
		}
		i.tags = slices.Insert(i.tags, pos, tag)
		changed = true
	}
	return changed
}

// Tags returns a sorted copy of the index.
func (i *Index) Tags() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.tags)
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.tags)
}

func (i *Index) Contains(tag string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, found := slices.BinarySearch(i.tags, tag)
	return found
}
