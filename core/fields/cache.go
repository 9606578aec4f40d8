// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package fields

import (
	"reflect"
	"sort"
	"sync"
)

// Cache is an in-memory cache of compiled schemas per resource.
//
// Schemas are compiled outside of the lock and swapped in as a whole, so
// readers always see either the previous or the new compiled schema.
// This type is go-routine safe.
type Cache struct {
	mutex sync.RWMutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	descriptors []Descriptor
	compiled    *Compiled
}

// NewCache creates a new, empty cache
func NewCache() *Cache {
	return &Cache{cache: make(map[string]*cacheEntry)}
}

// Read returns the compiled schema of resource, or nil
func (c *Cache) Read(resource string) *Compiled {
	c.mutex.RLock()
	entry, ok := c.cache[resource]
	c.mutex.RUnlock()
	if ok {
		return entry.compiled
	}
	return nil
}

// Update compiles descriptors and stores the result for resource. If the
// descriptors did not change, the cached schema is returned unchanged. On
// error the cache keeps the previous schema.
func (c *Cache) Update(resource string, descriptors []Descriptor) (*Compiled, error) {
	normalized := normalizeDescriptors(descriptors)

	c.mutex.RLock()
	entry, ok := c.cache[resource]
	c.mutex.RUnlock()
	if ok && reflect.DeepEqual(entry.descriptors, normalized) {
		return entry.compiled, nil
	}

	compiled, err := Compile(descriptors)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	c.cache[resource] = &cacheEntry{descriptors: normalized, compiled: compiled}
	c.mutex.Unlock()
	return compiled, nil
}

// Delete removes resource from the cache
func (c *Cache) Delete(resource string) {
	c.mutex.Lock()
	delete(c.cache, resource)
	c.mutex.Unlock()
}

// Resources returns the sorted names of all cached resources
func (c *Cache) Resources() []string {
	c.mutex.RLock()
	resources := make([]string, 0, len(c.cache))
	for resource := range c.cache {
		resources = append(resources, resource)
	}
	c.mutex.RUnlock()
	sort.Strings(resources)
	return resources
}

func normalizeDescriptors(descriptors []Descriptor) []Descriptor {
	normalized := append([]Descriptor{}, descriptors...)
	sort.SliceStable(normalized, func(i, j int) bool {
		return normalized[i].Name < normalized[j].Name
	})
	return normalized
}
