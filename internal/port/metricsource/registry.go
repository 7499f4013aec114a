package metricsource

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a Source from its platform settings (base_url, tokens, ...).
type Factory func(config map[string]string) (Source, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a metric source factory available under a platform name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("metricsource: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates the Source registered for platform.
func New(platform string, config map[string]string) (Source, error) {
	mu.RLock()
	factory, ok := factories[platform]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("metricsource: no source for platform %q", platform)
	}
	return factory(config)
}

// Available returns the registered platform names, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registered reports whether a source exists for platform.
func Registered(platform string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[platform]
	return ok
}
