package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Factory creates a Notifier from its settings (webhook_url, ...).
type Factory func(config map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a notifier factory available by name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a new Notifier by name using the registered factory.
func New(name string, config map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q", name)
	}
	return factory(config)
}

// Available returns the names of all registered notifiers, sorted.
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

// Fanout sends every notification to all of its notifiers.
type Fanout []Notifier

// Send delivers n to every notifier and joins their errors.
func (f Fanout) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range f {
		if err := nt.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nt.Name(), err))
		}
	}
	return errors.Join(errs...)
}
