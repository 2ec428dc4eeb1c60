package provider

import (
	"fmt"
	"sync"

	"github.com/bliqhq/bliq/internal/types"
)

// Constructor creates a Provider. Implementations register one with
// Register().
type Constructor func(opts Options) (Provider, error)

// registry maps services to their constructors
var (
	registry      = make(map[types.Service]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a provider constructor.
// This is called from init() functions in implementation packages.
//
// Example:
//
//	func init() {
//	    provider.Register(types.ServiceGitHub, New)
//	}
func Register(service types.Service, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("provider: Register constructor is nil for service %s", service))
	}

	if _, exists := registry[service]; exists {
		panic(fmt.Sprintf("provider: Register called twice for service %s", service))
	}

	registry[service] = constructor
}

func getConstructor(service types.Service) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[service]
}

// IsRegistered returns true if a constructor is registered for service.
func IsRegistered(service types.Service) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[service]
	return exists
}

// Services returns the registered services in sync order.
func Services() []types.Service {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	out := make([]types.Service, 0, len(registry))
	for _, s := range types.Services {
		if _, ok := registry[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// New builds the provider registered for service.
func New(service types.Service, opts Options) (Provider, error) {
	ctor := getConstructor(service)
	if ctor == nil {
		return nil, fmt.Errorf("%w: no provider registered for %q", ErrUnsupported, service)
	}
	return ctor(opts)
}

// UnregisterAll clears all registered constructors.
// This is primarily useful for testing.
func UnregisterAll() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry = make(map[types.Service]Constructor)
}

// Set holds one provider per service.
type Set map[types.Service]Provider

// NewSet builds every registered provider, taking per-service options from
// opts (missing entries use zero Options).
func NewSet(opts map[types.Service]Options) (Set, error) {
	set := make(Set)
	for _, svc := range Services() {
		p, err := New(svc, opts[svc])
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", svc, err)
		}
		set[svc] = p
	}
	return set, nil
}

// Get returns the provider for service.
func (s Set) Get(service types.Service) (Provider, error) {
	p, ok := s[service]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: no provider for %q", ErrUnsupported, service)
	}
	return p, nil
}
