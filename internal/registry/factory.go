package registry

import "fmt"

// New constructs a Registry of the named type ("memory" or "redis"),
// matching the REGISTRY_TYPE environment variable of spec.md §6.
func New(registryType string, cfg Config) (Registry, error) {
	switch registryType {
	case "", TypeMemory:
		return NewMemory(cfg), nil
	case TypeRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("registry: unknown registry type %q", registryType)
	}
}
