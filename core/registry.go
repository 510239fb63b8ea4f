package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type BrokerRegistry struct {
	mu      sync.RWMutex
	brokers map[string]BrokerDescriptor
}

func NewBrokerRegistry() *BrokerRegistry {
	return &BrokerRegistry{brokers: make(map[string]BrokerDescriptor)}
}

func (r *BrokerRegistry) Register(descriptor BrokerDescriptor) error {
	id := normalizeBrokerKey(descriptor.ID)
	if id == "" {
		return fmt.Errorf("core: broker id is required")
	}
	if descriptor.Factory == nil {
		return fmt.Errorf("core: broker %s adapter factory is required", id)
	}
	if descriptor.AuthKind == "" {
		descriptor.AuthKind = AuthKindOAuth2
	}
	if descriptor.AuthKind == AuthKindOAuth2 && descriptor.OAuth == nil {
		return fmt.Errorf("core: broker %s oauth provider is required", id)
	}
	descriptor.ID = id
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.brokers[id]; exists {
		return fmt.Errorf("core: broker already registered: %s", id)
	}
	r.brokers[id] = descriptor
	return nil
}

func (r *BrokerRegistry) Get(brokerKey string) (BrokerDescriptor, bool) {
	id := normalizeBrokerKey(brokerKey)
	if id == "" {
		return BrokerDescriptor{}, false
	}
	r.mu.RLock()
	descriptor, ok := r.brokers[id]
	r.mu.RUnlock()
	return descriptor, ok
}

func (r *BrokerRegistry) List() []BrokerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.brokers))
	for id := range r.brokers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	out := make([]BrokerDescriptor, 0, len(keys))
	for _, id := range keys {
		out = append(out, r.brokers[id])
	}
	return out
}

func normalizeBrokerKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
