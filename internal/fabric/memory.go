package fabric

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryFabric is the single-process implementation used in tests.
// Publishes deliver synchronously in call order, which satisfies the
// per-group FIFO guarantee trivially.
type MemoryFabric struct {
	mu     sync.Mutex
	groups map[string]map[Subscriber]bool
}

func NewMemory() *MemoryFabric {
	return &MemoryFabric{groups: make(map[string]map[Subscriber]bool)}
}

func (f *MemoryFabric) Join(group string, sub Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[group] == nil {
		f.groups[group] = make(map[Subscriber]bool)
	}
	f.groups[group][sub] = true
}

func (f *MemoryFabric) Leave(group string, sub Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], sub)
	if len(f.groups[group]) == 0 {
		delete(f.groups, group)
	}
}

func (f *MemoryFabric) Publish(_ context.Context, group string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f.mu.Lock()
	subs := make([]Subscriber, 0, len(f.groups[group]))
	for sub := range f.groups[group] {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Deliver(payload)
	}
	return nil
}
