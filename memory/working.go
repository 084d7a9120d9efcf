package memory

import (
	"sync"
	"time"
)

// WorkingItem is one entry of an agent's working memory.
type WorkingItem struct {
	Key   string
	Value any
	SetAt time.Time
}

// workingMemory is a process-local agent -> key -> item map protected by
// an RWMutex. Nothing here survives a restart.
type workingMemory struct {
	mu    sync.RWMutex
	items map[string]map[string]WorkingItem
}

func newWorkingMemory() *workingMemory {
	return &workingMemory{items: make(map[string]map[string]WorkingItem)}
}

func (w *workingMemory) set(agent, key string, value any, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agentItems, ok := w.items[agent]
	if !ok {
		agentItems = make(map[string]WorkingItem)
		w.items[agent] = agentItems
	}
	agentItems[key] = WorkingItem{Key: key, Value: value, SetAt: at}
}

func (w *workingMemory) get(agent, key string) (WorkingItem, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	item, ok := w.items[agent][key]
	return item, ok
}

func (w *workingMemory) forget(agent, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.items[agent], key)
	if len(w.items[agent]) == 0 {
		delete(w.items, agent)
	}
}

func (w *workingMemory) clear(agent string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.items, agent)
}

// snapshot returns a shallow copy of the agent's working memory.
func (w *workingMemory) snapshot(agent string) map[string]WorkingItem {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]WorkingItem, len(w.items[agent]))
	for k, v := range w.items[agent] {
		out[k] = v
	}
	return out
}
