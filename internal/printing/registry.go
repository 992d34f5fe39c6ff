package printing

import (
	"context"
	"sync"
	"time"

	"caixafacil/backend/internal/domain"
)

type clientEntry struct {
	printers  []domain.ClientPrinter
	updatedAt time.Time
}

// MemoryClientRegistry keeps the last printer list reported by each client
// device, keyed by tenant and client id. It holds at most maxClients devices, evicting the stalest, and
// forgets a device after ttl without a new report.
type MemoryClientRegistry struct {
	mu         sync.Mutex
	entries    map[string]clientEntry
	maxClients int
	ttl        time.Duration
	now        func() time.Time
}

func NewMemoryClientRegistry(maxClients int, ttl time.Duration) *MemoryClientRegistry {
	if maxClients < 1 {
		maxClients = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryClientRegistry{
		entries:    make(map[string]clientEntry),
		maxClients: maxClients,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (r *MemoryClientRegistry) Put(_ context.Context, tenantID string, clientID string, printers []domain.ClientPrinter) error {
	key := registryKey(tenantID, clientID)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if _, exists := r.entries[key]; !exists && len(r.entries) >= r.maxClients {
		r.evictLocked(now)
	}
	copied := make([]domain.ClientPrinter, len(printers))
	copy(copied, printers)
	r.entries[key] = clientEntry{printers: copied, updatedAt: now}
	return nil
}

func (r *MemoryClientRegistry) Get(_ context.Context, tenantID string, clientID string) ([]domain.ClientPrinter, bool, error) {
	key := registryKey(tenantID, clientID)
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil, false, nil
	}
	if r.now().Sub(entry.updatedAt) > r.ttl {
		delete(r.entries, key)
		return nil, false, nil
	}
	copied := make([]domain.ClientPrinter, len(entry.printers))
	copy(copied, entry.printers)
	return copied, true, nil
}

func (r *MemoryClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evictLocked drops expired devices, or the stalest one when none expired.
func (r *MemoryClientRegistry) evictLocked(now time.Time) {
	oldestID := ""
	var oldest time.Time
	for id, entry := range r.entries {
		if now.Sub(entry.updatedAt) > r.ttl {
			delete(r.entries, id)
			continue
		}
		if oldestID == "" || entry.updatedAt.Before(oldest) {
			oldestID, oldest = id, entry.updatedAt
		}
	}
	if len(r.entries) >= r.maxClients && oldestID != "" {
		delete(r.entries, oldestID)
	}
}

func registryKey(tenantID string, clientID string) string {
	return tenantID + "|" + clientID
}
