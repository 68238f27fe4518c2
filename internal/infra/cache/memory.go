package cache

import (
	"context"
	"sort"
	"sync"

	"idxtmpl/internal/domain"
)

// MemoryStore is a process-local template cache with the same semantics as the
// persistent stores.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	names   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]domain.CacheEntry),
		names:   make(map[string]string),
	}
}

func (s *MemoryStore) Find(ctx context.Context, name string) (domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.CacheEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok {
		return domain.CacheEntry{}, domain.CacheNotFound(name)
	}
	return cloneEntry(entry), nil
}

func (s *MemoryStore) Create(ctx context.Context, entry domain.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.Name]; ok {
		return domain.CacheDuplicate(entry.Name)
	}
	if _, ok := s.names[entry.TemplateName]; ok {
		return domain.CacheDuplicate(entry.TemplateName)
	}
	s.put(entry)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, entry domain.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[entry.Name]
	if !ok {
		return domain.CacheNotFound(entry.Name)
	}
	if !existing.MTime.Before(entry.MTime) {
		return domain.CacheConflict(entry.Name)
	}
	if existing.TemplateName != entry.TemplateName {
		if owner, ok := s.names[entry.TemplateName]; ok && owner != entry.Name {
			return domain.CacheDuplicate(entry.TemplateName)
		}
		delete(s.names, existing.TemplateName)
	}
	s.put(entry)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CacheEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, cloneEntry(entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) put(entry domain.CacheEntry) {
	entry = cloneEntry(entry)
	entry.MTime = entry.MTime.UTC()
	s.entries[entry.Name] = entry
	s.names[entry.TemplateName] = entry.Name
}

func cloneEntry(entry domain.CacheEntry) domain.CacheEntry {
	entry.Settings = append([]byte(nil), entry.Settings...)
	entry.Mappings = append([]byte(nil), entry.Mappings...)
	return entry
}

var _ domain.TemplateCache = (*MemoryStore)(nil)
