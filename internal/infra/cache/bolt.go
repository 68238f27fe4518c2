package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"idxtmpl/internal/domain"
)

var ErrStoreClosed = errors.New("template cache is closed")

var (
	entryEncoder, _ = zstd.NewWriter(nil)
	entryDecoder, _ = zstd.NewReader(nil)
)

// BoltStore keeps template cache entries in a bbolt file. Entries are JSON encoded
// and zstd compressed; a secondary bucket enforces unique template names.
type BoltStore struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

func OpenBoltStore(path string) (*BoltStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	options := &bolt.Options{Timeout: time.Second}
	base, err := bolt.Open(trimmed, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := ensureSchema(base); err != nil {
		_ = base.Close()
		return nil, err
	}
	return &BoltStore{db: base, path: trimmed}, nil
}

func (s *BoltStore) Path() string {
	return s.path
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BoltStore) Find(ctx context.Context, name string) (domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.CacheEntry{}, err
	}
	var entry domain.CacheEntry
	err := s.view(func(tx *bolt.Tx) error {
		entries, _, err := buckets(tx)
		if err != nil {
			return err
		}
		raw := entries.Get([]byte(name))
		if raw == nil {
			return domain.CacheNotFound(name)
		}
		entry, err = decodeEntry(raw)
		return err
	})
	if err != nil {
		return domain.CacheEntry{}, wrapStoreError("finding", name, err)
	}
	return entry, nil
}

func (s *BoltStore) Create(ctx context.Context, entry domain.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	err := s.update(func(tx *bolt.Tx) error {
		entries, names, err := buckets(tx)
		if err != nil {
			return err
		}
		if entries.Get([]byte(entry.Name)) != nil {
			return domain.CacheDuplicate(entry.Name)
		}
		if names.Get([]byte(entry.TemplateName)) != nil {
			return domain.CacheDuplicate(entry.TemplateName)
		}
		return putEntry(entries, names, entry)
	})
	return wrapStoreError("adding", entry.Name, err)
}

func (s *BoltStore) Update(ctx context.Context, entry domain.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	err := s.update(func(tx *bolt.Tx) error {
		entries, names, err := buckets(tx)
		if err != nil {
			return err
		}
		raw := entries.Get([]byte(entry.Name))
		if raw == nil {
			return domain.CacheNotFound(entry.Name)
		}
		existing, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		if !existing.MTime.Before(entry.MTime) {
			return domain.CacheConflict(entry.Name)
		}
		if existing.TemplateName != entry.TemplateName {
			if owner := names.Get([]byte(entry.TemplateName)); owner != nil && string(owner) != entry.Name {
				return domain.CacheDuplicate(entry.TemplateName)
			}
			if err := names.Delete([]byte(existing.TemplateName)); err != nil {
				return err
			}
		}
		return putEntry(entries, names, entry)
	})
	return wrapStoreError("updating", entry.Name, err)
}

func (s *BoltStore) List(ctx context.Context) ([]domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.CacheEntry
	err := s.view(func(tx *bolt.Tx) error {
		entries, _, err := buckets(tx)
		if err != nil {
			return err
		}
		return entries.ForEach(func(_, value []byte) error {
			entry, err := decodeEntry(value)
			if err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, wrapStoreError("listing", "*", err)
	}
	return out, nil
}

func (s *BoltStore) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *BoltStore) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	root := tx.Bucket([]byte(rootBucketName))
	if root == nil {
		return nil, nil, fmt.Errorf("missing root bucket")
	}
	entries := root.Bucket([]byte(entriesBucketName))
	if entries == nil {
		return nil, nil, fmt.Errorf("missing entries bucket")
	}
	names := root.Bucket([]byte(templateNamesBucketName))
	if names == nil {
		return nil, nil, fmt.Errorf("missing template names bucket")
	}
	return entries, names, nil
}

func putEntry(entries, names *bolt.Bucket, entry domain.CacheEntry) error {
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := entries.Put([]byte(entry.Name), raw); err != nil {
		return fmt.Errorf("write entry %s: %w", entry.Name, err)
	}
	if err := names.Put([]byte(entry.TemplateName), []byte(entry.Name)); err != nil {
		return fmt.Errorf("write template name %s: %w", entry.TemplateName, err)
	}
	return nil
}

func encodeEntry(entry domain.CacheEntry) ([]byte, error) {
	entry.MTime = entry.MTime.UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: %w", entry.Name, err)
	}
	return entryEncoder.EncodeAll(data, nil), nil
}

func decodeEntry(raw []byte) (domain.CacheEntry, error) {
	data, err := entryDecoder.DecodeAll(raw, nil)
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decompress entry: %w", err)
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	return entry, nil
}

var _ domain.TemplateCache = (*BoltStore)(nil)
