package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CacheEntry is the persisted form of a resolved template.
type CacheEntry struct {
	Name            string          `json:"name"`
	IndexName       string          `json:"idxname"`
	TemplateName    string          `json:"template_name"`
	File            string          `json:"file"`
	TemplatePattern string          `json:"template_pattern"`
	IndexTemplate   string          `json:"index_template"`
	Settings        json.RawMessage `json:"settings"`
	Mappings        json.RawMessage `json:"mappings"`
	Version         string          `json:"version"`
	MTime           time.Time       `json:"mtime"`
	Digest          string          `json:"digest,omitempty"`
}

func (c CacheEntry) String() string {
	return fmt.Sprintf("%s: %s", c.Name, c.IndexTemplate)
}

// FreshFor reports whether the entry is not older than the given source modification time.
func (c CacheEntry) FreshFor(modified time.Time) bool {
	return !c.MTime.Before(modified)
}

// TemplateCache persists resolved templates keyed by logical name.
//
// Create fails with ErrTemplateDuplicate if either the name or the template name is taken.
// Update replaces the row for entry.Name only when the stored MTime is strictly older than
// entry.MTime, failing with ErrCacheConflict otherwise, so a fresher row is never regressed.
type TemplateCache interface {
	Find(ctx context.Context, name string) (CacheEntry, error)
	Create(ctx context.Context, entry CacheEntry) error
	Update(ctx context.Context, entry CacheEntry) error
	List(ctx context.Context) ([]CacheEntry, error)
	Close() error
}

// CacheSQLError reports a persistence failure in the style "Error <op> index <name>".
func CacheSQLError(operation, name string, cause error) *Error {
	return &Error{
		Code:    CodeCache,
		Op:      "cache." + operation,
		Message: fmt.Sprintf("Error %s index %s", operation, name),
		Cause:   cause,
		Meta:    map[string]string{"name": name},
	}
}

// CacheNotFound reports a missing template row.
func CacheNotFound(name string) *Error {
	return Errorf(CodeNotFound, "cache.find", "No template %s", name)
}

// CacheDuplicate reports an attempt to create an existing template row.
func CacheDuplicate(name string) *Error {
	return Errorf(CodeAlreadyExists, "cache.create", "Duplicate template %s", name)
}

// CacheConflict reports a conditional update that lost to a fresher row.
func CacheConflict(name string) *Error {
	return Errorf(CodeConflict, "cache.update", "template %s has a newer cached version", name)
}
