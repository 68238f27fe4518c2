package domain

import (
	"context"
	"time"
)

// TemplateBody is the payload that registers a template with the document store.
type TemplateBody struct {
	IndexPatterns string         `json:"index_patterns" yaml:"index_patterns"`
	Settings      map[string]any `json:"settings" yaml:"settings"`
	Mappings      map[string]any `json:"mappings" yaml:"mappings"`
}

// PutResult reports the timing and retry count of one template registration.
type PutResult struct {
	Start   time.Time
	End     time.Time
	Retries int
	Status  int
}

// IndexStore registers index templates with the external document store.
type IndexStore interface {
	PutTemplate(ctx context.Context, name string, alias string, body TemplateBody) (PutResult, error)
}

// FieldSource is a document that supports top-level field lookup.
type FieldSource interface {
	Field(name string) (any, bool)
}
