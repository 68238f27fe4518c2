package jsondoc

import (
	"idxtmpl/internal/domain"
)

// ToolDocument is a per-tool mapping fragment. Loading sequesters its _meta so that
// Merge can lift the version into a copy of the shared skeleton.
type ToolDocument struct {
	*Document
	meta   map[string]any
	merged bool
}

// NewTool resolves a tool fragment path and records its modification time.
func NewTool(path string) (*ToolDocument, error) {
	doc, err := New(path)
	if err != nil {
		return nil, err
	}
	return &ToolDocument{Document: doc}, nil
}

// Load reads the fragment once and moves _meta out of the body.
func (t *ToolDocument) Load() (bool, error) {
	if t.body != nil {
		return true, nil
	}
	body, err := readObject(t.path)
	if err != nil {
		return false, err
	}
	meta, ok := body[domain.MetaKey].(map[string]any)
	if !ok {
		return false, domain.Errorf(domain.CodeSchema, "jsondoc.load", "mapping missing '%s' in %s", domain.MetaKey, t.source())
	}
	delete(body, domain.MetaKey)
	t.meta = meta
	t.body = body
	return false, nil
}

// Meta returns the sequestered metadata, nil before Load.
func (t *ToolDocument) Meta() map[string]any {
	return t.meta
}

// Version returns the version from the sequestered metadata.
func (t *ToolDocument) Version() (string, error) {
	if t.meta == nil {
		return "", domain.Errorf(domain.CodeFailedPrecond, "jsondoc.version", "%s: not loaded", t.source())
	}
	return versionOf(t.meta, t.source())
}

// Merge replaces the body with a deep copy of base carrying this fragment's metadata,
// with the fragment nested under properties[name]. base is never modified.
func (t *ToolDocument) Merge(name string, base *Document) error {
	if t.merged {
		return nil
	}
	if t.body == nil {
		return domain.Errorf(domain.CodeFailedPrecond, "jsondoc.merge", "%s: not loaded", t.source())
	}
	if base == nil || base.body == nil {
		return domain.Errorf(domain.CodeFailedPrecond, "jsondoc.merge", "skeleton for %s not loaded", t.source())
	}
	merged := deepCopyMap(base.body)
	merged[domain.MetaKey] = deepCopyMap(t.meta)
	sub := t.body
	t.body = merged
	if err := t.AddMapping(name, sub); err != nil {
		t.body = sub
		return domain.Errorf(domain.CodeSchema, "jsondoc.merge", "skeleton missing '%s' for %s", domain.PropertiesKey, t.source())
	}
	t.merged = true
	return nil
}

var _ Mapping = (*Document)(nil)
var _ Mapping = (*ToolDocument)(nil)
