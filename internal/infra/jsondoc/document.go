// Package jsondoc loads the JSON mapping and settings files that make up index templates.
package jsondoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"idxtmpl/internal/domain"
)

const cachedSource = "<cached>"

// Mapping is the behaviour shared by plain and tool mapping documents.
type Mapping interface {
	Load() (bool, error)
	Version() (string, error)
	Merge(name string, base *Document) error
	AddMapping(name string, body map[string]any) error
	Body() map[string]any
	Path() string
	Modified() time.Time
	Loaded() bool
}

// Document is a single JSON file, either a mapping or a settings file.
// The body is read at most once.
type Document struct {
	path     string
	modified time.Time
	body     map[string]any
}

// New resolves path and records its modification time. The file is not read.
func New(path string) (*Document, error) {
	abs, modified, err := statSource(path)
	if err != nil {
		return nil, err
	}
	return &Document{path: abs, modified: modified}, nil
}

// FromBody builds an already-loaded document from cached fields. It has no source file.
func FromBody(body map[string]any, modified time.Time) *Document {
	if body == nil {
		body = map[string]any{}
	}
	return &Document{modified: modified, body: body}
}

func statSource(path string) (string, time.Time, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", time.Time{}, domain.E(domain.CodeSourceFile, "jsondoc.stat", fmt.Sprintf("%s: %v", path, err), err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", time.Time{}, domain.E(domain.CodeSourceFile, "jsondoc.stat", fmt.Sprintf("%s: %v", path, err), err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", time.Time{}, domain.E(domain.CodeSourceFile, "jsondoc.stat", fmt.Sprintf("%s: %v", path, err), err)
	}
	if info.IsDir() {
		return "", time.Time{}, domain.Errorf(domain.CodeSourceFile, "jsondoc.stat", "%s: is a directory", resolved)
	}
	return resolved, info.ModTime(), nil
}

// Path returns the resolved source file, or "" for cache-built documents.
func (d *Document) Path() string {
	return d.path
}

// Modified returns the source file modification time.
func (d *Document) Modified() time.Time {
	return d.modified
}

// Loaded reports whether the body is present.
func (d *Document) Loaded() bool {
	return d.body != nil
}

// Body returns the parsed body, nil before Load.
func (d *Document) Body() map[string]any {
	return d.body
}

// Load reads and parses the file. It returns true without touching the file if the
// body is already present.
func (d *Document) Load() (bool, error) {
	if d.body != nil {
		return true, nil
	}
	body, err := readObject(d.path)
	if err != nil {
		return false, err
	}
	d.body = body
	return false, nil
}

// Version returns the _meta.version value of the body.
func (d *Document) Version() (string, error) {
	if d.body == nil {
		return "", domain.Errorf(domain.CodeFailedPrecond, "jsondoc.version", "%s: not loaded", d.source())
	}
	meta, ok := d.body[domain.MetaKey].(map[string]any)
	if !ok {
		return "", domain.Errorf(domain.CodeSchema, "jsondoc.version", "mapping missing '%s' in %s", domain.MetaKey, d.source())
	}
	return versionOf(meta, d.source())
}

// Merge is a no-op for plain documents; only tool documents merge into a skeleton.
func (d *Document) Merge(_ string, _ *Document) error {
	return nil
}

// AddMapping inserts a named sub-document into the properties container.
func (d *Document) AddMapping(name string, body map[string]any) error {
	props, ok := d.body[domain.PropertiesKey].(map[string]any)
	if !ok {
		return domain.Errorf(domain.CodeSchema, "jsondoc.add_mapping", "mapping missing '%s' in %s", domain.PropertiesKey, d.source())
	}
	props[name] = body
	return nil
}

func (d *Document) source() string {
	if d.path == "" {
		return cachedSource
	}
	return d.path
}

func versionOf(meta map[string]any, source string) (string, error) {
	raw, ok := meta["version"]
	if !ok {
		return "", domain.Errorf(domain.CodeSchema, "jsondoc.version", "mapping missing 'version' in %s", source)
	}
	switch v := raw.(type) {
	case json.Number:
		return v.String(), nil
	case string:
		if v == "" {
			return "", domain.Errorf(domain.CodeSchema, "jsondoc.version", "empty version in %s", source)
		}
		return v, nil
	case float64:
		return fmt.Sprintf("%v", v), nil
	default:
		return "", domain.Errorf(domain.CodeSchema, "jsondoc.version", "version must be a string or number in %s", source)
	}
}

func readObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.E(domain.CodeSourceFile, "jsondoc.load", fmt.Sprintf("%s: %v", path, err), err)
	}
	body, err := DecodeObject(data)
	if err != nil {
		return nil, domain.E(domain.CodeParse, "jsondoc.load", fmt.Sprintf("%s: %v", path, err), err)
	}
	return body, nil
}

// DecodeObject parses data as a single JSON object, keeping numbers as json.Number.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("expected a JSON object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	return body, nil
}
