// Package template composes mapping, settings and skeleton documents into index
// templates and resolves them against the template cache.
package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/hashutil"
	"idxtmpl/internal/infra/jsondoc"
	"idxtmpl/internal/infra/telemetry"
)

const maxCacheAttempts = 3

var toolFragmentPattern = regexp.MustCompile(`^tool-data-frag-(?P<toolname>.+)\.json$`)

// Options describes the source files of one template.
type Options struct {
	Prefix string
	// Mappings is the path of the mapping file, or of the tool fragment when Tool is set.
	Mappings string
	Settings *jsondoc.Document
	// Skeleton is the shared base mapping that tool fragments are merged into.
	Skeleton *jsondoc.Document
	// Tool is the family key of tool templates, e.g. "tool-data".
	Tool   string
	Cache  domain.TemplateCache
	Logger *zap.Logger
}

// Descriptor is one logical index template. It is resolved at most once, either from
// a fresh cache entry or from its source files.
type Descriptor struct {
	prefix   string
	family   domain.Family
	name     string
	tool     bool
	mappings jsondoc.Mapping
	settings *jsondoc.Document
	skeleton *jsondoc.Document
	cache    domain.TemplateCache
	logger   *zap.Logger
	modified time.Time
	file     string

	loaded        bool
	resolved      bool
	source        domain.ResolveSource
	version       string
	indexName     string
	templateName  string
	indexPattern  string
	indexTemplate string
	mappingsBody  map[string]any
	settingsBody  map[string]any
}

// New describes a template without reading any file contents. Only file modification
// times are collected.
func New(opts Options) (*Descriptor, error) {
	if strings.TrimSpace(opts.Prefix) == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "template.new", "index prefix is required")
	}
	if opts.Settings == nil {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "template.new", "settings document is required for %s", opts.Mappings)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	base := filepath.Base(opts.Mappings)
	d := &Descriptor{
		prefix:   opts.Prefix,
		settings: opts.Settings,
		skeleton: opts.Skeleton,
		cache:    opts.Cache,
	}

	var key string
	if opts.Tool != "" {
		match := toolFragmentPattern.FindStringSubmatch(base)
		if match == nil {
			return nil, domain.Errorf(domain.CodeParse, "template.new", "tool mapping file %s does not match tool-data-frag-<tool>.json", opts.Mappings)
		}
		d.name = match[toolFragmentPattern.SubexpIndex("toolname")]
		d.tool = true
		key = opts.Tool
	} else {
		d.name = strings.TrimSuffix(base, filepath.Ext(base))
		key = d.name
	}

	family, ok := domain.ParseFamily(key)
	if !ok {
		return nil, domain.Errorf(domain.CodeInvalidTemplate, "template.new", "unknown template family %q for %s", key, opts.Mappings)
	}
	d.family = family

	if d.tool {
		doc, err := jsondoc.NewTool(opts.Mappings)
		if err != nil {
			return nil, err
		}
		d.mappings = doc
	} else {
		doc, err := jsondoc.New(opts.Mappings)
		if err != nil {
			return nil, err
		}
		d.mappings = doc
	}
	d.file = d.mappings.Path()

	d.modified = d.mappings.Modified()
	if d.skeleton != nil && d.skeleton.Modified().After(d.modified) {
		d.modified = d.skeleton.Modified()
	}

	tool := ""
	if d.tool {
		tool = d.name
	}
	d.indexName = domain.FormatName(family.Pattern().IndexName, domain.NameFields{Tool: tool})
	d.logger = logger.With(telemetry.TemplateField(d.name), telemetry.FamilyField(family.Key()))
	return d, nil
}

func (d *Descriptor) Name() string { return d.name }

func (d *Descriptor) Family() domain.Family { return d.family }

func (d *Descriptor) Prefix() string { return d.prefix }

func (d *Descriptor) File() string { return d.file }

func (d *Descriptor) Modified() time.Time { return d.modified }

func (d *Descriptor) Resolved() bool { return d.resolved }

func (d *Descriptor) Source() domain.ResolveSource { return d.source }

// Tool returns the tool name for tool templates and "" otherwise.
func (d *Descriptor) Tool() string {
	if d.tool {
		return d.name
	}
	return ""
}

// IndexName returns the index base name, e.g. "run-data" or "tool-data-iostat".
func (d *Descriptor) IndexName() string { return d.indexName }

// Version is valid after resolution.
func (d *Descriptor) Version() string { return d.version }

// TemplateName is the name the template is registered under, valid after resolution.
func (d *Descriptor) TemplateName() string { return d.templateName }

// IndexPattern is the wildcard matching all indices of the template, valid after resolution.
func (d *Descriptor) IndexPattern() string { return d.indexPattern }

// IndexTemplate is the date-partitioned index name format with only the date
// placeholders left, valid after resolution.
func (d *Descriptor) IndexTemplate() string { return d.indexTemplate }

// Resolve produces the template, reusing the cached version when its mtime is not older
// than the source files and loading from disk otherwise. A stale or missing cache row is
// written back. Later calls are no-ops.
func (d *Descriptor) Resolve(ctx context.Context) error {
	if d.resolved {
		return nil
	}
	if d.cache == nil {
		if err := d.load(); err != nil {
			return err
		}
		d.markResolved(domain.ResolveSourceDisk)
		return nil
	}

	for attempt := 1; ; attempt++ {
		entry, err := d.cache.Find(ctx, d.name)
		found := err == nil
		if err != nil && !errors.Is(err, domain.ErrTemplateNotFound) {
			return err
		}
		if found && entry.FreshFor(d.modified) {
			if d.ownsEntry(entry) {
				return d.adopt(entry)
			}
			// The row belongs to another prefix and stays as it is.
			d.logger.Warn("cached template was built for another prefix; resolving from disk",
				telemetry.EventField(telemetry.EventCacheForeign),
				zap.String("cached_template", entry.TemplateName),
			)
			if err := d.load(); err != nil {
				return err
			}
			d.markResolved(domain.ResolveSourceDisk)
			return nil
		}

		if err := d.load(); err != nil {
			return err
		}
		next, err := d.cacheEntry()
		if err != nil {
			return err
		}

		event := telemetry.EventCacheCreate
		if found {
			event = telemetry.EventCacheUpdate
			err = d.cache.Update(ctx, next)
		} else {
			err = d.cache.Create(ctx, next)
		}
		if err == nil {
			d.logger.Debug("template cache written",
				telemetry.EventField(event),
				telemetry.VersionField(d.version),
				zap.Time("mtime", d.modified),
			)
			d.markResolved(domain.ResolveSourceDisk)
			return nil
		}
		retryable := errors.Is(err, domain.ErrCacheConflict) || errors.Is(err, domain.ErrTemplateDuplicate)
		if !retryable || attempt >= maxCacheAttempts {
			return err
		}
		d.logger.Info("template cache changed concurrently; retrying",
			telemetry.EventField(telemetry.EventCacheConflict),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

func (d *Descriptor) load() error {
	if d.loaded {
		return nil
	}
	if _, err := d.mappings.Load(); err != nil {
		return err
	}
	version, err := d.mappings.Version()
	if err != nil {
		return err
	}
	if d.skeleton != nil {
		if _, err := d.skeleton.Load(); err != nil {
			return err
		}
		if err := d.mappings.Merge(d.name, d.skeleton); err != nil {
			return err
		}
	}
	if _, err := d.settings.Load(); err != nil {
		return err
	}

	if d.family.Pattern().Owned {
		if err := d.mappings.AddMapping(domain.AuthorizationProperty, authorizationMapping()); err != nil {
			return err
		}
	}

	d.setNames(version)
	d.mappingsBody = d.mappings.Body()
	d.settingsBody = d.settings.Body()
	d.loaded = true
	return nil
}

func (d *Descriptor) adopt(entry domain.CacheEntry) error {
	mappings, err := jsondoc.DecodeObject(entry.Mappings)
	if err != nil {
		return domain.E(domain.CodeCache, "template.adopt", fmt.Sprintf("corrupt cached mappings for %s: %v", d.name, err), err)
	}
	settings, err := jsondoc.DecodeObject(entry.Settings)
	if err != nil {
		return domain.E(domain.CodeCache, "template.adopt", fmt.Sprintf("corrupt cached settings for %s: %v", d.name, err), err)
	}
	stored := domain.TemplateBody{IndexPatterns: entry.TemplatePattern, Settings: settings, Mappings: mappings}
	if digest, err := hashutil.HashTemplateBody(stored); err != nil || digest != entry.Digest {
		return domain.Errorf(domain.CodeCache, "template.adopt", "cached template %s does not match its digest; remove it from the cache", d.name)
	}

	d.mappings = jsondoc.FromBody(mappings, entry.MTime)
	d.settings = jsondoc.FromBody(settings, entry.MTime)
	d.setNames(entry.Version)
	d.mappingsBody = mappings
	d.settingsBody = settings
	d.markResolved(domain.ResolveSourceCache)
	return nil
}

// setNames formats the template names for version under the descriptor's prefix.
func (d *Descriptor) setNames(version string) {
	pattern := d.family.Pattern()
	fields := domain.NameFields{Prefix: d.prefix, Version: version, IndexName: d.indexName}
	d.version = version
	d.templateName = domain.FormatName(pattern.TemplateName, fields)
	d.indexPattern = domain.FormatName(pattern.TemplatePattern, fields)
	d.indexTemplate = domain.FormatName(pattern.IndexTemplate, fields)
}

// ownsEntry reports whether entry was written under the descriptor's prefix.
func (d *Descriptor) ownsEntry(entry domain.CacheEntry) bool {
	fields := domain.NameFields{Prefix: d.prefix, Version: entry.Version, IndexName: d.indexName}
	return entry.TemplateName == domain.FormatName(d.family.Pattern().TemplateName, fields)
}

func (d *Descriptor) markResolved(source domain.ResolveSource) {
	d.resolved = true
	d.source = source
	event := telemetry.EventResolveDisk
	if source == domain.ResolveSourceCache {
		event = telemetry.EventResolveCache
	}
	d.logger.Debug("template resolved",
		telemetry.EventField(event),
		telemetry.SourceField(string(source)),
		telemetry.VersionField(d.version),
	)
}

func (d *Descriptor) cacheEntry() (domain.CacheEntry, error) {
	settings, err := json.Marshal(d.settingsBody)
	if err != nil {
		return domain.CacheEntry{}, domain.E(domain.CodeSchema, "template.encode", fmt.Sprintf("encode settings for %s: %v", d.name, err), err)
	}
	mappings, err := json.Marshal(d.mappingsBody)
	if err != nil {
		return domain.CacheEntry{}, domain.E(domain.CodeSchema, "template.encode", fmt.Sprintf("encode mappings for %s: %v", d.name, err), err)
	}
	return domain.CacheEntry{
		Name:            d.name,
		IndexName:       d.indexName,
		TemplateName:    d.templateName,
		File:            d.file,
		TemplatePattern: d.indexPattern,
		IndexTemplate:   d.indexTemplate,
		Settings:        settings,
		Mappings:        mappings,
		Version:         d.version,
		MTime:           d.modified,
		Digest:          hashutil.TemplateDigest(d.logger, d.payload()),
	}, nil
}

// Body returns the payload that registers the template with the document store.
func (d *Descriptor) Body() (domain.TemplateBody, error) {
	if !d.resolved {
		return domain.TemplateBody{}, domain.Errorf(domain.CodeFailedPrecond, "template.body", "template %s is not resolved", d.name)
	}
	return d.payload(), nil
}

func (d *Descriptor) payload() domain.TemplateBody {
	return domain.TemplateBody{
		IndexPatterns: d.indexPattern,
		Settings:      d.settingsBody,
		Mappings:      d.mappingsBody,
	}
}

func authorizationMapping() map[string]any {
	return map[string]any{
		domain.PropertiesKey: map[string]any{
			"owner":  map[string]any{"type": "keyword"},
			"access": map[string]any{"type": "keyword"},
		},
	}
}
