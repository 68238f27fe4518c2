// Package registry discovers the index templates of an installation, resolves them
// against the template cache and answers index-name queries for documents.
package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/jsondoc"
	"idxtmpl/internal/infra/telemetry"
	"idxtmpl/internal/infra/template"
)

const (
	serverReportsFile = "server-reports.json"
	runGlob           = "run*.json"
	runSettingsFile   = "run.json"
	resultGlob        = "result-data*.json"
	resultSettings    = "result-data.json"
	toolGlob          = "tool-data-frag-*.json"
	toolSkeletonFile  = "tool-data-skel.json"
	toolSettingsFile  = "tool-data.json"
)

type Options struct {
	Prefix     string
	LibDir     string
	KnownTools []string
	Cache      domain.TemplateCache
	Metrics    domain.Metrics
	Logger     *zap.Logger
}

// Registry holds one resolved descriptor per index name.
type Registry struct {
	prefix     string
	libDir     string
	knownTools []string
	cache      domain.TemplateCache
	metrics    domain.Metrics
	logger     *zap.Logger

	templates map[string]*template.Descriptor
	order     []string
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tools := append([]string(nil), opts.KnownTools...)
	sort.Strings(tools)
	return &Registry{
		prefix:     opts.Prefix,
		libDir:     opts.LibDir,
		knownTools: tools,
		cache:      opts.Cache,
		metrics:    metrics,
		logger:     logger.Named("registry"),
		templates:  make(map[string]*template.Descriptor),
	}
}

func (r *Registry) Prefix() string { return r.prefix }

// Discover builds a descriptor for every mapping file under the mappings and settings
// directories of the lib tree, then resolves them all. The registry is left unchanged
// when any file fails.
func (r *Registry) Discover(ctx context.Context) error {
	mappingDir := filepath.Join(r.libDir, domain.MappingsDir)
	settingDir := filepath.Join(r.libDir, domain.SettingsDir)
	found := make(map[string]*template.Descriptor)

	add := func(opts template.Options) error {
		opts.Prefix = r.prefix
		opts.Cache = r.cache
		opts.Logger = r.logger
		d, err := template.New(opts)
		if err != nil {
			return err
		}
		if existing, ok := found[d.IndexName()]; ok {
			return domain.Errorf(domain.CodeInvalidTemplate, "registry.discover",
				"index %s is defined by both %s and %s", d.IndexName(), existing.File(), d.File())
		}
		found[d.IndexName()] = d
		return nil
	}

	settings, err := jsondoc.New(filepath.Join(settingDir, serverReportsFile))
	if err != nil {
		return err
	}
	if err := add(template.Options{Mappings: filepath.Join(mappingDir, serverReportsFile), Settings: settings}); err != nil {
		return err
	}

	groups := []struct {
		glob     string
		settings string
	}{
		{glob: runGlob, settings: runSettingsFile},
		{glob: resultGlob, settings: resultSettings},
	}
	for _, group := range groups {
		matches, err := glob(mappingDir, group.glob)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			continue
		}
		shared, err := jsondoc.New(filepath.Join(settingDir, group.settings))
		if err != nil {
			return err
		}
		for _, path := range matches {
			if err := add(template.Options{Mappings: path, Settings: shared}); err != nil {
				return err
			}
		}
	}

	fragments, err := glob(mappingDir, toolGlob)
	if err != nil {
		return err
	}
	if len(fragments) > 0 {
		skeleton, err := jsondoc.New(filepath.Join(mappingDir, toolSkeletonFile))
		if err != nil {
			return err
		}
		toolSettings, err := jsondoc.New(filepath.Join(settingDir, toolSettingsFile))
		if err != nil {
			return err
		}
		toolKey := domain.FamilyToolData.Key()
		for _, path := range fragments {
			opts := template.Options{Mappings: path, Settings: toolSettings, Skeleton: skeleton, Tool: toolKey}
			if err := add(opts); err != nil {
				return err
			}
		}
	}

	order := make([]string, 0, len(found))
	for name := range found {
		order = append(order, name)
	}
	sort.Strings(order)

	if err := resolveAll(ctx, found, order, r.metrics, r.logger); err != nil {
		return err
	}
	r.templates = found
	r.order = order
	r.logger.Debug("templates discovered", zap.Int("count", len(order)), zap.String("lib_dir", r.libDir))
	return nil
}

// Resolve resolves every discovered descriptor in index-name order. The first failure
// aborts.
func (r *Registry) Resolve(ctx context.Context) error {
	return resolveAll(ctx, r.templates, r.order, r.metrics, r.logger)
}

func resolveAll(ctx context.Context, templates map[string]*template.Descriptor, order []string, metrics domain.Metrics, logger *zap.Logger) error {
	for _, name := range order {
		d := templates[name]
		if d.Resolved() {
			continue
		}
		if err := d.Resolve(ctx); err != nil {
			metrics.IncFailure(domain.FailureResolve)
			logger.Error("template resolution failed",
				telemetry.TemplateField(d.Name()),
				telemetry.FileField(d.File()),
				zap.Error(err),
			)
			return err
		}
		metrics.ObserveResolve(d.Family(), d.Source())
	}
	return nil
}

// Templates returns the descriptors sorted by index name.
func (r *Registry) Templates() []*template.Descriptor {
	out := make([]*template.Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.templates[name])
	}
	return out
}

// Lookup finds the descriptor of a family, narrowed to one tool when tool is set.
func (r *Registry) Lookup(family domain.Family, tool string) (*template.Descriptor, error) {
	for _, name := range r.order {
		d := r.templates[name]
		if d.Family() == family && (tool == "" || d.Name() == tool) {
			return d, nil
		}
	}
	r.metrics.IncFailure(domain.FailureInvalidTemplateName)
	if tool != "" {
		return nil, domain.Errorf(domain.CodeInvalidTemplate, "registry.lookup", "Invalid template name, '%s': %s", family.Key(), tool)
	}
	return nil, domain.Errorf(domain.CodeInvalidTemplate, "registry.lookup", "Invalid template name, '%s': %s", family.Key(), family.Key())
}

// LookupKey is Lookup for a family given by its key, e.g. "run-toc-entry".
func (r *Registry) LookupKey(key, tool string) (*template.Descriptor, error) {
	family, ok := domain.ParseFamily(key)
	if !ok {
		r.metrics.IncFailure(domain.FailureInvalidTemplateName)
		return nil, domain.Errorf(domain.CodeInvalidTemplate, "registry.lookup", "Invalid template name, '%s': %s", key, key)
	}
	return r.Lookup(family, tool)
}

// GenerateIndexName returns the index a document of the family belongs in.
func (r *Registry) GenerateIndexName(family domain.Family, source any, tool string) (string, error) {
	d, err := r.Lookup(family, tool)
	if err != nil {
		return "", err
	}
	name, err := d.GenerateIndexName(source, tool)
	if err == nil {
		return name, nil
	}
	switch {
	case errors.Is(err, domain.ErrMissingTimestamp):
		r.metrics.IncFailure(domain.FailureMissingTimestamp)
	case errors.Is(err, domain.ErrMalformedSource):
		r.metrics.IncFailure(domain.FailureBadSource)
	}
	r.logger.Debug("index name generation failed",
		telemetry.EventField(telemetry.EventLookupFailure),
		telemetry.TemplateField(d.Name()),
		zap.Error(err),
	)
	return "", err
}

func glob(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, domain.E(domain.CodeInvalidArgument, "registry.discover", "bad pattern "+pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}
