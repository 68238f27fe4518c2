package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"idxtmpl/internal/app/registry"
	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/cache"
)

// digestWidth is the number of hex digits of a cache digest shown by ListCache.
const digestWidth = 12

// DumpTemplates prints every resolved template body.
func (a *App) DumpTemplates(ctx context.Context, cfg domain.Config, format string) error {
	dumpFormat, err := registry.ParseDumpFormat(format)
	if err != nil {
		return err
	}
	return a.withSession(ctx, cfg, func(s *session) error {
		return s.registry.WriteTemplates(a.stdout, dumpFormat)
	})
}

// DumpPatterns prints the index name formats of every family.
func (a *App) DumpPatterns(ctx context.Context, cfg domain.Config) error {
	return a.withSession(ctx, cfg, func(s *session) error {
		return s.registry.WriteIndexPatterns(a.stdout)
	})
}

// IndexName reads one JSON document and returns the index it belongs in.
func (a *App) IndexName(ctx context.Context, cfg domain.Config, familyKey, tool string, document io.Reader) (string, error) {
	dec := json.NewDecoder(document)
	dec.UseNumber()
	var source any
	if err := dec.Decode(&source); err != nil {
		return "", domain.E(domain.CodeMalformedSource, "app.index_name", fmt.Sprintf("decode source document: %v", err), err)
	}

	var name string
	err := a.withSession(ctx, cfg, func(s *session) error {
		family, ok := domain.ParseFamily(familyKey)
		if !ok {
			_, err := s.registry.LookupKey(familyKey, tool)
			return err
		}
		var err error
		name, err = s.registry.GenerateIndexName(family, source, tool)
		return err
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// ListCache prints the cached templates without resolving anything.
func (a *App) ListCache(ctx context.Context, cfg domain.Config) (err error) {
	store, err := cache.Open(cfg.Cache, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTEMPLATE\tVERSION\tMTIME\tDIGEST\tINDEX TEMPLATE")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.Name,
			entry.TemplateName,
			entry.Version,
			entry.MTime.UTC().Format(time.RFC3339),
			shortDigest(entry.Digest),
			entry.IndexTemplate,
		)
	}
	return w.Flush()
}

func shortDigest(digest string) string {
	if digest == "" {
		return "-"
	}
	if len(digest) > digestWidth {
		return digest[:digestWidth]
	}
	return digest
}

func (a *App) withSession(ctx context.Context, cfg domain.Config, fn func(*session) error) error {
	s, err := a.openSession(ctx, cfg)
	if err != nil {
		return err
	}
	return errors.Join(fn(s), s.close())
}
