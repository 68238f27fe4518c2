package cache

import (
	"errors"
	"strings"

	"idxtmpl/internal/domain"
)

// wrapStoreError passes domain errors through and reports everything else as a cache failure.
func wrapStoreError(operation, name string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return domain.CacheSQLError(operation, name, err)
}

func validateEntry(entry domain.CacheEntry) error {
	var missing []string
	if strings.TrimSpace(entry.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(entry.TemplateName) == "" {
		missing = append(missing, "template_name")
	}
	if strings.TrimSpace(entry.IndexTemplate) == "" {
		missing = append(missing, "index_template")
	}
	if strings.TrimSpace(entry.Version) == "" {
		missing = append(missing, "version")
	}
	if entry.MTime.IsZero() {
		missing = append(missing, "mtime")
	}
	if len(missing) > 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "cache.validate", "template %q missing %s", entry.Name, strings.Join(missing, ", "))
	}
	return nil
}
