package template

import (
	"strings"

	"idxtmpl/internal/domain"
)

// GenerateIndexName formats the date-partitioned index name for a document from the
// date part of its "@timestamp" field. The tool argument is accepted for symmetry with
// registry lookups; the tool name is already part of a tool template's index name.
func (d *Descriptor) GenerateIndexName(source any, tool string) (string, error) {
	if !d.resolved {
		return "", domain.Errorf(domain.CodeFailedPrecond, "template.index_name", "template %s is not resolved", d.name)
	}
	value, ok, err := lookupField(source, domain.TimestampField)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.Errorf(domain.CodeMissingTimestamp, "template.index_name", "missing %s in source document for %s", domain.TimestampField, d.templateName)
	}
	timestamp, isString := value.(string)
	if !isString {
		return "", domain.Errorf(domain.CodeMalformedSource, "template.index_name", "%s is not a string in source document for %s: %#v", domain.TimestampField, d.templateName, value)
	}
	year, month, day, ok := splitDate(timestamp)
	if !ok {
		return "", domain.Errorf(domain.CodeMalformedSource, "template.index_name", "%s %q has no YYYY-MM-DD date for %s", domain.TimestampField, timestamp, d.templateName)
	}
	return domain.FormatName(d.indexTemplate, domain.NameFields{
		Prefix:    d.prefix,
		Version:   d.version,
		IndexName: d.indexName,
		Tool:      tool,
		Year:      year,
		Month:     month,
		Day:       day,
	}), nil
}

func lookupField(source any, name string) (any, bool, error) {
	switch doc := source.(type) {
	case map[string]any:
		value, ok := doc[name]
		return value, ok, nil
	case map[string]string:
		value, ok := doc[name]
		return value, ok, nil
	case domain.FieldSource:
		value, ok := doc.Field(name)
		return value, ok, nil
	default:
		return nil, false, domain.Errorf(domain.CodeMalformedSource, "template.index_name", "failed to generate index name, source: %#v", source)
	}
}

// splitDate takes "YYYY-MM-DD" from the part of a timestamp before any "T".
func splitDate(timestamp string) (string, string, string, bool) {
	date, _, _ := strings.Cut(timestamp, "T")
	parts := strings.Split(date, "-")
	if len(parts) < 3 {
		return "", "", "", false
	}
	for _, part := range parts[:3] {
		if part == "" {
			return "", "", "", false
		}
	}
	return parts[0], parts[1], parts[2], true
}
