package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/telemetry"
)

type DumpFormat string

const (
	DumpJSON DumpFormat = "json"
	DumpYAML DumpFormat = "yaml"
)

func ParseDumpFormat(value string) (DumpFormat, error) {
	switch DumpFormat(strings.ToLower(strings.TrimSpace(value))) {
	case "", DumpJSON:
		return DumpJSON, nil
	case DumpYAML, "yml":
		return DumpYAML, nil
	default:
		return "", domain.Errorf(domain.CodeInvalidArgument, "registry.dump", "unknown dump format %q", value)
	}
}

// PatternGroup is the set of index name formats of one family.
type PatternGroup struct {
	Family      domain.Family
	Patterns    []string
	Description string
}

// IndexPatterns lists the index name formats of every family in key order, with the
// date placeholders shown as YYYY, MM and DD. Tool data is listed once per known tool.
func (r *Registry) IndexPatterns() []PatternGroup {
	dates := domain.NameFields{Year: "YYYY", Month: "MM", Day: "DD"}
	var groups []PatternGroup
	for _, family := range domain.Families() {
		pattern := family.Pattern()
		indexNames := []string{pattern.IndexName}
		if family == domain.FamilyToolData {
			indexNames = indexNames[:0]
			for _, tool := range r.knownTools {
				indexNames = append(indexNames, domain.FormatName(pattern.IndexName, domain.NameFields{Tool: tool}))
			}
		}

		group := PatternGroup{Family: family, Description: pattern.Description}
		for _, indexName := range indexNames {
			d, ok := r.templates[indexName]
			if !ok {
				r.logger.Warn("no template for index",
					telemetry.EventField(telemetry.EventTemplateSkipped),
					telemetry.FamilyField(family.Key()),
					zap.String("index", indexName),
				)
				continue
			}
			fields := dates
			fields.Prefix = r.prefix
			fields.Version = d.Version()
			fields.IndexName = indexName
			group.Patterns = append(group.Patterns, domain.FormatName(pattern.IndexTemplate, fields))
		}
		groups = append(groups, group)
	}
	return groups
}

// WriteIndexPatterns prints IndexPatterns, each group followed by its description.
func (r *Registry) WriteIndexPatterns(w io.Writer) error {
	for _, group := range r.IndexPatterns() {
		for _, pattern := range group.Patterns {
			if _, err := fmt.Fprintln(w, pattern); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", group.Description); err != nil {
			return err
		}
	}
	return nil
}

type dumpedTemplate struct {
	Template string              `yaml:"template"`
	Body     domain.TemplateBody `yaml:"body"`
}

// WriteTemplates writes every template body in template-name order.
func (r *Registry) WriteTemplates(w io.Writer, format DumpFormat) error {
	descriptors := r.byTemplateName()
	switch format {
	case DumpJSON:
		for _, d := range descriptors {
			body, err := d.Body()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(body, "", "    ")
			if err != nil {
				return fmt.Errorf("encode template %s: %w", d.TemplateName(), err)
			}
			if _, err := fmt.Fprintf(w, "\n\nTemplate: %s\n\n%s\n\n", d.TemplateName(), data); err != nil {
				return err
			}
		}
		return nil
	case DumpYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		for _, d := range descriptors {
			body, err := d.Body()
			if err != nil {
				return err
			}
			body.Settings = plainMap(body.Settings)
			body.Mappings = plainMap(body.Mappings)
			if err := encoder.Encode(dumpedTemplate{Template: d.TemplateName(), Body: body}); err != nil {
				return fmt.Errorf("encode template %s: %w", d.TemplateName(), err)
			}
		}
		return encoder.Close()
	default:
		return domain.Errorf(domain.CodeInvalidArgument, "registry.dump", "unknown dump format %q", format)
	}
}

// plainMap copies a decoded JSON body with json.Number values turned into int64 or
// float64 so YAML renders them as numbers.
func plainMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = plainValue(value)
	}
	return out
}

func plainValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return plainMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plainValue(item)
		}
		return out
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return value
	}
}
