package domain

import (
	"sort"
	"strings"
)

// Family identifies one of the fixed document families and its naming convention.
type Family int

const (
	FamilyResultData Family = iota
	FamilyResultDataSample
	FamilyRun
	FamilyRunTOCEntry
	FamilyServerReports
	FamilyToolData

	familyCount
)

// FamilyPattern holds the format strings used to name templates and indices of a family.
// Placeholders are {prefix}, {version}, {idxname}, {tool}, {year}, {month} and {day}.
type FamilyPattern struct {
	Key             string
	IndexName       string
	TemplateName    string
	TemplatePattern string
	IndexTemplate   string
	Owned           bool
	Description     string
}

var familyPatterns = [familyCount]FamilyPattern{
	FamilyResultData: {
		Key:             "result-data",
		IndexName:       "result-data",
		TemplateName:    "{prefix}.v{version}.{idxname}",
		TemplatePattern: "{prefix}.v{version}.{idxname}.*",
		IndexTemplate:   "{prefix}.v{version}.{idxname}.{year}-{month}-{day}",
		Owned:           true,
		Description: "Daily result data (any data generated by the" +
			" benchmark) for all pbench result tar balls;" +
			" e.g prefix.v0.result-data.YYYY-MM-DD",
	},
	FamilyResultDataSample: {
		Key:             "result-data-sample",
		IndexName:       "result-data-sample",
		TemplateName:    "{prefix}.v{version}.{idxname}",
		TemplatePattern: "{prefix}.v{version}.{idxname}.*",
		IndexTemplate:   "{prefix}.v{version}.{idxname}.{year}-{month}-{day}",
		Owned:           true,
		Description: "Daily result data (any data generated by the" +
			" benchmark) for all pbench result tar balls;" +
			" e.g prefix.v0.result-data-sample.YYYY-MM-DD",
	},
	FamilyRun: {
		Key:             "run",
		IndexName:       "run-data",
		TemplateName:    "{prefix}.v{version}.{idxname}",
		TemplatePattern: "{prefix}.v{version}.{idxname}.*",
		IndexTemplate:   "{prefix}.v{version}.{idxname}.{year}-{month}",
		Owned:           true,
		Description: "Monthly pbench run metadata for index tar balls;" +
			" contains directories, file names, and their size," +
			" permissions, etc.; e.g. prefix.v0.run.YYYY-MM",
	},
	FamilyRunTOCEntry: {
		Key:             "run-toc-entry",
		IndexName:       "run-toc",
		TemplateName:    "{prefix}.v{version}.{idxname}",
		TemplatePattern: "{prefix}.v{version}.{idxname}.*",
		IndexTemplate:   "{prefix}.v{version}.{idxname}.{year}-{month}",
		Owned:           true,
		Description: "Monthly table of contents metadata for index tar" +
			" balls; contains directories, file names, and their size," +
			" permissions, etc.; e.g. prefix.v0.run.YYYY-MM",
	},
	FamilyServerReports: {
		Key:             "server-reports",
		IndexName:       "server-reports",
		TemplateName:    "{prefix}.v{version}.{idxname}",
		TemplatePattern: "{prefix}.v{version}.{idxname}.*",
		IndexTemplate:   "{prefix}.v{version}.{idxname}.{year}-{month}",
		Owned:           false,
		Description: "Monthly pbench server status reports for all" +
			" cron jobs; e.g. prefix.v0.server-reports.YYYY-MM",
	},
	FamilyToolData: {
		Key:             "tool-data",
		IndexName:       "tool-data-{tool}",
		TemplateName:    "{prefix}.v{version}.{idxname}",
		TemplatePattern: "{prefix}.v{version}.{idxname}.*",
		IndexTemplate:   "{prefix}.v{version}.{idxname}.{year}-{month}-{day}",
		Owned:           true,
		Description: "Daily tool data for all tools land in indices" +
			" named by tool; e.g. prefix.v0.tool-data-iostat.YYYY-MM-DD",
	},
}

// Families returns every family ordered by key.
func Families() []Family {
	out := make([]Family, 0, familyCount)
	for f := Family(0); f < familyCount; f++ {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ParseFamily maps a family key such as "run" or "tool-data" to its Family.
func ParseFamily(key string) (Family, bool) {
	trimmed := strings.TrimSpace(key)
	for f := Family(0); f < familyCount; f++ {
		if familyPatterns[f].Key == trimmed {
			return f, true
		}
	}
	return 0, false
}

// Valid reports whether f is one of the known families.
func (f Family) Valid() bool {
	return f >= 0 && f < familyCount
}

// Pattern returns the naming table entry for the family.
func (f Family) Pattern() FamilyPattern {
	if !f.Valid() {
		return FamilyPattern{}
	}
	return familyPatterns[f]
}

// Key returns the family key used in lookups and file names.
func (f Family) Key() string {
	return f.Pattern().Key
}

func (f Family) String() string {
	if !f.Valid() {
		return "unknown"
	}
	return f.Key()
}

// NameFields carries the values substituted into family format strings.
type NameFields struct {
	Prefix    string
	Version   string
	IndexName string
	Tool      string
	Year      string
	Month     string
	Day       string
}

// FormatName substitutes the non-empty fields into format. Placeholders whose field is
// empty are left untouched, so an index template can be partially applied and finished
// later with only the date fields.
func FormatName(format string, fields NameFields) string {
	pairs := make([]string, 0, 14)
	add := func(name, value string) {
		if value != "" {
			pairs = append(pairs, "{"+name+"}", value)
		}
	}
	add("prefix", fields.Prefix)
	add("version", fields.Version)
	add("idxname", fields.IndexName)
	add("tool", fields.Tool)
	add("year", fields.Year)
	add("month", fields.Month)
	add("day", fields.Day)
	if len(pairs) == 0 {
		return format
	}
	return strings.NewReplacer(pairs...).Replace(format)
}
