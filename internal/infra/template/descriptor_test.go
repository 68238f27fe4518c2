package template

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/cache"
	"idxtmpl/internal/infra/hashutil"
	"idxtmpl/internal/infra/jsondoc"
)

var baseTime = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

const runMapping = `{"_meta": {"version": 1}, "properties": {"run": {"properties": {"name": {"type": "keyword"}}}}}`

func writeFile(t *testing.T, dir, rel, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func openDoc(t *testing.T, path string) *jsondoc.Document {
	t.Helper()
	doc, err := jsondoc.New(path)
	require.NoError(t, err)
	return doc
}

func newRunDescriptor(t *testing.T, dir string, store domain.TemplateCache) *Descriptor {
	t.Helper()
	settings := openDoc(t, filepath.Join(dir, "settings", "run.json"))
	d, err := New(Options{
		Prefix:   "drb",
		Mappings: filepath.Join(dir, "mappings", "run.json"),
		Settings: settings,
		Cache:    store,
	})
	require.NoError(t, err)
	return d
}

func runTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "mappings/run.json", runMapping, baseTime)
	writeFile(t, dir, "settings/run.json", `{"number_of_shards": 1}`, baseTime)
	return dir
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestDescriptor_ResolveFromDiskWithoutCache(t *testing.T) {
	d := newRunDescriptor(t, runTree(t), nil)
	require.Equal(t, "run", d.Name())
	require.Equal(t, domain.FamilyRun, d.Family())
	require.Equal(t, "run-data", d.IndexName())
	require.Empty(t, d.Tool())
	require.True(t, d.Modified().Equal(baseTime))

	require.NoError(t, d.Resolve(context.Background()))
	require.True(t, d.Resolved())
	require.Equal(t, domain.ResolveSourceDisk, d.Source())
	require.Equal(t, "1", d.Version())
	require.Equal(t, "drb.v1.run-data", d.TemplateName())
	require.Equal(t, "drb.v1.run-data.*", d.IndexPattern())
	require.Equal(t, "drb.v1.run-data.{year}-{month}", d.IndexTemplate())

	name, err := d.GenerateIndexName(map[string]any{"@timestamp": "2021-06-15T10:00:00"}, "")
	require.NoError(t, err)
	require.Equal(t, "drb.v1.run-data.2021-06", name)

	body, err := d.Body()
	require.NoError(t, err)
	require.Equal(t, "drb.v1.run-data.*", body.IndexPatterns)
	require.JSONEq(t, `{"number_of_shards": 1}`, marshal(t, body.Settings))
	require.JSONEq(t, `{
		"_meta": {"version": 1},
		"properties": {
			"run": {"properties": {"name": {"type": "keyword"}}},
			"authorization": {"properties": {"owner": {"type": "keyword"}, "access": {"type": "keyword"}}}
		}
	}`, marshal(t, body.Mappings))
}

func TestDescriptor_WritesCacheEntry(t *testing.T) {
	store := cache.NewMemoryStore()
	d := newRunDescriptor(t, runTree(t), store)
	require.NoError(t, d.Resolve(context.Background()))

	entry, err := store.Find(context.Background(), "run")
	require.NoError(t, err)
	require.Equal(t, "run-data", entry.IndexName)
	require.Equal(t, "drb.v1.run-data", entry.TemplateName)
	require.Equal(t, "drb.v1.run-data.*", entry.TemplatePattern)
	require.Equal(t, "drb.v1.run-data.{year}-{month}", entry.IndexTemplate)
	require.Equal(t, "1", entry.Version)
	require.Equal(t, d.File(), entry.File)
	require.True(t, entry.MTime.Equal(d.Modified()))
	require.NotEmpty(t, entry.Digest)

	body, err := d.Body()
	require.NoError(t, err)
	require.JSONEq(t, marshal(t, body.Mappings), string(entry.Mappings))
	require.JSONEq(t, marshal(t, body.Settings), string(entry.Settings))
}

func TestDescriptor_FreshCacheSkipsDisk(t *testing.T) {
	dir := runTree(t)
	store := cache.NewMemoryStore()
	first := newRunDescriptor(t, dir, store)
	require.NoError(t, first.Resolve(context.Background()))
	firstBody, err := first.Body()
	require.NoError(t, err)

	// Unparseable sources with an unchanged mtime must not be read.
	writeFile(t, dir, "mappings/run.json", "{not json", baseTime)
	writeFile(t, dir, "settings/run.json", "{not json", baseTime)

	settings := openDoc(t, filepath.Join(dir, "settings", "run.json"))
	second, err := New(Options{
		Prefix:   "drb",
		Mappings: filepath.Join(dir, "mappings", "run.json"),
		Settings: settings,
		Cache:    store,
	})
	require.NoError(t, err)
	require.NoError(t, second.Resolve(context.Background()))
	require.Equal(t, domain.ResolveSourceCache, second.Source())
	require.False(t, settings.Loaded())
	require.Equal(t, "1", second.Version())
	require.Equal(t, "drb.v1.run-data", second.TemplateName())

	secondBody, err := second.Body()
	require.NoError(t, err)
	require.JSONEq(t, marshal(t, firstBody), marshal(t, secondBody))
}

func TestDescriptor_StaleCacheIsRefreshed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mappings/run.json", runMapping, baseTime.Add(time.Hour))
	writeFile(t, dir, "settings/run.json", `{}`, baseTime)

	store := cache.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), domain.CacheEntry{
		Name:            "run",
		IndexName:       "run-data",
		TemplateName:    "drb.v0.run-data",
		TemplatePattern: "drb.v0.run-data.*",
		IndexTemplate:   "drb.v0.run-data.{year}-{month}",
		Settings:        json.RawMessage(`{}`),
		Mappings:        json.RawMessage(`{}`),
		Version:         "0",
		MTime:           baseTime,
	}))

	d := newRunDescriptor(t, dir, store)
	require.NoError(t, d.Resolve(context.Background()))
	require.Equal(t, domain.ResolveSourceDisk, d.Source())

	entry, err := store.Find(context.Background(), "run")
	require.NoError(t, err)
	require.Equal(t, "1", entry.Version)
	require.Equal(t, "drb.v1.run-data", entry.TemplateName)
	require.True(t, entry.MTime.Equal(baseTime.Add(time.Hour)))
}

type scriptedCache struct {
	*cache.MemoryStore
	findErr  error
	onCreate func(ctx context.Context, entry domain.CacheEntry) error
	creates  int
}

func (c *scriptedCache) Find(ctx context.Context, name string) (domain.CacheEntry, error) {
	if c.findErr != nil {
		return domain.CacheEntry{}, c.findErr
	}
	return c.MemoryStore.Find(ctx, name)
}

func (c *scriptedCache) Create(ctx context.Context, entry domain.CacheEntry) error {
	c.creates++
	if c.onCreate != nil {
		return c.onCreate(ctx, entry)
	}
	return c.MemoryStore.Create(ctx, entry)
}

func TestDescriptor_AdoptsEntryWrittenConcurrently(t *testing.T) {
	store := &scriptedCache{MemoryStore: cache.NewMemoryStore()}
	store.onCreate = func(ctx context.Context, entry domain.CacheEntry) error {
		winner := entry
		winner.Version = "9"
		winner.TemplateName = "drb.v9.run-data"
		winner.TemplatePattern = "drb.v9.run-data.*"
		winner.IndexTemplate = "drb.v9.run-data.{year}-{month}"
		winner.MTime = entry.MTime.Add(time.Minute)
		winner.Digest = digestOf(t, winner)
		require.NoError(t, store.MemoryStore.Create(ctx, winner))
		return domain.CacheDuplicate(entry.Name)
	}

	d := newRunDescriptor(t, runTree(t), store)
	require.NoError(t, d.Resolve(context.Background()))
	require.Equal(t, 1, store.creates)
	require.Equal(t, domain.ResolveSourceCache, d.Source())
	require.Equal(t, "9", d.Version())

	require.Equal(t, "drb.v9.run-data.*", d.IndexPattern())

	name, err := d.GenerateIndexName(map[string]any{"@timestamp": "2021-06-15"}, "")
	require.NoError(t, err)
	require.Equal(t, "drb.v9.run-data.2021-06", name)
}

// digestOf seals entry the way a writer does.
func digestOf(t *testing.T, entry domain.CacheEntry) string {
	t.Helper()
	mappings, err := jsondoc.DecodeObject(entry.Mappings)
	require.NoError(t, err)
	settings, err := jsondoc.DecodeObject(entry.Settings)
	require.NoError(t, err)
	digest, err := hashutil.HashTemplateBody(domain.TemplateBody{
		IndexPatterns: entry.TemplatePattern,
		Settings:      settings,
		Mappings:      mappings,
	})
	require.NoError(t, err)
	return digest
}

func TestDescriptor_CacheFromAnotherPrefixIsNotAdopted(t *testing.T) {
	dir := runTree(t)
	store := cache.NewMemoryStore()
	require.NoError(t, newRunDescriptor(t, dir, store).Resolve(context.Background()))

	other, err := New(Options{
		Prefix:   "other",
		Mappings: filepath.Join(dir, "mappings", "run.json"),
		Settings: openDoc(t, filepath.Join(dir, "settings", "run.json")),
		Cache:    store,
	})
	require.NoError(t, err)
	require.NoError(t, other.Resolve(context.Background()))
	require.Equal(t, domain.ResolveSourceDisk, other.Source())
	require.Equal(t, "other.v1.run-data", other.TemplateName())
	require.Equal(t, "other.v1.run-data.*", other.IndexPattern())

	name, err := other.GenerateIndexName(map[string]any{"@timestamp": "2021-06-15T10:00:00"}, "")
	require.NoError(t, err)
	require.Equal(t, "other.v1.run-data.2021-06", name)

	entry, err := store.Find(context.Background(), "run")
	require.NoError(t, err)
	require.Equal(t, "drb.v1.run-data", entry.TemplateName)
}

func TestDescriptor_TamperedCacheEntryIsRejected(t *testing.T) {
	dir := runTree(t)
	source := cache.NewMemoryStore()
	require.NoError(t, newRunDescriptor(t, dir, source).Resolve(context.Background()))
	sealed, err := source.Find(context.Background(), "run")
	require.NoError(t, err)

	tampered := sealed
	tampered.Mappings = json.RawMessage(`{"properties": {"run": {"type": "text"}}}`)
	unsigned := sealed
	unsigned.Digest = ""

	for name, entry := range map[string]domain.CacheEntry{"tampered": tampered, "unsigned": unsigned} {
		t.Run(name, func(t *testing.T) {
			store := cache.NewMemoryStore()
			require.NoError(t, store.Create(context.Background(), entry))

			d := newRunDescriptor(t, dir, store)
			err := d.Resolve(context.Background())
			require.ErrorIs(t, err, domain.ErrCache)
			require.False(t, d.Resolved())
		})
	}
}

func TestDescriptor_GivesUpAfterRepeatedConflicts(t *testing.T) {
	store := &scriptedCache{MemoryStore: cache.NewMemoryStore()}
	store.onCreate = func(_ context.Context, entry domain.CacheEntry) error {
		return domain.CacheDuplicate(entry.Name)
	}

	d := newRunDescriptor(t, runTree(t), store)
	err := d.Resolve(context.Background())
	require.ErrorIs(t, err, domain.ErrTemplateDuplicate)
	require.Equal(t, maxCacheAttempts, store.creates)
	require.False(t, d.Resolved())
}

func TestDescriptor_CacheFailurePropagates(t *testing.T) {
	store := &scriptedCache{
		MemoryStore: cache.NewMemoryStore(),
		findErr:     domain.CacheSQLError("finding", "run", os.ErrPermission),
	}
	d := newRunDescriptor(t, runTree(t), store)
	err := d.Resolve(context.Background())
	require.ErrorIs(t, err, domain.ErrCache)
	require.Contains(t, err.Error(), "Error finding index run")
	require.Zero(t, store.creates)
}

func TestDescriptor_ToolTemplate(t *testing.T) {
	dir := t.TempDir()
	skeletonPath := writeFile(t, dir, "mappings/tool-data-skel.json",
		`{"properties": {"@timestamp": {"type": "date"}}}`, baseTime.Add(2*time.Hour))
	fragment := writeFile(t, dir, "mappings/tool-data-frag-iostat.json",
		`{"_meta": {"version": 3}, "properties": {"disk": {"type": "keyword"}}}`, baseTime)
	writeFile(t, dir, "settings/tool-data.json", `{"number_of_replicas": 0}`, baseTime)

	skeleton := openDoc(t, skeletonPath)
	d, err := New(Options{
		Prefix:   "drb",
		Mappings: fragment,
		Settings: openDoc(t, filepath.Join(dir, "settings", "tool-data.json")),
		Skeleton: skeleton,
		Tool:     "tool-data",
		Cache:    cache.NewMemoryStore(),
	})
	require.NoError(t, err)
	require.Equal(t, "iostat", d.Name())
	require.Equal(t, "iostat", d.Tool())
	require.Equal(t, domain.FamilyToolData, d.Family())
	require.Equal(t, "tool-data-iostat", d.IndexName())
	require.True(t, d.Modified().Equal(baseTime.Add(2*time.Hour)))

	require.NoError(t, d.Resolve(context.Background()))
	require.Equal(t, "3", d.Version())
	require.Equal(t, "drb.v3.tool-data-iostat", d.TemplateName())
	require.Equal(t, "drb.v3.tool-data-iostat.*", d.IndexPattern())

	body, err := d.Body()
	require.NoError(t, err)
	require.JSONEq(t, `{
		"_meta": {"version": 3},
		"properties": {
			"@timestamp": {"type": "date"},
			"iostat": {"properties": {"disk": {"type": "keyword"}}},
			"authorization": {"properties": {"owner": {"type": "keyword"}, "access": {"type": "keyword"}}}
		}
	}`, marshal(t, body.Mappings))
	require.JSONEq(t, `{"properties": {"@timestamp": {"type": "date"}}}`, marshal(t, skeleton.Body()))

	name, err := d.GenerateIndexName(map[string]string{"@timestamp": "2021-06-15T01:02:03"}, "iostat")
	require.NoError(t, err)
	require.Equal(t, "drb.v3.tool-data-iostat.2021-06-15", name)
}

func TestDescriptor_ServerReportsAreNotOwned(t *testing.T) {
	dir := t.TempDir()
	mapping := writeFile(t, dir, "mappings/server-reports.json",
		`{"_meta": {"version": 2}, "properties": {"report": {"type": "text"}}}`, baseTime)
	settings := writeFile(t, dir, "settings/server-reports.json", `{}`, baseTime)

	d, err := New(Options{Prefix: "drb", Mappings: mapping, Settings: openDoc(t, settings)})
	require.NoError(t, err)
	require.NoError(t, d.Resolve(context.Background()))
	body, err := d.Body()
	require.NoError(t, err)
	require.NotContains(t, body.Mappings[domain.PropertiesKey], domain.AuthorizationProperty)
	require.Equal(t, "drb.v2.server-reports.{year}-{month}", d.IndexTemplate())
}

func TestNew_Errors(t *testing.T) {
	dir := runTree(t)
	settings := openDoc(t, filepath.Join(dir, "settings", "run.json"))
	bogus := writeFile(t, dir, "mappings/bogus.json", runMapping, baseTime)
	badTool := writeFile(t, dir, "mappings/tool-data-iostat.json", runMapping, baseTime)

	_, err := New(Options{Prefix: "drb", Mappings: bogus, Settings: settings})
	require.ErrorIs(t, err, domain.ErrInvalidTemplate)

	_, err = New(Options{Prefix: "drb", Mappings: badTool, Settings: settings, Tool: "tool-data"})
	require.ErrorIs(t, err, domain.ErrParse)

	_, err = New(Options{Prefix: "drb", Mappings: filepath.Join(dir, "mappings", "result-data.json"), Settings: settings})
	require.ErrorIs(t, err, domain.ErrSourceFile)

	_, err = New(Options{Mappings: filepath.Join(dir, "mappings", "run.json"), Settings: settings})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDescriptor_RequiresResolution(t *testing.T) {
	d := newRunDescriptor(t, runTree(t), nil)
	_, err := d.Body()
	require.ErrorIs(t, err, domain.ErrPrecondition)
	_, err = d.GenerateIndexName(map[string]any{"@timestamp": "2021-06-15"}, "")
	require.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestDescriptor_InvalidMappingFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mappings/run.json", `{"properties": {}}`, baseTime)
	writeFile(t, dir, "settings/run.json", `{}`, baseTime)

	d := newRunDescriptor(t, dir, cache.NewMemoryStore())
	err := d.Resolve(context.Background())
	require.ErrorIs(t, err, domain.ErrSchema)
	require.False(t, d.Resolved())
}

type fields map[string]any

func (f fields) Field(name string) (any, bool) {
	v, ok := f[name]
	return v, ok
}

func TestDescriptor_GenerateIndexNameSources(t *testing.T) {
	d := newRunDescriptor(t, runTree(t), nil)
	require.NoError(t, d.Resolve(context.Background()))

	cases := []struct {
		name   string
		source any
		want   string
		err    error
	}{
		{name: "map", source: map[string]any{"@timestamp": "2020-12-31T23:59:59"}, want: "drb.v1.run-data.2020-12"},
		{name: "string map", source: map[string]string{"@timestamp": "2020-01-02"}, want: "drb.v1.run-data.2020-01"},
		{name: "field source", source: fields{"@timestamp": "2019-03-04T00:00:00Z"}, want: "drb.v1.run-data.2019-03"},
		{name: "missing timestamp", source: map[string]any{"date": "2020-01-02"}, err: domain.ErrMissingTimestamp},
		{name: "numeric timestamp", source: map[string]any{"@timestamp": 1}, err: domain.ErrMalformedSource},
		{name: "no day", source: map[string]any{"@timestamp": "2020-01"}, err: domain.ErrMalformedSource},
		{name: "not a mapping", source: "2020-01-02", err: domain.ErrMalformedSource},
		{name: "nil", source: nil, err: domain.ErrMalformedSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.GenerateIndexName(tc.source, "")
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
