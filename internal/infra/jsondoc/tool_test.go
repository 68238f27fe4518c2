package jsondoc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"idxtmpl/internal/domain"
)

func TestToolDocument_LoadSequestersMeta(t *testing.T) {
	dir := t.TempDir()
	doc, err := NewTool(writeJSON(t, dir, "mapping.json", `{"_meta": {"version": 6}}`))
	require.NoError(t, err)
	require.Nil(t, doc.Body())

	already, err := doc.Load()
	require.NoError(t, err)
	require.False(t, already)

	version, err := doc.Version()
	require.NoError(t, err)
	require.Equal(t, "6", version)

	require.Empty(t, doc.Body())
	require.NotContains(t, doc.Body(), "_meta")
	requireBodyJSON(t, `{"version": 6}`, doc.Meta())

	already, err = doc.Load()
	require.NoError(t, err)
	require.True(t, already)
}

func TestToolDocument_LoadMissingMeta(t *testing.T) {
	dir := t.TempDir()
	doc, err := NewTool(writeJSON(t, dir, "tool-data-frag-vmstat.json", `{"vmstat": {}}`))
	require.NoError(t, err)
	_, err = doc.Load()
	require.ErrorIs(t, err, domain.ErrSchema)
	require.Contains(t, err.Error(), "tool-data-frag-vmstat.json")
	require.False(t, doc.Loaded())
}

func TestToolDocument_Merge(t *testing.T) {
	dir := t.TempDir()
	tool, err := NewTool(writeJSON(t, dir, "mapping.json",
		`{"_meta": {"version": 6}, "iostat": {"run": "far and fast"}}`))
	require.NoError(t, err)
	base, err := New(writeJSON(t, dir, "tool.json", `{"properties": {"@meta": "at meta friend"}}`))
	require.NoError(t, err)

	_, err = tool.Load()
	require.NoError(t, err)
	_, err = base.Load()
	require.NoError(t, err)

	require.NoError(t, tool.Merge("tool", base))
	version, err := tool.Version()
	require.NoError(t, err)
	require.Equal(t, "6", version)
	requireBodyJSON(t, `{
		"_meta": {"version": 6},
		"properties": {
			"@meta": "at meta friend",
			"tool": {"iostat": {"run": "far and fast"}}
		}
	}`, tool.Body())

	// The shared skeleton is untouched.
	requireBodyJSON(t, `{"properties": {"@meta": "at meta friend"}}`, base.Body())

	// A second merge does not nest again.
	require.NoError(t, tool.Merge("tool", base))
	require.Len(t, tool.Body()["properties"].(map[string]any), 2)
}

func TestToolDocument_MergeRequiresLoadedBase(t *testing.T) {
	dir := t.TempDir()
	tool, err := NewTool(writeJSON(t, dir, "frag.json", `{"_meta": {"version": 1}, "x": {}}`))
	require.NoError(t, err)
	base, err := New(writeJSON(t, dir, "skel.json", `{"properties": {}}`))
	require.NoError(t, err)

	require.ErrorIs(t, tool.Merge("x", base), domain.ErrPrecondition)
	_, err = tool.Load()
	require.NoError(t, err)
	require.ErrorIs(t, tool.Merge("x", base), domain.ErrPrecondition)
}

func TestToolDocument_MergeSkeletonWithoutProperties(t *testing.T) {
	dir := t.TempDir()
	tool, err := NewTool(writeJSON(t, dir, "frag.json", `{"_meta": {"version": 1}, "x": {}}`))
	require.NoError(t, err)
	base, err := New(writeJSON(t, dir, "skel.json", `{"dynamic": false}`))
	require.NoError(t, err)
	_, err = tool.Load()
	require.NoError(t, err)
	_, err = base.Load()
	require.NoError(t, err)

	require.ErrorIs(t, tool.Merge("x", base), domain.ErrSchema)
	requireBodyJSON(t, `{"x": {}}`, tool.Body())
}
