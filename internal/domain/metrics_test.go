package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	c := NewCounters()
	c.IncFailure(FailureBadSource)
	c.IncFailure(FailureBadSource)
	c.IncFailure(FailureInvalidTemplateName)
	c.ObserveResolve(FamilyRun, ResolveSourceCache)
	c.ObservePush("drb.v1.run-data", time.Second, 2)
	c.ObservePush("drb.v1.run-toc", time.Second, 1)

	require.Equal(t, 2, c.Failures(FailureBadSource))
	require.Equal(t, 0, c.Failures(FailurePutTemplate))
	require.Equal(t, 1, c.Resolved(ResolveSourceCache))
	pushed, retries := c.Pushed()
	require.Equal(t, 2, pushed)
	require.Equal(t, 3, retries)
	require.Equal(t, []FailureReason{FailureBadSource, FailureInvalidTemplateName}, c.FailureReasons())
}

func TestCacheEntry_FreshFor(t *testing.T) {
	at := time.Date(2021, 1, 29, 0, 0, 0, 0, time.UTC)
	entry := CacheEntry{Name: "run", IndexTemplate: "drb.v1.run.{year}-{month}", MTime: at}
	require.True(t, entry.FreshFor(at))
	require.True(t, entry.FreshFor(at.Add(-time.Second)))
	require.False(t, entry.FreshFor(at.Add(time.Second)))
	require.Equal(t, "run: drb.v1.run.{year}-{month}", entry.String())
}
