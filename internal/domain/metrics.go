package domain

import (
	"sort"
	"sync"
	"time"
)

// FailureReason labels a counted failure.
type FailureReason string

const (
	// FailureInvalidTemplateName counts lookups for an unknown family or tool.
	FailureInvalidTemplateName FailureReason = "invalid_template_name"
	// FailureMissingTimestamp counts source documents without @timestamp.
	FailureMissingTimestamp FailureReason = "ts_missing_at_timestamp"
	// FailureBadSource counts source documents that cannot be read.
	FailureBadSource FailureReason = "bad_source"
	// FailurePutTemplate counts template registrations rejected by the store.
	FailurePutTemplate FailureReason = "put_template_failures"
	// FailureResolve counts descriptors that failed to resolve.
	FailureResolve FailureReason = "resolve_failures"
)

// ResolveSource describes where a resolved template came from.
type ResolveSource string

const (
	ResolveSourceCache ResolveSource = "cache"
	ResolveSourceDisk  ResolveSource = "disk"
)

// Metrics records registry operations.
type Metrics interface {
	IncFailure(reason FailureReason)
	ObserveResolve(family Family, source ResolveSource)
	ObservePush(template string, duration time.Duration, retries int)
}

// Counters is an in-memory failure tally. It also implements Metrics.
type Counters struct {
	mu       sync.Mutex
	failures map[FailureReason]int
	resolved map[ResolveSource]int
	pushed   int
	retries  int
}

func NewCounters() *Counters {
	return &Counters{
		failures: make(map[FailureReason]int),
		resolved: make(map[ResolveSource]int),
	}
}

func (c *Counters) IncFailure(reason FailureReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[reason]++
}

func (c *Counters) ObserveResolve(_ Family, source ResolveSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved[source]++
}

func (c *Counters) ObservePush(_ string, _ time.Duration, retries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed++
	c.retries += retries
}

// Failures returns the tally for one reason.
func (c *Counters) Failures(reason FailureReason) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[reason]
}

// Resolved returns how many descriptors resolved from the given source.
func (c *Counters) Resolved(source ResolveSource) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved[source]
}

// Pushed returns the number of registrations and accumulated retries.
func (c *Counters) Pushed() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pushed, c.retries
}

// FailureSnapshot returns a copy of the failure tallies.
func (c *Counters) FailureSnapshot() map[FailureReason]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[FailureReason]int, len(c.failures))
	for k, v := range c.failures {
		out[k] = v
	}
	return out
}

// FailureReasons returns the reasons with a non-zero tally, sorted.
func (c *Counters) FailureReasons() []FailureReason {
	snapshot := c.FailureSnapshot()
	out := make([]FailureReason, 0, len(snapshot))
	for reason, count := range snapshot {
		if count > 0 {
			out = append(out, reason)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ Metrics = (*Counters)(nil)
