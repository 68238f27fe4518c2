package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldTemplate   = "template"
	FieldFamily     = "family"
	FieldTool       = "tool"
	FieldVersion    = "version"
	FieldSource     = "source"
	FieldFile       = "file"
	FieldBatchID    = "batch_id"
	FieldDurationMs = "duration_ms"
)

const (
	EventResolveCache    = "resolve_cache"
	EventResolveDisk     = "resolve_disk"
	EventCacheCreate     = "cache_create"
	EventCacheUpdate     = "cache_update"
	EventCacheConflict   = "cache_conflict"
	EventCacheForeign    = "cache_foreign_prefix"
	EventPushSuccess     = "push_success"
	EventPushFailure     = "push_failure"
	EventPushSummary     = "push_summary"
	EventSourceChanged   = "source_changed"
	EventLookupFailure   = "lookup_failure"
	EventTemplateSkipped = "template_skipped"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func TemplateField(name string) zap.Field {
	return zap.String(FieldTemplate, name)
}

func FamilyField(family string) zap.Field {
	return zap.String(FieldFamily, family)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func VersionField(version string) zap.Field {
	return zap.String(FieldVersion, version)
}

func SourceField(source string) zap.Field {
	return zap.String(FieldSource, source)
}

func FileField(path string) zap.Field {
	return zap.String(FieldFile, path)
}

func BatchIDField(id string) zap.Field {
	return zap.String(FieldBatchID, id)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}
