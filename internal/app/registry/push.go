package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/telemetry"
	"idxtmpl/internal/infra/template"
)

// PushSummary aggregates the store results of one PushAll batch.
type PushSummary struct {
	BatchID   string
	Start     time.Time
	End       time.Time
	Successes int
	Retries   int
	Templates []string
}

func (s PushSummary) Duration() time.Duration {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// PushAll registers every template with the store in template-name order. When target
// is not nil only templates of that family are pushed. The first failure aborts the
// batch.
func (r *Registry) PushAll(ctx context.Context, store domain.IndexStore, target *domain.Family) (PushSummary, error) {
	summary := PushSummary{BatchID: uuid.NewString()}
	logger := r.logger.With(telemetry.BatchIDField(summary.BatchID))

	for _, d := range r.byTemplateName() {
		if target != nil && d.Family() != *target {
			continue
		}
		name := d.TemplateName()
		body, err := d.Body()
		if err == nil {
			var result domain.PutResult
			result, err = store.PutTemplate(ctx, name, r.prefix+"-"+d.Name(), body)
			if err == nil {
				if summary.Start.IsZero() {
					summary.Start = result.Start
				}
				summary.End = result.End
				summary.Successes++
				summary.Retries += result.Retries
				summary.Templates = append(summary.Templates, name)
				r.metrics.ObservePush(name, result.End.Sub(result.Start), result.Retries)
				continue
			}
		}
		r.metrics.IncFailure(domain.FailurePutTemplate)
		logger.Error("template push failed",
			telemetry.EventField(telemetry.EventPushFailure),
			telemetry.TemplateField(name),
			zap.Error(err),
		)
		return summary, domain.E(domain.CodeRegistration, "registry.push", fmt.Sprintf("Tool %s update failed: %v", name, err), err)
	}

	r.logSummary(logger, summary)
	return summary, nil
}

func (r *Registry) logSummary(logger *zap.Logger, summary PushSummary) {
	if summary.Successes == 0 {
		logger.Info("no templates pushed", telemetry.EventField(telemetry.EventPushSummary))
		return
	}
	log := logger.Debug
	if summary.Retries > 0 {
		log = logger.Warn
	}
	log("done templates",
		telemetry.EventField(telemetry.EventPushSummary),
		zap.Time("start", summary.Start),
		zap.Time("end", summary.End),
		telemetry.DurationField(summary.Duration()),
		zap.Int("successes", summary.Successes),
		zap.Int("retries", summary.Retries),
	)
}

func (r *Registry) byTemplateName() []*template.Descriptor {
	out := r.Templates()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TemplateName() < out[j].TemplateName()
	})
	return out
}
