package metrics

import (
	"time"

	obserrors "github.com/bizmarket/analysis-pipeline/internal/observability/errors"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	AnalysisType string
	Transition   string
	Result       string
	Duration     time.Duration
	Err          error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"analysis_type": in.AnalysisType,
		"transition":    in.Transition,
		"result":        in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// AdmissionMetric describes one admission decision.
type AdmissionMetric struct {
	Action    string
	Allowed   bool
	LimitType string
	Plan      string
}

// EmitAdmission counts an admission decision.
func EmitAdmission(sink Sink, in AdmissionMetric) {
	if sink == nil {
		return
	}
	result := "allowed"
	if !in.Allowed {
		result = "rejected"
	}
	sink.Count("admission.decision", 1, map[string]string{
		"action":     in.Action,
		"result":     result,
		"limit_type": in.LimitType,
		"plan":       in.Plan,
	})
}

// EmitUsageCost records charged cost in micro-dollars so it fits an integer counter.
func EmitUsageCost(sink Sink, usageType, analysisType string, cost float64) {
	if sink == nil || cost <= 0 {
		return
	}
	sink.Count("usage.cost", int64(cost*1e6+0.5), map[string]string{
		"usage_type":    usageType,
		"analysis_type": analysisType,
	})
}
