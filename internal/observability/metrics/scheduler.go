// Package metrics defines shared metric tag values for scheduler telemetry.
package metrics

// Result tag values emitted with scheduler metrics.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metric names emitted by the scheduling core.
const (
	MetricScheduleFire    = "scheduler.fire"
	MetricInvoke          = "scheduler.invoke"
	MetricEpisodeAttempt  = "scheduler.report_attempt"
	MetricEpisodeOutcome  = "scheduler.report_outcome"
	MetricEpisodeDuration = "scheduler.report_duration"
	MetricNotifySend      = "scheduler.notify"
)

// CloneTags returns a shallow copy so emitters can mutate tag maps safely.
func CloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	cloned := make(map[string]string, len(tags))
	for k, v := range tags {
		cloned[k] = v
	}
	return cloned
}
