package models

import "time"

// ThreatAssessment is the verdict for one evaluated event.
type ThreatAssessment struct {
	IsThreat    bool
	ActionCount int
	Reason      string
}

// ItemResult is the outcome of one task inside a recovery batch.
type ItemResult struct {
	ID    string
	Name  string
	NewID string
	Err   error
}

func (r ItemResult) OK() bool {
	return r.Err == nil
}

// RecoveryResult is returned to the caller of every recovery operation.
// ItemsRecovered only counts tasks that completed successfully.
type RecoveryResult struct {
	RunID          string
	Success        bool
	Message        string
	ItemsRecovered int
	Items          []ItemResult
	Degraded       bool
	Err            error
	Duration       time.Duration
}

// Failed returns the items that did not complete.
func (r *RecoveryResult) Failed() []ItemResult {
	var failed []ItemResult
	for _, item := range r.Items {
		if !item.OK() {
			failed = append(failed, item)
		}
	}
	return failed
}

// Merge folds a stage result into a combined result.
func (r *RecoveryResult) Merge(stage *RecoveryResult) {
	if stage == nil {
		return
	}
	r.ItemsRecovered += stage.ItemsRecovered
	r.Items = append(r.Items, stage.Items...)
	r.Degraded = r.Degraded || stage.Degraded
}
