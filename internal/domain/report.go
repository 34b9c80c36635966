package domain

// ProjectOutcome classifies how a project's cycle ended.
type ProjectOutcome string

const (
	OutcomeUpdated    ProjectOutcome = "updated"
	OutcomeUnchanged  ProjectOutcome = "unchanged"
	OutcomePending    ProjectOutcome = "pending"
	OutcomeFailed     ProjectOutcome = "failed"
	OutcomeRolledBack ProjectOutcome = "rolled_back"
)

// ProjectReport is the per-project entry of a run report.
type ProjectReport struct {
	Project   Project
	RunID     string
	Outcome   ProjectOutcome
	Plan      UpdatePlan
	Result    *DeploymentResult
	Recovered bool
	// Skipped lists services left untouched with the reason why.
	Skipped map[string]string
	Err     error
}

// RunReport aggregates the outcome of every project processed in one run.
type RunReport struct {
	Projects []ProjectReport
}

// Count returns how many projects ended with outcome.
func (r *RunReport) Count(outcome ProjectOutcome) int {
	n := 0
	for _, p := range r.Projects {
		if p.Outcome == outcome {
			n++
		}
	}
	return n
}

// HasFailures reports whether any project failed or had to be rolled back.
func (r *RunReport) HasFailures() bool {
	return r.Count(OutcomeFailed) > 0 || r.Count(OutcomeRolledBack) > 0
}
