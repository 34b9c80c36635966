package domain

import "fmt"

// DeploymentState tracks one project's update cycle.
type DeploymentState string

const (
	StatePlanned         DeploymentState = "planned"
	StatePulled          DeploymentState = "pulled"
	StateBackedUp        DeploymentState = "backed_up"
	StateTornDown        DeploymentState = "torn_down"
	StateManifestUpdated DeploymentState = "manifest_updated"
	StateRedeployed      DeploymentState = "redeployed"
	StateCleanedUp       DeploymentState = "cleaned_up"
	StateRolledBack      DeploymentState = "rolled_back"
)

var deploymentTransitions = map[DeploymentState][]DeploymentState{
	StatePlanned:         {StatePulled},
	StatePulled:          {StateBackedUp},
	StateBackedUp:        {StateTornDown, StateRolledBack},
	StateTornDown:        {StateManifestUpdated, StateRolledBack},
	StateManifestUpdated: {StateRedeployed, StateRolledBack},
	StateRedeployed:      {StateCleanedUp, StateRolledBack},
}

// CanTransition reports whether the cycle may move from s to next.
func (s DeploymentState) CanTransition(next DeploymentState) bool {
	for _, allowed := range deploymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Mutating reports whether the manifest may differ from its backup in this
// state, i.e. whether a failure must roll back.
func (s DeploymentState) Mutating() bool {
	switch s {
	case StateBackedUp, StateTornDown, StateManifestUpdated, StateRedeployed:
		return true
	}
	return false
}

// Terminal reports whether the cycle has finished.
func (s DeploymentState) Terminal() bool {
	return s == StateCleanedUp || s == StateRolledBack
}

// DeploymentResult describes what one update cycle did to a project.
type DeploymentResult struct {
	Project     string
	State       DeploymentState
	Updated     []string
	RolledBack  bool
	BackupPaths []string
	Pruned      PruneReport
}

// Advance moves the result to next, refusing transitions the cycle does not allow.
func (r *DeploymentResult) Advance(next DeploymentState) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("invalid deployment transition %s -> %s", r.State, next)
	}
	r.State = next
	if next == StateRolledBack {
		r.RolledBack = true
	}
	return nil
}

// PruneReport summarizes a dangling image cleanup.
type PruneReport struct {
	DeletedIDs     []string
	SpaceReclaimed uint64
}
