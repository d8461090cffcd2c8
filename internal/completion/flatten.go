// Package completion moves finished jobs from the pending store to the terminal
// store and drives the schedules that triggered them.
package completion

import (
	"flowplane/internal/store"

	"github.com/google/uuid"
)

// FlattenJobs returns the ids of the jobs whose durations add up to the duration of
// a flow with the given step outcomes. A step that ran a sub-flow contributes the
// sub-flow's jobs instead of its own container job. Steps that did not finish
// contribute nothing.
func FlattenJobs(modules []store.FlowStatusModule) []uuid.UUID {
	var ids []uuid.UUID
	for _, m := range modules {
		switch m := m.(type) {
		case store.ModuleSuccess:
			ids = appendLeaves(ids, m.Job, m.FlowJobs)
		case store.ModuleFailure:
			ids = appendLeaves(ids, m.Job, m.FlowJobs)
		case store.ModuleInProgress, store.ModuleWaitingForPriorSteps,
			store.ModuleWaitingForEvents, store.ModuleWaitingForExecutor, nil:
		}
	}
	return ids
}

func appendLeaves(ids []uuid.UUID, job uuid.UUID, flowJobs []uuid.UUID) []uuid.UUID {
	if flowJobs != nil {
		return append(ids, flowJobs...)
	}
	return append(ids, job)
}

// flowModules lists the steps of status including the failure module, if any.
func flowModules(status *store.FlowStatus) []store.FlowStatusModule {
	if status.FailureModule == nil {
		return status.Modules
	}
	modules := make([]store.FlowStatusModule, 0, len(status.Modules)+1)
	modules = append(modules, status.Modules...)
	return append(modules, status.FailureModule)
}
