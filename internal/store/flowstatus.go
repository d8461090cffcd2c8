package store

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// FlowStatus is the recorded step tree of a flow job.
type FlowStatus struct {
	Step          int
	Modules       []FlowStatusModule
	FailureModule FlowStatusModule // nil when the flow has no failure module recorded
}

// FlowStatusModule is the outcome of one flow step.
// The set of implementations is closed; switch over the concrete types.
type FlowStatusModule interface {
	flowStatusModule()
}

// ModuleSuccess is a step that completed successfully. FlowJobs is non-nil when the
// step was itself a sub-flow; Job is then a container, not a duration contributor.
type ModuleSuccess struct {
	ID       string
	Job      uuid.UUID
	FlowJobs []uuid.UUID
}

// ModuleFailure is a step that failed.
type ModuleFailure struct {
	ID       string
	Job      uuid.UUID
	FlowJobs []uuid.UUID
}

// ModuleInProgress is a step whose job is still running.
type ModuleInProgress struct {
	ID       string
	Job      uuid.UUID
	FlowJobs []uuid.UUID
}

// ModuleWaitingForPriorSteps is a step that has not started.
type ModuleWaitingForPriorSteps struct {
	ID string
}

// ModuleWaitingForEvents is a step suspended until Count events arrive.
type ModuleWaitingForEvents struct {
	ID    string
	Count int
	Job   uuid.UUID
}

// ModuleWaitingForExecutor is a step queued but not yet claimed by a worker.
type ModuleWaitingForExecutor struct {
	ID  string
	Job uuid.UUID
}

func (ModuleSuccess) flowStatusModule()              {}
func (ModuleFailure) flowStatusModule()              {}
func (ModuleInProgress) flowStatusModule()           {}
func (ModuleWaitingForPriorSteps) flowStatusModule() {}
func (ModuleWaitingForEvents) flowStatusModule()     {}
func (ModuleWaitingForExecutor) flowStatusModule()   {}

type rawFlowStatus struct {
	Step          int               `json:"step"`
	Modules       []json.RawMessage `json:"modules"`
	FailureModule json.RawMessage   `json:"failure_module"`
}

type rawModule struct {
	Type     string      `json:"type"`
	ID       string      `json:"id"`
	Job      *uuid.UUID  `json:"job"`
	FlowJobs []uuid.UUID `json:"flow_jobs"`
	Count    int         `json:"count"`
}

// ParseFlowStatus decodes the JSON flow status recorded on a flow job.
// All failures wrap ErrFlowStatus.
func ParseFlowStatus(data json.RawMessage) (*FlowStatus, error) {
	if isNullJSON(data) {
		return nil, errors.Wrap(ErrFlowStatus, "flow status is empty")
	}

	var raw rawFlowStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode flow status"), ErrFlowStatus)
	}

	status := &FlowStatus{Step: raw.Step, Modules: make([]FlowStatusModule, 0, len(raw.Modules))}
	for i, m := range raw.Modules {
		module, err := parseModule(m)
		if err != nil {
			return nil, errors.Wrapf(err, "module %d", i)
		}
		status.Modules = append(status.Modules, module)
	}

	if !isNullJSON(raw.FailureModule) {
		module, err := parseModule(raw.FailureModule)
		if err != nil {
			return nil, errors.Wrap(err, "failure module")
		}
		status.FailureModule = module
	}

	return status, nil
}

func parseModule(data json.RawMessage) (FlowStatusModule, error) {
	var m rawModule
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode module"), ErrFlowStatus)
	}

	requireJob := func() (uuid.UUID, error) {
		if m.Job == nil {
			return uuid.Nil, errors.Wrapf(ErrFlowStatus, "%s module %q has no job", m.Type, m.ID)
		}
		return *m.Job, nil
	}

	switch m.Type {
	case "Success":
		job, err := requireJob()
		if err != nil {
			return nil, err
		}
		return ModuleSuccess{ID: m.ID, Job: job, FlowJobs: m.FlowJobs}, nil
	case "Failure":
		job, err := requireJob()
		if err != nil {
			return nil, err
		}
		return ModuleFailure{ID: m.ID, Job: job, FlowJobs: m.FlowJobs}, nil
	case "InProgress":
		job, err := requireJob()
		if err != nil {
			return nil, err
		}
		return ModuleInProgress{ID: m.ID, Job: job, FlowJobs: m.FlowJobs}, nil
	case "WaitingForPriorSteps":
		return ModuleWaitingForPriorSteps{ID: m.ID}, nil
	case "WaitingForEvents":
		var job uuid.UUID
		if m.Job != nil {
			job = *m.Job
		}
		return ModuleWaitingForEvents{ID: m.ID, Count: m.Count, Job: job}, nil
	case "WaitingForExecutor":
		job, err := requireJob()
		if err != nil {
			return nil, err
		}
		return ModuleWaitingForExecutor{ID: m.ID, Job: job}, nil
	default:
		return nil, errors.Wrapf(ErrFlowStatus, "unknown module type %q", m.Type)
	}
}

func isNullJSON(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
