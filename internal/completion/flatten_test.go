package completion

import (
	"testing"

	"flowplane/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFlattenJobs(t *testing.T) {
	j1, j2, j3, j4, j5 := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()

	ids := FlattenJobs([]store.FlowStatusModule{
		store.ModuleSuccess{ID: "a", Job: j1},
		store.ModuleSuccess{ID: "b", Job: j2, FlowJobs: []uuid.UUID{j3, j4}},
		store.ModuleFailure{ID: "c", Job: j5},
		store.ModuleInProgress{ID: "d", Job: uuid.New()},
		store.ModuleWaitingForPriorSteps{ID: "e"},
		store.ModuleWaitingForEvents{ID: "f", Count: 1},
		store.ModuleWaitingForExecutor{ID: "g", Job: uuid.New()},
	})

	assert.ElementsMatch(t, []uuid.UUID{j1, j3, j4, j5}, ids)
}

func TestFlattenJobs_EmptySubFlowContributesNothing(t *testing.T) {
	ids := FlattenJobs([]store.FlowStatusModule{
		store.ModuleSuccess{ID: "a", Job: uuid.New(), FlowJobs: []uuid.UUID{}},
	})
	assert.Empty(t, ids)
}

func TestFlattenJobs_Empty(t *testing.T) {
	assert.Empty(t, FlattenJobs(nil))
}

func TestFlowModules_AppendsFailureModule(t *testing.T) {
	failure := store.ModuleFailure{ID: "failure", Job: uuid.New()}
	status := &store.FlowStatus{
		Modules:       []store.FlowStatusModule{store.ModuleSuccess{ID: "a", Job: uuid.New()}},
		FailureModule: failure,
	}

	modules := flowModules(status)
	assert.Len(t, modules, 2)
	assert.Equal(t, failure, modules[1])
	assert.Len(t, status.Modules, 1)
}
