package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// mockStore implements Store.
type mockStore struct {
	pingErr error

	pending      map[uuid.UUID]*store.PendingJob
	completed    map[uuid.UUID]*store.CompletedJob
	getPending   error
	getCompleted error
}

func newMockStore() *mockStore {
	return &mockStore{
		pending:   make(map[uuid.UUID]*store.PendingJob),
		completed: make(map[uuid.UUID]*store.CompletedJob),
	}
}

func (m *mockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockStore) GetPendingJob(ctx context.Context, id uuid.UUID) (*store.PendingJob, error) {
	if m.getPending != nil {
		return nil, m.getPending
	}
	if job, ok := m.pending[id]; ok {
		return job, nil
	}
	return nil, errors.Wrapf(store.ErrNotFound, "pending job %s", id)
}

func (m *mockStore) GetCompletedJob(ctx context.Context, id uuid.UUID) (*store.CompletedJob, error) {
	if m.getCompleted != nil {
		return nil, m.getCompleted
	}
	if job, ok := m.completed[id]; ok {
		return job, nil
	}
	return nil, errors.Wrapf(store.ErrNotFound, "completed job %s", id)
}

// mockEngine implements Engine.
type mockEngine struct {
	mu sync.Mutex

	finalizeErr error
	failed      []uuid.UUID
	causes      []error

	resumeID  uuid.UUID
	resumeErr error
	resumed   []string
}

func (m *mockEngine) FinalizeError(ctx context.Context, job *store.PendingJob, logs string, cause error) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return nil, m.finalizeErr
	}
	m.failed = append(m.failed, job.ID)
	m.causes = append(m.causes, cause)
	return json.RawMessage(`{"error":{"message":"` + cause.Error() + `","name":"Canceled"}}`), nil
}

func (m *mockEngine) ResumeSchedule(ctx context.Context, workspaceID, path string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumeErr != nil {
		return uuid.Nil, m.resumeErr
	}
	m.resumed = append(m.resumed, workspaceID+"/"+path)
	return m.resumeID, nil
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(ctx context.Context) error { return m.err }
