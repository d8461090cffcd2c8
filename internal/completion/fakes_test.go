package completion

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"flowplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type usageRecord struct {
	Key         string
	IsWorkspace bool
	Month       int
	Units       int64
}

type resolvedHandler struct {
	Payload store.JobPayload
	Tag     *string
}

// MockStores is an in-memory implementation of every store the engine uses.
// Writes made through a unit of work are applied only when it commits;
// DisableSchedule applies immediately like the real independent write.
type MockStores struct {
	mu sync.Mutex

	Pending   map[uuid.UUID]*store.PendingJob
	Completed map[uuid.UUID]*store.CompletedJob
	Schedules map[string]*store.Schedule
	Handlers  map[string]resolvedHandler
	Premium   map[string]bool
	Usage     []usageRecord
	MemPeaks  map[uuid.UUID]int32

	// Pushed holds committed pushes in order; Occurrences counts committed next-occurrence pushes.
	Pushed      []store.PushRequest
	Occurrences int

	UpsertOverrides []*int64

	UpsertErr    error
	PeekErr      error
	SumErr       error
	PushErr      error
	PushNextErr  error
	DisableErr   error
	GetSchedErr  error
	UsageErr     error
	DisableCalls int
}

var (
	_ store.PendingStore   = (*MockStores)(nil)
	_ store.CompletedStore = (*MockStores)(nil)
	_ store.ScheduleStore  = (*MockStores)(nil)
	_ store.ScriptStore    = (*MockStores)(nil)
	_ store.UsageStore     = (*MockStores)(nil)
)

func NewMockStores() *MockStores {
	return &MockStores{
		Pending:   make(map[uuid.UUID]*store.PendingJob),
		Completed: make(map[uuid.UUID]*store.CompletedJob),
		Schedules: make(map[string]*store.Schedule),
		Handlers:  make(map[string]resolvedHandler),
		Premium:   make(map[string]bool),
		MemPeaks:  make(map[uuid.UUID]int32),
	}
}

func scheduleKey(workspaceID, path string) string { return workspaceID + "/" + path }

func (m *MockStores) AddPending(job *store.PendingJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pending[job.ID] = job
}

func (m *MockStores) AddSchedule(s *store.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Schedules[scheduleKey(s.WorkspaceID, s.Path)] = s
}

func (m *MockStores) Schedule(workspaceID, path string) store.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.Schedules[scheduleKey(workspaceID, path)]
}

func (m *MockStores) HasPending(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Pending[id]
	return ok
}

func (m *MockStores) CompletedJob(id uuid.UUID) (*store.CompletedJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.Completed[id]
	return j, ok
}

// PendingStore

func (m *MockStores) GetPendingJob(ctx context.Context, id uuid.UUID) (*store.PendingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.Pending[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "pending job %s", id)
	}
	return j, nil
}

func (m *MockStores) PeekMemPeak(ctx context.Context, id uuid.UUID) (*int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PeekErr != nil {
		return nil, m.PeekErr
	}
	if v, ok := m.MemPeaks[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (m *MockStores) Delete(ctx context.Context, tx store.QueueTx, job *store.PendingJob) error {
	tx.NotifyDeleted(job.Tag, job.ID)
	tx.AfterCommit(func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.Pending, job.ID)
	})
	return nil
}

func (m *MockStores) Push(ctx context.Context, tx store.QueueTx, req store.PushRequest) (uuid.UUID, error) {
	m.mu.Lock()
	err := m.PushErr
	m.mu.Unlock()
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	tag := req.Payload.Kind.DefaultTag()
	if req.Tag != nil {
		tag = *req.Tag
	}
	tx.NotifyPushed(tag, id)
	tx.AfterCommit(func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Pushed = append(m.Pushed, req)
		m.Pending[id] = &store.PendingJob{ID: id, WorkspaceID: req.WorkspaceID, Args: req.Args, Tag: tag, Kind: req.Payload.Kind}
	})
	return id, nil
}

func (m *MockStores) DequeueBatch(ctx context.Context, tags []string, limit int, lease time.Duration) ([]*store.PendingJob, error) {
	return nil, nil
}

func (m *MockStores) Heartbeat(ctx context.Context, id uuid.UUID, visibleAfter time.Time, memPeak *int32) error {
	return nil
}

// CompletedStore

func (m *MockStores) Upsert(ctx context.Context, tx store.QueueTx, job *store.CompletedJob) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return 0, false, m.UpsertErr
	}
	m.UpsertOverrides = append(m.UpsertOverrides, job.DurationMs)

	var duration int64
	if job.DurationMs != nil {
		duration = *job.DurationMs
	} else if job.StartedAt != nil {
		duration = time.Since(*job.StartedAt).Milliseconds()
	}
	existing, exists := m.Completed[job.ID]
	if exists && existing.DurationMs != nil {
		duration = *existing.DurationMs
	}

	row := *job
	row.DurationMs = &duration
	tx.AfterCommit(func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.Completed[row.ID]; ok {
			existing.Success = row.Success
			existing.Result = row.Result
			existing.Logs += row.Logs
			return
		}
		m.Completed[row.ID] = &row
	})
	return duration, !exists, nil
}

func (m *MockStores) SumDurations(ctx context.Context, ids []uuid.UUID) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SumErr != nil {
		return nil, m.SumErr
	}
	var total int64
	var found bool
	for _, id := range ids {
		if j, ok := m.Completed[id]; ok && j.DurationMs != nil {
			total += *j.DurationMs
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return &total, nil
}

func (m *MockStores) GetCompletedJob(ctx context.Context, id uuid.UUID) (*store.CompletedJob, error) {
	j, ok := m.CompletedJob(id)
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "completed job %s", id)
	}
	return j, nil
}

// ScheduleStore

func (m *MockStores) GetSchedule(ctx context.Context, tx store.DBTransaction, workspaceID, path string) (*store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetSchedErr != nil {
		return nil, m.GetSchedErr
	}
	s, ok := m.Schedules[scheduleKey(workspaceID, path)]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "schedule %s/%s", workspaceID, path)
	}
	cp := *s
	return &cp, nil
}

func (m *MockStores) DisableSchedule(ctx context.Context, workspaceID, path, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisableCalls++
	if m.DisableErr != nil {
		return m.DisableErr
	}
	s, ok := m.Schedules[scheduleKey(workspaceID, path)]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "schedule %s/%s", workspaceID, path)
	}
	s.Enabled = false
	s.Error = &reason
	return nil
}

func (m *MockStores) EnableSchedule(ctx context.Context, tx store.QueueTx, workspaceID, path string) error {
	m.mu.Lock()
	_, ok := m.Schedules[scheduleKey(workspaceID, path)]
	m.mu.Unlock()
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "schedule %s/%s", workspaceID, path)
	}
	tx.AfterCommit(func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		s := m.Schedules[scheduleKey(workspaceID, path)]
		s.Enabled = true
		s.Error = nil
	})
	return nil
}

func (m *MockStores) PushNextOccurrence(ctx context.Context, tx store.QueueTx, schedule *store.Schedule) (uuid.UUID, error) {
	m.mu.Lock()
	err := m.PushNextErr
	m.mu.Unlock()
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	tx.NotifyPushed("default", id)
	tx.AfterCommit(func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Occurrences++
		path := schedule.Path
		m.Pending[id] = &store.PendingJob{ID: id, WorkspaceID: schedule.WorkspaceID, SchedulePath: &path, Tag: "default"}
	})
	return id, nil
}

// ScriptStore

func (m *MockStores) ResolvePayload(ctx context.Context, tx store.DBTransaction, workspaceID, prefixedPath string) (store.JobPayload, *string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.Handlers[prefixedPath]
	if !ok {
		return store.JobPayload{}, nil, errors.Wrapf(store.ErrNotFound, "handler %s", prefixedPath)
	}
	return h.Payload, h.Tag, nil
}

// UsageStore

func (m *MockStores) IsPremiumWorkspace(ctx context.Context, workspaceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Premium[workspaceID], nil
}

func (m *MockStores) RecordUsage(ctx context.Context, key string, isWorkspace bool, month int, units int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UsageErr != nil {
		return m.UsageErr
	}
	m.Usage = append(m.Usage, usageRecord{Key: key, IsWorkspace: isWorkspace, Month: month, Units: units})
	return nil
}

// MockMetrics records counter increments.
type MockMetrics struct {
	mu     sync.Mutex
	Counts map[string]int
}

func (m *MockMetrics) Inc(ctx context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Counts == nil {
		m.Counts = make(map[string]int)
	}
	m.Counts[name]++
}

func (m *MockMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counts[name]
}

type harness struct {
	stores   *MockStores
	metrics  *MockMetrics
	mock     sqlmock.Sqlmock
	db       *sql.DB
	recorder *Recorder
}

func newHarness(t *testing.T, cloudHosted bool) *harness {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stores := NewMockStores()
	metrics := &MockMetrics{}
	escalator := NewEscalator(stores, stores, nil)
	coordinator := NewCoordinator(stores, escalator, nil)

	recorder := NewRecorder(RecorderConfig{
		DB:          db,
		Pending:     stores,
		Completed:   stores,
		Coordinator: coordinator,
		Meter:       NewMeter(stores, cloudHosted, nil),
		Metrics:     metrics,
	})

	return &harness{stores: stores, metrics: metrics, mock: mock, db: db, recorder: recorder}
}

func (h *harness) expectCommit() {
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
}

func (h *harness) expectRollback() {
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
}
