package completion

import (
	"context"
	"time"

	"flowplane/internal/logger"
	"flowplane/internal/store"

	"go.uber.org/zap"
)

// billableThresholdMs is the duration at or below which a run is free.
const billableThresholdMs = 1000

// UsageUnits converts a run duration into billed seconds, rounded up.
// Runs of one second or less are not billed.
func UsageUnits(durationMs int64) int64 {
	if durationMs <= billableThresholdMs {
		return 0
	}
	return (durationMs + 999) / 1000
}

// MonthKey identifies the billing month of t.
func MonthKey(t time.Time) int {
	t = t.UTC()
	return t.Year()*12 + int(t.Month())
}

// Meter records execution usage. All failures are logged and swallowed.
type Meter struct {
	usage       store.UsageStore
	cloudHosted bool
	now         func() time.Time
	log         *zap.SugaredLogger
}

// NewMeter creates a Meter. Workspace billing only applies when cloudHosted is set.
func NewMeter(usage store.UsageStore, cloudHosted bool, log *zap.SugaredLogger) *Meter {
	return &Meter{usage: usage, cloudHosted: cloudHosted, now: time.Now, log: logger.OrNop(log)}
}

// Record bills durationMs of job to its workspace when the workspace pays for its
// runs, otherwise to the submitting principal.
func (m *Meter) Record(ctx context.Context, job *store.PendingJob, durationMs int64) {
	units := UsageUnits(durationMs)
	if units == 0 {
		return
	}

	key, isWorkspace := job.Email, false
	if m.cloudHosted {
		premium, err := m.usage.IsPremiumWorkspace(ctx, job.WorkspaceID)
		if err != nil {
			m.log.Warnw("Could not look up workspace plan, billing principal",
				"workspace_id", job.WorkspaceID, "job_id", job.ID, "error", err)
		} else if premium {
			key, isWorkspace = job.WorkspaceID, true
		}
	}

	if err := m.usage.RecordUsage(ctx, key, isWorkspace, MonthKey(m.now()), units); err != nil {
		m.log.Warnw("Failed to record usage",
			"job_id", job.ID, "key", key, "is_workspace", isWorkspace, "units", units, "error", err)
	}
}
